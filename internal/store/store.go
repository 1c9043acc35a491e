// Package store persists projects and the generated file fragments attached
// to them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("not found")

// Project links a generated project to its GitHub installation and target
// repository.
type Project struct {
	ID                string `json:"id"`
	InstallationID    int64  `json:"installationId,omitempty"`
	Repo              string `json:"repo,omitempty"` // owner/name
	LastPRURL         string `json:"lastPrUrl,omitempty"`
	LastDeploymentURL string `json:"lastDeploymentUrl,omitempty"`
	UpdatedAt         int64  `json:"updatedAt"`
}

// Fragment is one generation's worth of files, kept in whatever shape the
// generator produced.
type Fragment struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"projectId"`
	Files     json.RawMessage `json:"files"`
	CreatedAt int64           `json:"createdAt"` // unix nanoseconds
}

type Store interface {
	GetProject(ctx context.Context, id string) (Project, error)
	// PutProject inserts or replaces a project.
	PutProject(ctx context.Context, p Project) error
	// UpdateProject applies fn to the stored project atomically. It returns
	// ErrNotFound when the project does not exist.
	UpdateProject(ctx context.Context, id string, fn func(*Project)) (Project, error)
	AddFragment(ctx context.Context, f Fragment) (Fragment, error)
	// LatestFragment returns the most recently created fragment that carries
	// files.
	LatestFragment(ctx context.Context, projectID string) (Fragment, error)
	// ListFragments returns file-bearing fragments oldest first.
	ListFragments(ctx context.Context, projectID string) ([]Fragment, error)
	Close() error
}

// Open picks a backend from the DSN: empty for in-memory, postgres:// or
// postgresql:// for Postgres, sqlite: or file: for SQLite.
func Open(ctx context.Context, dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	var (
		dialect Dialect
		source  string
	)
	switch {
	case dsn == "":
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		dialect, source = DialectPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite:"):
		dialect, source = DialectSQLite, strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "//")
	case strings.HasPrefix(dsn, "file:"):
		dialect, source = DialectSQLite, dsn
	default:
		return nil, fmt.Errorf("unsupported store dsn %q", redact(dsn))
	}
	s, err := OpenSQL(ctx, dialect, source)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func hasFiles(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null"
}

func sortByCreated(frags []Fragment) {
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].CreatedAt < frags[j].CreatedAt })
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}
