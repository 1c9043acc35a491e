package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

type Dialect string

const (
	DialectPostgres Dialect = "pgx"
	DialectSQLite   Dialect = "sqlite"
)

// SQL stores projects and fragments in Postgres or SQLite through
// database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect

	schemaOnce sync.Once
	schemaErr  error
}

// OpenSQL opens a database with the given driver and prepares the schema.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// a shared in-memory database only exists on a single connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	s := NewSQL(db, dialect)
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL wraps an existing handle. The schema is created lazily.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

func (s *SQL) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		for _, stmt := range []string{
			`CREATE TABLE IF NOT EXISTS projects (
  id TEXT PRIMARY KEY,
  installation_id BIGINT NOT NULL DEFAULT 0,
  repo TEXT NOT NULL DEFAULT '',
  last_pr_url TEXT NOT NULL DEFAULT '',
  last_deployment_url TEXT NOT NULL DEFAULT '',
  updated_at BIGINT NOT NULL DEFAULT 0
)`,
			`CREATE TABLE IF NOT EXISTS fragments (
  id TEXT PRIMARY KEY,
  project_id TEXT NOT NULL,
  files TEXT,
  created_at BIGINT NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_fragments_project_created ON fragments (project_id, created_at)`,
		} {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.schemaErr = fmt.Errorf("ensure schema: %w", err)
				return
			}
		}
	})
	return s.schemaErr
}

// rebind rewrites ? placeholders to $N for Postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const projectColumns = `id, installation_id, repo, last_pr_url, last_deployment_url, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.InstallationID, &p.Repo, &p.LastPRURL, &p.LastDeploymentURL, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Project{}, ErrNotFound
	}
	return p, err
}

func (s *SQL) GetProject(ctx context.Context, id string) (Project, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Project{}, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+projectColumns+` FROM projects WHERE id = ?`), id)
	return scanProject(row)
}

func (s *SQL) PutProject(ctx context.Context, p Project) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.rebind(`
INSERT INTO projects (`+projectColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id)
DO UPDATE SET installation_id = EXCLUDED.installation_id,
  repo = EXCLUDED.repo,
  last_pr_url = EXCLUDED.last_pr_url,
  last_deployment_url = EXCLUDED.last_deployment_url,
  updated_at = EXCLUDED.updated_at`),
		p.ID, p.InstallationID, p.Repo, p.LastPRURL, p.LastDeploymentURL, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, err)
	}
	return nil
}

func (s *SQL) UpdateProject(ctx context.Context, id string, fn func(*Project)) (Project, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Project{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Project{}, err
	}
	defer func() { _ = tx.Rollback() }()

	q := `SELECT ` + projectColumns + ` FROM projects WHERE id = ?`
	if s.dialect == DialectPostgres {
		q += ` FOR UPDATE`
	}
	cur, err := scanProject(tx.QueryRowContext(ctx, s.rebind(q), id))
	if err != nil {
		return Project{}, err
	}
	fn(&cur)
	cur.ID = id
	cur.UpdatedAt = time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, s.rebind(`
UPDATE projects
SET installation_id = ?, repo = ?, last_pr_url = ?, last_deployment_url = ?, updated_at = ?
WHERE id = ?`),
		cur.InstallationID, cur.Repo, cur.LastPRURL, cur.LastDeploymentURL, cur.UpdatedAt, id)
	if err != nil {
		return Project{}, fmt.Errorf("update project %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Project{}, err
	}
	return cur, nil
}

func (s *SQL) AddFragment(ctx context.Context, f Fragment) (Fragment, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Fragment{}, err
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixNano()
	}
	var files any
	if hasFiles(f.Files) {
		files = string(f.Files)
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO fragments (id, project_id, files, created_at) VALUES (?, ?, ?, ?)`),
		f.ID, f.ProjectID, files, f.CreatedAt)
	if err != nil {
		return Fragment{}, fmt.Errorf("add fragment: %w", err)
	}
	return f, nil
}

// LatestFragment always reads through: fragments are written by other
// processes sharing the database.
func (s *SQL) LatestFragment(ctx context.Context, projectID string) (Fragment, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return Fragment{}, err
	}
	row := s.db.QueryRowContext(ctx, s.rebind(`
SELECT id, project_id, files, created_at FROM fragments
WHERE project_id = ? AND files IS NOT NULL
ORDER BY created_at DESC LIMIT 1`), projectID)
	f, err := scanFragment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Fragment{}, ErrNotFound
	}
	if err != nil {
		return Fragment{}, err
	}
	return f, nil
}

func (s *SQL) ListFragments(ctx context.Context, projectID string) ([]Fragment, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, project_id, files, created_at FROM fragments
WHERE project_id = ? AND files IS NOT NULL
ORDER BY created_at ASC`), projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Fragment
	for rows.Next() {
		f, err := scanFragment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func scanFragment(row rowScanner) (Fragment, error) {
	var (
		f     Fragment
		files sql.NullString
	)
	if err := row.Scan(&f.ID, &f.ProjectID, &files, &f.CreatedAt); err != nil {
		return Fragment{}, err
	}
	if files.Valid {
		f.Files = []byte(files.String)
	}
	return f, nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
