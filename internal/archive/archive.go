// Package archive keeps copies of published file sets in object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shaun/publisher/internal/files"
)

var ErrNotFound = errors.New("snapshot not found")

// Snapshot is one archived file set.
type Snapshot struct {
	ProjectID string        `json:"projectId"`
	Repo      string        `json:"repo"`
	Digest    string        `json:"digest"`
	CreatedAt time.Time     `json:"createdAt"`
	Files     files.FileMap `json:"files"`
}

// Archiver stores and fetches snapshots keyed by project and digest.
type Archiver interface {
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, projectID, digest string) (Snapshot, error)
}

// ObjectKey is where a snapshot lives inside the bucket.
func ObjectKey(projectID, digest string) string {
	p := strings.Trim(strings.TrimSpace(projectID), "/")
	if p == "" {
		p = "_adhoc"
	}
	return "snapshots/" + p + "/" + digest + ".json"
}

func validate(s Snapshot) error {
	if s.Digest == "" {
		return fmt.Errorf("snapshot digest is required")
	}
	return nil
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Put(context.Context, Snapshot) error { return nil }

func (Nop) Get(context.Context, string, string) (Snapshot, error) {
	return Snapshot{}, ErrNotFound
}

// Memory keeps snapshots in a map.
type Memory struct {
	mu    sync.Mutex
	items map[string]Snapshot
}

func NewMemory() *Memory { return &Memory{items: map[string]Snapshot{}} }

func (m *Memory) Put(_ context.Context, s Snapshot) error {
	if err := validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Files = s.Files.Clone()
	m.items[ObjectKey(s.ProjectID, s.Digest)] = s
	return nil
}

func (m *Memory) Get(_ context.Context, projectID, digest string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[ObjectKey(projectID, digest)]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

// Len reports how many snapshots are held.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
