package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory keeps everything in process maps. It is the default backend when no
// DSN is configured.
type Memory struct {
	mu        sync.RWMutex
	projects  map[string]*Project
	fragments map[string][]Fragment // per project, insertion order
}

func NewMemory() *Memory {
	return &Memory{
		projects:  make(map[string]*Project),
		fragments: make(map[string][]Fragment),
	}
}

func (s *Memory) GetProject(_ context.Context, id string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return *p, nil
}

func (s *Memory) PutProject(_ context.Context, p Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UnixMilli()
	s.projects[p.ID] = &p
	return nil
}

func (s *Memory) UpdateProject(_ context.Context, id string, fn func(*Project)) (Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	next := *p
	fn(&next)
	next.ID = id
	next.UpdatedAt = time.Now().UnixMilli()
	s.projects[id] = &next
	return next, nil
}

func (s *Memory) AddFragment(_ context.Context, f Fragment) (Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().UnixNano()
	}
	s.fragments[f.ProjectID] = append(s.fragments[f.ProjectID], f)
	return f, nil
}

func (s *Memory) LatestFragment(_ context.Context, projectID string) (Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	frags := s.fragments[projectID]
	var (
		best  Fragment
		found bool
	)
	for _, f := range frags {
		if !hasFiles(f.Files) {
			continue
		}
		if !found || f.CreatedAt >= best.CreatedAt {
			best, found = f, true
		}
	}
	if !found {
		return Fragment{}, ErrNotFound
	}
	return best, nil
}

func (s *Memory) ListFragments(_ context.Context, projectID string) ([]Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fragment
	for _, f := range s.fragments[projectID] {
		if hasFiles(f.Files) {
			out = append(out, f)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Memory) Close() error { return nil }
