package publish

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Flights tracks publishes currently in progress. Acquire inserts key if it
// is absent and reports whether it did; the returned release removes it.
type Flights interface {
	Acquire(key string) (release func(), ok bool)
}

// MemoryFlights is a process-local Flights.
type MemoryFlights struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemoryFlights() *MemoryFlights {
	return &MemoryFlights{keys: make(map[string]struct{})}
}

func (f *MemoryFlights) Acquire(key string) (func(), bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.keys[key]; busy {
		return nil, false
	}
	f.keys[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.keys, key)
			f.mu.Unlock()
		})
	}, true
}

// InFlight reports whether key is held.
func (f *MemoryFlights) InFlight(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.keys[key]
	return ok
}

// Admission caps the number of concurrent publishes. A full guard rejects
// rather than queues.
type Admission struct {
	sem *semaphore.Weighted
}

// NewAdmission allows up to max concurrent holders; max < 1 disables the cap.
func NewAdmission(max int64) *Admission {
	if max < 1 {
		return &Admission{}
	}
	return &Admission{sem: semaphore.NewWeighted(max)}
}

func (a *Admission) TryEnter() (release func(), ok bool) {
	if a == nil || a.sem == nil {
		return func() {}, true
	}
	if !a.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { a.sem.Release(1) }) }, true
}
