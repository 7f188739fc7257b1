package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a package name has no catalog entry.
var ErrNotFound = errors.New("app not found")

// Store is the catalog persistence surface.
type Store interface {
	Get(ctx context.Context, packageName string) (*App, error)
	List(ctx context.Context) ([]*App, error)
	Save(ctx context.Context, app *App) error
}

// MemoryStore keeps the catalog in an RWMutex-guarded map. Entries are
// treated as immutable once saved.
type MemoryStore struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{apps: make(map[string]*App)}
}

// Get returns the app for a package name.
func (s *MemoryStore) Get(_ context.Context, packageName string) (*App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[packageName]
	if !ok {
		return nil, ErrNotFound
	}
	return app, nil
}

// List returns all apps sorted by package name.
func (s *MemoryStore) List(_ context.Context) ([]*App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	apps := make([]*App, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app)
	}
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].PackageName < apps[j].PackageName
	})
	return apps, nil
}

// Save validates and stores an app, replacing any previous entry for
// the same package name.
func (s *MemoryStore) Save(_ context.Context, app *App) error {
	if err := app.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.PackageName] = app
	return nil
}

// Len reports the number of catalog entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.apps)
}
