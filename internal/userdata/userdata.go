package userdata

import (
	"context"
	"sort"
	"sync"
)

// Store keeps durable per-user app records: which apps a user has
// installed, which were running when their session last ended, and the
// user's settings. Records outlive sessions so a reconnecting device
// resumes where it left off.
type Store interface {
	InstallApp(ctx context.Context, userID, packageName string) error
	UninstallApp(ctx context.Context, userID, packageName string) error
	InstalledApps(ctx context.Context, userID string) ([]string, error)
	IsInstalled(ctx context.Context, userID, packageName string) (bool, error)

	SetRunning(ctx context.Context, userID, packageName string) error
	ClearRunning(ctx context.Context, userID, packageName string) error
	RunningApps(ctx context.Context, userID string) ([]string, error)

	Settings(ctx context.Context, userID string) (map[string]any, error)
	UpdateSettings(ctx context.Context, userID string, settings map[string]any) error
}

type userRecord struct {
	installed map[string]bool
	running   map[string]bool
	settings  map[string]any
}

// MemoryStore is the in-memory Store used in tests and single-node
// deployments.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*userRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userRecord)}
}

func (s *MemoryStore) record(userID string) *userRecord {
	rec, ok := s.users[userID]
	if !ok {
		rec = &userRecord{
			installed: make(map[string]bool),
			running:   make(map[string]bool),
			settings:  make(map[string]any),
		}
		s.users[userID] = rec
	}
	return rec
}

// InstallApp marks an app installed for the user.
func (s *MemoryStore) InstallApp(_ context.Context, userID, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).installed[packageName] = true
	return nil
}

// UninstallApp removes an app from the user's installed set and clears
// any running record for it.
func (s *MemoryStore) UninstallApp(_ context.Context, userID, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(userID)
	delete(rec.installed, packageName)
	delete(rec.running, packageName)
	return nil
}

// InstalledApps returns the user's installed packages sorted.
func (s *MemoryStore) InstalledApps(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return sortedKeys(rec.installed), nil
}

// IsInstalled reports whether the user has the app installed.
func (s *MemoryStore) IsInstalled(_ context.Context, userID, packageName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	return rec.installed[packageName], nil
}

// SetRunning records that an app is running for the user.
func (s *MemoryStore) SetRunning(_ context.Context, userID, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(userID).running[packageName] = true
	return nil
}

// ClearRunning removes the running record for an app.
func (s *MemoryStore) ClearRunning(_ context.Context, userID, packageName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil
	}
	delete(rec.running, packageName)
	return nil
}

// RunningApps returns the user's running packages sorted.
func (s *MemoryStore) RunningApps(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return sortedKeys(rec.running), nil
}

// Settings returns a copy of the user's settings.
func (s *MemoryStore) Settings(_ context.Context, userID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(rec.settings))
	for k, v := range rec.settings {
		out[k] = v
	}
	return out, nil
}

// UpdateSettings merges the given settings into the user's record. A
// nil value deletes the key.
func (s *MemoryStore) UpdateSettings(_ context.Context, userID string, settings map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record(userID)
	for k, v := range settings {
		if v == nil {
			delete(rec.settings, k)
			continue
		}
		rec.settings[k] = v
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
