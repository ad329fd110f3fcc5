// Package credentials persists the access/refresh token pair and owns the
// in-process view of it.
package credentials

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/Iron-Ham/odooctl/internal/store"
)

// Keys under which the pair is stored.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
)

// Pair is an access credential and the refresh credential that renews it.
type Pair struct {
	AccessToken  string `json:"access_token" yaml:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token" yaml:"refresh_token,omitempty"`
}

// Authenticated reports whether an access credential is present.
func (p Pair) Authenticated() bool {
	return p.AccessToken != ""
}

// Store is a durable string key/value store. Get returns "" for a missing key.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Watcher is implemented by stores that can report changes made by other
// processes, e.g. a second odooctl running `login`.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Open returns the store selected by backend ("file", "sqlite" or "memory").
// An empty path selects the default location inside stateDir. The returned
// close function releases the store's resources.
func Open(ctx context.Context, backend, path, stateDir string) (Store, func() error, error) {
	noop := func() error { return nil }

	switch backend {
	case "", "file":
		if path == "" {
			path = filepath.Join(stateDir, FileName)
		}
		return NewFileStore(path), noop, nil
	case "sqlite":
		if path == "" {
			path = filepath.Join(stateDir, store.FileName)
		}
		db, err := store.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLiteStore(db), db.Close, nil
	case "memory":
		return NewMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential store %q", backend)
	}
}
