package cookiestore

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound      = errors.New("cookiestore: cookie not found")
	ErrInvalidDomain = errors.New("cookiestore: invalid cookie domain")
	ErrNoHost        = errors.New("cookiestore: url has no host")
)

// Entry is one stored cookie. Domain is always the canonical host or
// registrable domain without a leading dot.
type Entry struct {
	Domain   string        `json:"domain"`
	Path     string        `json:"path"`
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	HostOnly bool          `json:"host_only"`
	Secure   bool          `json:"secure"`
	HttpOnly bool          `json:"http_only"`
	SameSite http.SameSite `json:"same_site"`

	// Expires is zero for session cookies.
	Expires time.Time `json:"expires,omitzero"`
	Created time.Time `json:"created"`
}

// Key identifies an entry within a backend.
func (e Entry) Key() string {
	return e.Domain + ";" + e.Path + ";" + e.Name
}

// Expired reports whether the entry is past its expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && !e.Expires.After(now)
}

// Backend persists cookie entries. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Put inserts or replaces the entry with the same (domain, path, name).
	// An existing entry keeps its Created time.
	Put(ctx context.Context, e Entry) error

	// Delete removes one entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, domain, path, name string) error

	// List returns every entry stored under any of domains, expired or not.
	List(ctx context.Context, domains ...string) ([]Entry, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error
}

// Purger is implemented by backends that can drop expired entries in bulk.
type Purger interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoryBackend keeps entries in process memory. Nothing survives a restart.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (m *MemoryBackend) Put(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.entries[e.Key()]; ok {
		e.Created = old.Created
	}
	m.entries[e.Key()] = e
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, domain, path, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, Entry{Domain: domain, Path: path, Name: name}.Key())
	return nil
}

func (m *MemoryBackend) List(_ context.Context, domains ...string) ([]Entry, error) {
	want := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		want[d] = struct{}{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		if _, ok := want[e.Domain]; ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]Entry)
	return nil
}

func (m *MemoryBackend) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}
