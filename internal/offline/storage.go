package offline

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Entry is a stored response.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Storage keeps entries partitioned by generation name. Get returns nil, nil
// on a miss.
type Storage interface {
	Put(ctx context.Context, generation, key string, e *Entry) error
	Get(ctx context.Context, generation, key string) (*Entry, error)
	Generations(ctx context.Context) ([]string, error)
	DeleteGeneration(ctx context.Context, generation string) error
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu   sync.RWMutex
	gens map[string]map[string]*Entry
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{gens: make(map[string]map[string]*Entry)}
}

func (m *MemoryStorage) Put(_ context.Context, generation, key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.gens[generation]
	if !ok {
		g = make(map[string]*Entry)
		m.gens[generation] = g
	}
	cp := *e
	g[key] = &cp
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, generation, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.gens[generation][key]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStorage) Generations(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.gens))
	for name := range m.gens {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStorage) DeleteGeneration(_ context.Context, generation string) error {
	m.mu.Lock()
	delete(m.gens, generation)
	m.mu.Unlock()
	return nil
}
