package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize is the entry limit used when NewMemoryBackend gets size <= 0
const DefaultMemorySize = 512

// MemoryBackend is a bounded in-process partition. Least recently used
// envelopes are evicted first; nothing survives a restart.
type MemoryBackend struct {
	entries *lru.Cache[string, *Envelope]
}

// NewMemoryBackend creates an LRU partition holding at most size envelopes
func NewMemoryBackend(size int) (*MemoryBackend, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	entries, err := lru.New[string, *Envelope](size)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{entries: entries}, nil
}

// Get implements Backend
func (m *MemoryBackend) Get(_ context.Context, key string) (*Envelope, error) {
	env, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	cp := *env
	return &cp, nil
}

// Put implements Backend
func (m *MemoryBackend) Put(_ context.Context, key string, env *Envelope) error {
	cp := *env
	m.entries.Add(key, &cp)
	return nil
}

// Clear implements Backend
func (m *MemoryBackend) Clear(_ context.Context) error {
	m.entries.Purge()
	return nil
}

// Len returns the number of stored envelopes
func (m *MemoryBackend) Len() int {
	return m.entries.Len()
}

var _ Backend = (*MemoryBackend)(nil)
