package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	// ErrQuotaExceeded is returned when a write would exceed the backend quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrUnavailable is returned by a backend that has been disabled.
	ErrUnavailable = errors.New("storage unavailable")
)

// Backend is a string key-value store.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists every key currently in the store.
	Keys(ctx context.Context) ([]string, error)
}

// MemoryBackend is an in-process store with an optional byte quota.
// It backs the session-scoped store of a single wizard tab.
type MemoryBackend struct {
	mu       sync.RWMutex
	data     map[string]string
	quota    int
	used     int
	disabled bool
}

// NewMemoryBackend creates a memory backend. A quota <= 0 means unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]string),
		quota: quota,
	}
}

// SetDisabled makes every operation fail with ErrUnavailable.
func (b *MemoryBackend) SetDisabled(disabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled = disabled
}

// Get returns the value for key.
func (b *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disabled {
		return "", false, ErrUnavailable
	}
	v, ok := b.data[key]
	return v, ok, nil
}

// Set writes value under key.
func (b *MemoryBackend) Set(_ context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled {
		return ErrUnavailable
	}

	used := b.used + entrySize(key, value)
	if old, exists := b.data[key]; exists {
		used -= entrySize(key, old)
	}
	if b.quota > 0 && used > b.quota {
		return ErrQuotaExceeded
	}
	b.data[key] = value
	b.used = used
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled {
		return ErrUnavailable
	}
	if v, ok := b.data[key]; ok {
		b.used -= entrySize(key, v)
		delete(b.data, key)
	}
	return nil
}

// Keys lists every key in sorted order.
func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disabled {
		return nil, ErrUnavailable
	}
	keys := make([]string, 0, len(b.data))
	for k := range b.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

func entrySize(key, value string) int {
	return len(key) + len(value)
}

// KVRepository is the durable key-value surface the local store needs.
type KVRepository interface {
	GetValue(ctx context.Context, namespace, key string) (string, bool, error)
	PutValue(ctx context.Context, namespace, key, value string) error
	DeleteValue(ctx context.Context, namespace, key string) error
	ListKeys(ctx context.Context, namespace string) ([]string, error)
}

// RepositoryBackend adapts a KVRepository to Backend, scoped to one
// namespace (the device identity).
type RepositoryBackend struct {
	repo      KVRepository
	namespace string
}

// NewRepositoryBackend creates a backend over repo scoped to namespace.
func NewRepositoryBackend(repo KVRepository, namespace string) *RepositoryBackend {
	return &RepositoryBackend{repo: repo, namespace: namespace}
}

// Get returns the value for key.
func (b *RepositoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	return b.repo.GetValue(ctx, b.namespace, key)
}

// Set writes value under key.
func (b *RepositoryBackend) Set(ctx context.Context, key, value string) error {
	return b.repo.PutValue(ctx, b.namespace, key, value)
}

// Delete removes key.
func (b *RepositoryBackend) Delete(ctx context.Context, key string) error {
	return b.repo.DeleteValue(ctx, b.namespace, key)
}

// Keys lists the namespace's keys.
func (b *RepositoryBackend) Keys(ctx context.Context) ([]string, error) {
	return b.repo.ListKeys(ctx, b.namespace)
}
