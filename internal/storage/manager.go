// Package storage persists JSON payloads to the wizard's session-scoped and
// durable local stores with TTL expiration and optional transforms.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/readiness-wizard/internal/metrics"
)

// Store selects one of the two key-value stores.
type Store string

const (
	// SessionStore lives as long as the wizard tab.
	SessionStore Store = "session"
	// LocalStore survives across sessions of the same device.
	LocalStore Store = "local"
)

// EntryVersion tags the CacheEntry schema.
const EntryVersion = "1.0.0"

const availabilityProbeKey = "__storage_test__"

// Config controls key layout, expiration and transforms.
type Config struct {
	SessionStorageKey  string
	LocalStorageKey    string
	EncryptionEnabled  bool
	EncryptionKey      string
	CompressionEnabled bool
	ExpirationHours    float64
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		SessionStorageKey: "assessment_session",
		LocalStorageKey:   "assessment_cache",
		ExpirationHours:   24,
	}
}

// CacheEntry wraps every stored payload. Timestamps are epoch milliseconds.
type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt int64           `json:"expiresAt"`
	Version   string          `json:"version"`
}

// Manager reads and writes CacheEntry values to the configured backends.
type Manager struct {
	cfg      Config
	backends map[Store]Backend
	codec    *codec
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	handlers []registeredHandler
	nextID   int
}

type registeredHandler struct {
	id int
	h  ErrorHandler
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger used for reported errors.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a storage manager over the session and local backends.
func NewManager(cfg Config, session, local Backend, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.SessionStorageKey == "" {
		cfg.SessionStorageKey = def.SessionStorageKey
	}
	if cfg.LocalStorageKey == "" {
		cfg.LocalStorageKey = def.LocalStorageKey
	}
	if cfg.ExpirationHours < 0 {
		return nil, fmt.Errorf("expiration hours must be >= 0, got %v", cfg.ExpirationHours)
	}

	c, err := newCodec(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize codec: %w", err)
	}

	m := &Manager{
		cfg:      cfg,
		backends: map[Store]Backend{SessionStore: session, LocalStore: local},
		codec:    c,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// OnError registers h for every reported error and returns a function that
// unregisters it.
func (m *Manager) OnError(h ErrorHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.handlers = append(m.handlers, registeredHandler{id: id, h: h})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, rh := range m.handlers {
			if rh.id == id {
				m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// Key returns the physical key for key in store.
func (m *Manager) Key(key string, store Store) string {
	return m.prefix(store) + "_" + key
}

func (m *Manager) prefix(store Store) string {
	if store == LocalStore {
		return m.cfg.LocalStorageKey
	}
	return m.cfg.SessionStorageKey
}

func (m *Manager) backend(store Store) (Backend, error) {
	b := m.backends[store]
	if b == nil {
		return nil, fmt.Errorf("unknown store %q", store)
	}
	return b, nil
}

func (m *Manager) ttl() time.Duration {
	return time.Duration(m.cfg.ExpirationHours * float64(time.Hour))
}

// Save wraps data in a CacheEntry and writes it. Failures are reported and
// also returned so callers can react.
func (m *Manager) Save(ctx context.Context, key string, data any, store Store) error {
	now := m.now()
	fail := func(msg string, cause error) error {
		return m.report(newError(ErrCodeSave, msg, cause, now, map[string]any{"key": key, "store": string(store)}))
	}

	b, err := m.backend(store)
	if err != nil {
		return fail("Failed to save data", err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fail("Failed to serialize data", err)
	}
	entry, err := json.Marshal(CacheEntry{
		Data:      payload,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(m.ttl()).UnixMilli(),
		Version:   EntryVersion,
	})
	if err != nil {
		return fail("Failed to serialize cache entry", err)
	}

	encoded, err := m.codec.encode(entry)
	if err != nil {
		return fail("Failed to encode data", err)
	}

	if err := b.Set(ctx, m.Key(key, store), encoded); err != nil {
		return fail("Failed to save data", err)
	}
	return nil
}

// Load reads key into dst. It returns false when the key is absent, expired
// or unreadable; read failures are reported, never returned.
func (m *Manager) Load(ctx context.Context, key string, store Store, dst any) bool {
	now := m.now()
	fail := func(msg string, cause error) bool {
		m.report(newError(ErrCodeLoad, msg, cause, now, map[string]any{"key": key, "store": string(store)}))
		return false
	}

	b, err := m.backend(store)
	if err != nil {
		return fail("Failed to load data", err)
	}

	fullKey := m.Key(key, store)
	raw, ok, err := b.Get(ctx, fullKey)
	if err != nil {
		return fail("Failed to load data", err)
	}
	if !ok {
		return false
	}

	plain, err := m.codec.decode(raw)
	if err != nil {
		return fail("Failed to decode data", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(plain, &entry); err != nil {
		return fail("Failed to parse cache entry", err)
	}

	if now.UnixMilli() >= entry.ExpiresAt {
		m.logger.Debug("Cache entry expired", "key", fullKey, "expires_at", entry.ExpiresAt)
		m.Remove(ctx, key, store)
		return false
	}

	if err := json.Unmarshal(entry.Data, dst); err != nil {
		return fail("Failed to parse cached data", err)
	}
	return true
}

// Remove deletes a single key. Failures are reported and otherwise ignored.
func (m *Manager) Remove(ctx context.Context, key string, store Store) {
	b, err := m.backend(store)
	if err == nil {
		err = b.Delete(ctx, m.Key(key, store))
	}
	if err != nil {
		m.report(newError(ErrCodeRemove, "Failed to remove data", err, m.now(),
			map[string]any{"key": key, "store": string(store)}))
	}
}

// Clear deletes every key under the store's application prefix. Keys that
// belong to anything else are left alone.
func (m *Manager) Clear(ctx context.Context, store Store) {
	fail := func(err error) {
		m.report(newError(ErrCodeClear, "Failed to clear storage", err, m.now(),
			map[string]any{"store": string(store)}))
	}

	b, err := m.backend(store)
	if err != nil {
		fail(err)
		return
	}
	keys, err := b.Keys(ctx)
	if err != nil {
		fail(err)
		return
	}

	prefix := m.prefix(store) + "_"
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if err := b.Delete(ctx, k); err != nil {
			fail(err)
			return
		}
	}
}

// IsAvailable probes store with a disposable write and delete.
func (m *Manager) IsAvailable(ctx context.Context, store Store) bool {
	b, err := m.backend(store)
	if err != nil {
		return false
	}
	probe := m.Key(availabilityProbeKey, store)
	if err := b.Set(ctx, probe, "test"); err != nil {
		return false
	}
	return b.Delete(ctx, probe) == nil
}

func (m *Manager) report(e *Error) *Error {
	metrics.StorageErrorsTotal.WithLabelValues(string(e.Code)).Inc()

	level := slog.LevelWarn
	if e.Severity == SeverityError {
		level = slog.LevelError
	}
	m.logger.Log(context.Background(), level, "Storage operation failed",
		"code", e.Code, "message", e.Message, "error", e.Cause)

	m.mu.RLock()
	handlers := make([]registeredHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.RUnlock()

	for _, rh := range handlers {
		rh.h(e)
	}
	return e
}
