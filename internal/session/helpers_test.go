package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/storage"
	"github.com/stretchr/testify/require"
)

const sessionKey = "assessment_session_current_session"

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// countingBackend records writes per key.
type countingBackend struct {
	*storage.MemoryBackend

	mu   sync.Mutex
	sets map[string]int
}

func newCountingBackend() *countingBackend {
	return &countingBackend{MemoryBackend: storage.NewMemoryBackend(0), sets: make(map[string]int)}
}

func (b *countingBackend) Set(ctx context.Context, key, value string) error {
	b.mu.Lock()
	b.sets[key]++
	b.mu.Unlock()
	return b.MemoryBackend.Set(ctx, key, value)
}

func (b *countingBackend) writes(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sets[key]
}

type fakeReference struct {
	data  domain.ReferenceData
	err   error
	calls atomic.Int32
}

func (f *fakeReference) FetchReferenceData(context.Context) (domain.ReferenceData, error) {
	f.calls.Add(1)
	return f.data, f.err
}

type testEnv struct {
	session *countingBackend
	local   *countingBackend
	storage *storage.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{session: newCountingBackend(), local: newCountingBackend()}
	mgr, err := storage.NewManager(storage.DefaultConfig(), env.session, env.local, storage.WithLogger(discardLogger))
	require.NoError(t, err)
	env.storage = mgr
	return env
}

// provider builds a provider with fast timers unless opts overrides them.
func (e *testEnv) provider(t *testing.T, opts ProviderOptions) *Provider {
	t.Helper()
	opts.Storage = e.storage
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	if opts.SaveInterval == 0 {
		opts.SaveInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger
	}
	p, err := NewProvider(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func (e *testEnv) storedSession(t *testing.T) (*domain.AssessmentSession, bool) {
	t.Helper()
	var s domain.AssessmentSession
	if !e.storage.Load(context.Background(), KeyCurrentSession, storage.SessionStore, &s) {
		return nil, false
	}
	return &s, true
}
