//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/readiness-wizard/internal/backend"
	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/identity"
	"github.com/ashureev/readiness-wizard/internal/session"
	"github.com/ashureev/readiness-wizard/internal/storage"
	"github.com/go-chi/chi/v5"
)

const testDevice = "anon_0123456789abcdef0123456789abcdef"

type fakeRepo struct {
	mu      sync.Mutex
	devices map[string]*domain.Device
	values  map[string]map[string]string
	pingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		devices: make(map[string]*domain.Device),
		values:  make(map[string]map[string]string),
	}
}

func (f *fakeRepo) GetDevice(_ context.Context, id string) (*domain.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.devices[id]
	if d == nil {
		return nil, nil
	}
	copy := *d
	return &copy, nil
}

func (f *fakeRepo) UpsertDevice(_ context.Context, d *domain.Device) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *d
	f.devices[d.DeviceID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, _ string, _ time.Time) error { return nil }

func (f *fakeRepo) GetValue(_ context.Context, ns, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[ns][key]
	return v, ok, nil
}

func (f *fakeRepo) PutValue(_ context.Context, ns, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[ns] == nil {
		f.values[ns] = make(map[string]string)
	}
	f.values[ns][key] = value
	return nil
}

func (f *fakeRepo) DeleteValue(_ context.Context, ns, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values[ns], key)
	return nil
}

func (f *fakeRepo) ListKeys(_ context.Context, ns string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.values[ns]))
	for k := range f.values[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeRepo) hasValue(ns, key string) bool {
	_, ok, _ := f.GetValue(context.Background(), ns, key)
	return ok
}

func (f *fakeRepo) DeleteInactiveDevices(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return f.pingErr }
func (f *fakeRepo) Close() error                 { return nil }

type fakeAssessments struct {
	mu        sync.Mutex
	ref       domain.ReferenceData
	refErr    error
	createErr error
	created   []backend.AssessmentInput
	updates   []backend.StepUpdate
	reports   []string
}

func (f *fakeAssessments) FetchReferenceData(_ context.Context) (domain.ReferenceData, error) {
	if f.refErr != nil {
		return domain.ReferenceData{}, f.refErr
	}
	return f.ref, nil
}

func (f *fakeAssessments) CreateAssessment(_ context.Context, in backend.AssessmentInput) (*backend.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, in)
	return &backend.Assessment{ID: "asmt-new", Title: in.Title}, nil
}

func (f *fakeAssessments) UpdateAssessmentStep(_ context.Context, _ string, upd backend.StepUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
	return nil
}

func (f *fakeAssessments) GenerateReport(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, id)
	return "rep-" + id, nil
}

type testServer struct {
	t        *testing.T
	router   http.Handler
	repo     *fakeRepo
	sessions *session.Registry
}

func newTestServer(t *testing.T, assessments AssessmentAPI) *testServer {
	t.Helper()
	if assessments == nil {
		assessments = &fakeAssessments{}
	}
	repo := newFakeRepo()
	logger := discardLogger()
	sessions := session.NewRegistry(0, logger)
	t.Cleanup(sessions.CloseAll)

	base := NewHandler(repo, sessions, assessments, Options{
		Storage:      storage.DefaultConfig(),
		Debounce:     10 * time.Millisecond,
		SaveInterval: time.Second,
		IsDev:        true,
		Logger:       logger,
	})

	r := chi.NewRouter()
	NewHealthHandler(repo, sessions).RegisterHealth(r)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, true))
		NewSessionHandler(base).RegisterRoutes(r)
	})

	return &testServer{t: t, router: r, repo: repo, sessions: sessions}
}

func (s *testServer) do(method, path, tab, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.AddCookie(&http.Cookie{Name: identity.AnonCookieName, Value: testDevice})
	req.Header.Set(identity.SessionHeaderName, tab)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) sessionResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode session response: %v", err)
	}
	return resp
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errUpstream = errors.New("upstream offline")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
