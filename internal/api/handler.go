// Package api provides HTTP handlers for the assessment wizard.
package api

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/readiness-wizard/internal/backend"
	"github.com/ashureev/readiness-wizard/internal/session"
	"github.com/ashureev/readiness-wizard/internal/storage"
	"github.com/ashureev/readiness-wizard/internal/store"
)

// AssessmentAPI is the remote assessment service the wizard talks to.
type AssessmentAPI interface {
	session.ReferenceSource
	CreateAssessment(ctx context.Context, in backend.AssessmentInput) (*backend.Assessment, error)
	UpdateAssessmentStep(ctx context.Context, assessmentID string, upd backend.StepUpdate) error
	GenerateReport(ctx context.Context, assessmentID string) (string, error)
}

// Options tunes the sessions the handlers create.
type Options struct {
	Storage      storage.Config
	Debounce     time.Duration
	SaveInterval time.Duration

	// AllowedOrigins gates websocket upgrades outside development.
	AllowedOrigins []string
	IsDev          bool
	Logger         *slog.Logger
}

// Handler provides common handler utilities.
type Handler struct {
	repo        store.Repository
	sessions    *session.Registry
	assessments AssessmentAPI
	opts        Options
	logger      *slog.Logger

	// createLocks serializes provider creation per tab, striped by key.
	createLocks [64]sync.Mutex
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Registry, assessments AssessmentAPI, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:        repo,
		sessions:    sessions,
		assessments: assessments,
		opts:        opts,
		logger:      logger,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst)
}

func (h *Handler) createLock(key string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(key))
	return &h.createLocks[f.Sum32()%uint32(len(h.createLocks))]
}

func (h *Handler) sessionTTL() time.Duration {
	return time.Duration(h.opts.Storage.ExpirationHours * float64(time.Hour))
}

// provider returns the tab's live session, creating it on first use. A
// non-empty assessmentID that differs from the live session's binding
// replaces the session, as does fresh.
func (h *Handler) provider(ctx context.Context, deviceID, tabID, assessmentID string, fresh bool) (*session.Provider, error) {
	mutex := h.createLock(deviceID + ":" + tabID)
	mutex.Lock()
	defer mutex.Unlock()

	existing := h.sessions.Get(deviceID, tabID)
	if existing != nil && !fresh && (assessmentID == "" || existing.State().AssessmentID == assessmentID) {
		h.sessions.Touch(deviceID, tabID)
		return existing, nil
	}
	if existing != nil {
		// Pending edits must reach the tab store before the next provider
		// reads it back.
		existing.Close()
	}

	mgr, err := storage.NewManager(
		h.opts.Storage,
		h.sessions.SessionStore(deviceID, tabID),
		storage.NewRepositoryBackend(h.repo, deviceID),
		storage.WithLogger(h.logger),
	)
	if err != nil {
		return nil, err
	}

	p, err := session.NewProvider(ctx, session.ProviderOptions{
		AssessmentID: assessmentID,
		Storage:      mgr,
		Reference:    h.assessments,
		TTL:          h.sessionTTL(),
		Debounce:     h.opts.Debounce,
		SaveInterval: h.opts.SaveInterval,
		Logger:       h.logger.With("device_id", deviceID, "tab_id", tabID),
	})
	if err != nil {
		return nil, err
	}
	h.sessions.Register(deviceID, tabID, p)
	return p, nil
}
