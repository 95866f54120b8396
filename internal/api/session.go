package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/identity"
	"github.com/ashureev/readiness-wizard/internal/session"
	"github.com/ashureev/readiness-wizard/internal/wizard"
	"github.com/go-chi/chi/v5"
)

// SessionHandler handles the wizard session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers wizard session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/wizard/session", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/", h.Initialize)
		r.Put("/steps/{index}", h.UpdateStep)
		r.Post("/steps/{index}/complete", h.CompleteStep)
		r.Post("/navigate", h.Navigate)
		r.Put("/selection", h.SetSelection)
		r.Post("/reset", h.Reset)
		r.Get("/reference-data", h.ReferenceData)
		r.Post("/submit", h.Submit)
	})
	r.Get("/ws/session", h.Stream)
}

type progressView struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

type sessionResponse struct {
	Session  *domain.AssessmentSession `json:"session"`
	Progress progressView              `json:"progress"`
	Blocked  bool                      `json:"blocked,omitempty"`
}

func newSessionResponse(s *domain.AssessmentSession) sessionResponse {
	completed, total := s.Progress()
	return sessionResponse{Session: s, Progress: progressView{Completed: completed, Total: total}}
}

type initializeRequest struct {
	AssessmentID string `json:"assessmentId"`
}

type stepRequest struct {
	Data        domain.StepData `json:"data"`
	IsValid     *bool           `json:"isValid,omitempty"`
	IsCompleted *bool           `json:"isCompleted,omitempty"`
}

type navigateRequest struct {
	Index     *int   `json:"index,omitempty"`
	Direction string `json:"direction,omitempty"`
}

type selectionRequest struct {
	Department *domain.Department `json:"department"`
	JobRole    *domain.JobRole    `json:"jobRole"`
}

type referenceResponse struct {
	domain.ReferenceData
	Error string `json:"error,omitempty"`
}

// current returns the caller's tab session, creating it when needed.
func (h *SessionHandler) current(w http.ResponseWriter, r *http.Request) (*session.Provider, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.SessionIDFromContext(r.Context())
	if deviceID == "" || tabID == "" {
		Error(w, http.StatusUnauthorized, "missing device or session identity")
		return nil, false
	}

	p, err := h.provider(r.Context(), deviceID, tabID, "", false)
	if err != nil {
		h.logger.Error("Failed to load wizard session", "error", err, "device_id", deviceID, "tab_id", tabID)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return p, true
}

func stepIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 || index >= wizard.TotalSteps() {
		Error(w, http.StatusBadRequest, "invalid step index")
		return 0, false
	}
	return index, true
}

// Get returns the tab's session, restoring or creating it.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, ok := h.current(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, newSessionResponse(p.State()))
}

// Initialize (re)starts the tab's session, optionally for a known
// assessment. A stored snapshot for the same assessment is restored.
func (h *SessionHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deviceID := identity.DeviceIDFromContext(r.Context())
	tabID := identity.SessionIDFromContext(r.Context())
	if deviceID == "" || tabID == "" {
		Error(w, http.StatusUnauthorized, "missing device or session identity")
		return
	}

	p, err := h.provider(r.Context(), deviceID, tabID, req.AssessmentID, true)
	if err != nil {
		h.logger.Error("Failed to initialize wizard session", "error", err, "device_id", deviceID, "tab_id", tabID)
		Error(w, http.StatusInternalServerError, "failed to initialize session")
		return
	}
	JSON(w, http.StatusOK, newSessionResponse(p.State()))
}

// UpdateStep merges data into one step.
func (h *SessionHandler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	var req stepRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Data == nil {
		req.Data = domain.StepData{}
	}

	p, ok := h.current(w, r)
	if !ok {
		return
	}
	s := p.Dispatch(session.SetStepData{
		StepIndex:   index,
		Data:        req.Data,
		IsValid:     req.IsValid,
		IsCompleted: req.IsCompleted,
	})
	JSON(w, http.StatusOK, newSessionResponse(s))
}

// CompleteStep marks one step completed.
func (h *SessionHandler) CompleteStep(w http.ResponseWriter, r *http.Request) {
	index, ok := stepIndex(w, r)
	if !ok {
		return
	}
	p, ok := h.current(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, newSessionResponse(p.CompleteStep(index)))
}

// Navigate moves to an explicit index or one step in a direction. A forward
// move off an invalid step is refused and reported as blocked.
func (h *SessionHandler) Navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Index == nil && req.Direction != "next" && req.Direction != "previous" {
		Error(w, http.StatusBadRequest, "index or direction (next|previous) is required")
		return
	}

	p, ok := h.current(w, r)
	if !ok {
		return
	}

	before := p.State()
	var s *domain.AssessmentSession
	target := before.CurrentStepIndex
	switch {
	case req.Index != nil:
		target = *req.Index
		s = p.GoToStep(target)
	case req.Direction == "next":
		target++
		s = p.NextStep()
	default:
		target--
		s = p.PreviousStep()
	}

	s = h.seedStep(p, s)

	resp := newSessionResponse(s)
	resp.Blocked = target > before.CurrentStepIndex && target < s.TotalSteps() && s.CurrentStepIndex != target
	JSON(w, http.StatusOK, resp)
}

// seedStep prepares the role-keyed maps of the step the user landed on.
func (h *SessionHandler) seedStep(p *session.Provider, s *domain.AssessmentSession) *domain.AssessmentSession {
	step := s.CurrentStep()
	if step == nil {
		return s
	}
	switch step.ID {
	case domain.StepPainPoints:
		return p.SeedRoleKeyedData(s.CurrentStepIndex, domain.FieldRoleSpecificPainPoints)
	case domain.StepWorkVolume:
		return p.SeedRoleKeyedData(s.CurrentStepIndex, domain.FieldRoleWorkVolume)
	}
	return s
}

// SetSelection records the user's department and job role.
func (h *SessionHandler) SetSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, ok := h.current(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, newSessionResponse(p.SetSelection(req.Department, req.JobRole)))
}

// Reset discards the session and starts over.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	p, ok := h.current(w, r)
	if !ok {
		return
	}
	p.Reset(r.Context())
	// Store the fresh session right away so a later initialize restores its
	// identity instead of minting another one.
	p.Flush()
	JSON(w, http.StatusOK, newSessionResponse(p.State()))
}

// ReferenceData returns the department and role lists. A failed fetch still
// answers with empty lists and the error message.
func (h *SessionHandler) ReferenceData(w http.ResponseWriter, r *http.Request) {
	p, ok := h.current(w, r)
	if !ok {
		return
	}
	ref, err := p.ReferenceData()
	resp := referenceResponse{ReferenceData: ref}
	if err != nil {
		h.logger.Debug("Serving empty reference data", "error", err)
		resp.Error = err.Error()
	}
	JSON(w, http.StatusOK, resp)
}
