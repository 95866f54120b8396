package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ashureev/readiness-wizard/internal/backend"
	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/identity"
	"github.com/ashureev/readiness-wizard/internal/session"
	"github.com/ashureev/readiness-wizard/internal/wizard"
)

// submitLocks prevents concurrent submits for the same tab.
var submitLocks sync.Map

type submitResponse struct {
	AssessmentID string `json:"assessmentId"`
	ReportID     string `json:"reportId"`
}

type validationResponse struct {
	Error   string                        `json:"error"`
	Steps   map[string]domain.FieldErrors `json:"steps"`
	Session *domain.AssessmentSession     `json:"session"`
}

// Submit validates every step, pushes the answers to the assessment API
// and triggers report generation.
func (h *SessionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	key := identity.DeviceIDFromContext(r.Context()) + ":" + identity.SessionIDFromContext(r.Context())

	lock, _ := submitLocks.LoadOrStore(key, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		h.logger.Warn("Submit already in progress", "key", key)
		Error(w, http.StatusConflict, "submit_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		submitLocks.Delete(key)
	}()

	p, ok := h.current(w, r)
	if !ok {
		return
	}

	if invalid := validateAll(p); len(invalid) > 0 {
		JSON(w, http.StatusUnprocessableEntity, validationResponse{
			Error:   "validation_failed",
			Steps:   invalid,
			Session: p.State(),
		})
		return
	}

	ctx := r.Context()
	state := p.State()
	assessmentID, err := h.pushAssessment(ctx, state)
	if err != nil {
		h.upstreamError(w, "Failed to submit assessment", err, state.ID)
		return
	}
	if state.AssessmentID != assessmentID {
		p.BindAssessment(assessmentID)
	}

	reportID, err := h.assessments.GenerateReport(ctx, assessmentID)
	if err != nil {
		h.upstreamError(w, "Failed to generate report", err, state.ID)
		return
	}

	p.CompleteStep(state.TotalSteps() - 1)
	p.Flush()

	h.logger.Info("Assessment submitted", "session_id", state.ID, "assessment_id", assessmentID, "report_id", reportID)
	JSON(w, http.StatusOK, submitResponse{AssessmentID: assessmentID, ReportID: reportID})
}

// validateAll runs every step's rules and records the failures on the
// session. It returns the errors keyed by step ID.
func validateAll(p *session.Provider) map[string]domain.FieldErrors {
	invalid := make(map[string]domain.FieldErrors)
	for i, step := range p.State().Steps {
		errs := wizard.Validate(step.ID, step.Data)
		if len(errs) == 0 {
			continue
		}
		invalid[step.ID] = errs
		p.Dispatch(session.SetStepErrors{StepIndex: i, Errors: errs})
	}
	return invalid
}

// pushAssessment creates the assessment on first submit, or patches every
// step of the bound one.
func (h *SessionHandler) pushAssessment(ctx context.Context, s *domain.AssessmentSession) (string, error) {
	if s.AssessmentID == "" {
		basics := stepData(s, domain.StepBasics)
		a, err := h.assessments.CreateAssessment(ctx, backend.AssessmentInput{
			Title:       assessmentTitle(basics),
			CompanyName: str(basics["companyName"]),
			Industry:    str(basics["industry"]),
			StepData:    allStepData(s),
		})
		if err != nil {
			return "", fmt.Errorf("create assessment: %w", err)
		}
		return a.ID, nil
	}

	for i, step := range s.Steps {
		err := h.assessments.UpdateAssessmentStep(ctx, s.AssessmentID, backend.StepUpdate{
			Step:      step.ID,
			StepIndex: i,
			Data:      step.Data,
			Completed: step.IsCompleted,
		})
		if err != nil {
			return "", fmt.Errorf("update step %s: %w", step.ID, err)
		}
	}
	return s.AssessmentID, nil
}

func (h *SessionHandler) upstreamError(w http.ResponseWriter, msg string, err error, sessionID string) {
	h.logger.Error(msg, "error", err, "session_id", sessionID)

	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		Error(w, http.StatusBadGateway, apiErr.Message)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		Error(w, http.StatusGatewayTimeout, "assessment service timed out")
		return
	}
	Error(w, http.StatusBadGateway, "assessment service unavailable")
}

func stepData(s *domain.AssessmentSession, stepID string) domain.StepData {
	for _, step := range s.Steps {
		if step.ID == stepID {
			return step.Data
		}
	}
	return nil
}

func allStepData(s *domain.AssessmentSession) map[string]domain.StepData {
	out := make(map[string]domain.StepData, len(s.Steps))
	for _, step := range s.Steps {
		out[step.ID] = step.Data
	}
	return out
}

// assessmentTitle prefers assessmentName and falls back to the older
// reportName field.
func assessmentTitle(basics domain.StepData) string {
	if name := str(basics["assessmentName"]); name != "" {
		return name
	}
	return str(basics["reportName"])
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
