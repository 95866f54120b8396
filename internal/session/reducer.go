package session

import (
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/wizard"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a new session stays fresh.
const DefaultSessionTTL = 24 * time.Hour

// timeNow is a package-level variable for testability.
var timeNow = time.Now

// Reducer computes session transitions. It holds only configuration; Reduce
// itself never mutates its input.
type Reducer struct {
	TTL   time.Duration
	Now   func() time.Time
	NewID func() string
}

func (r Reducer) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return timeNow()
}

func (r Reducer) newID() string {
	if r.NewID != nil {
		return r.NewID()
	}
	return uuid.NewString()
}

func (r Reducer) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultSessionTTL
}

// Reduce applies action to state. Actions that change nothing return state
// itself, so callers can compare pointers to detect a no-op.
//
//nolint:gocyclo // One case per action keeps the transition table readable.
func (r Reducer) Reduce(state *domain.AssessmentSession, action Action) *domain.AssessmentSession {
	if action == nil {
		return state
	}

	switch a := action.(type) {
	case InitializeSession:
		return r.initial(a)

	case ResetSession:
		return r.initial(InitializeSession{})

	case RestoreSession:
		if a.Session == nil || len(a.Session.Steps) == 0 {
			return state
		}
		next := a.Session.Clone()
		next.IsAutoSaving = false
		if next.CurrentStepIndex < 0 || next.CurrentStepIndex >= len(next.Steps) {
			next.CurrentStepIndex = 0
		}
		return next
	}

	if state == nil {
		return state
	}

	switch a := action.(type) {
	case SetCurrentStep:
		if a.Index < 0 || a.Index >= len(state.Steps) || a.Index == state.CurrentStepIndex {
			return state
		}
		next := *state
		next.CurrentStepIndex = a.Index
		return &next

	case SetStepData:
		if a.StepIndex < 0 || a.StepIndex >= len(state.Steps) {
			return state
		}
		next := state.Clone()
		step := &next.Steps[a.StepIndex]
		step.Data = MergeData(step.Data, a.Data)
		step.Errors = domain.FieldErrors{}
		if a.IsValid != nil {
			step.IsValid = *a.IsValid
		}
		if a.IsCompleted != nil {
			step.IsCompleted = *a.IsCompleted
		}
		return next

	case SetStepErrors:
		if a.StepIndex < 0 || a.StepIndex >= len(state.Steps) {
			return state
		}
		next := state.Clone()
		step := &next.Steps[a.StepIndex]
		step.Errors = copyErrors(a.Errors)
		step.IsValid = false
		return next

	case SetAutoSaving:
		if state.IsAutoSaving == a.Saving {
			return state
		}
		next := *state
		next.IsAutoSaving = a.Saving
		return &next

	case SessionSaved:
		next := *state
		ts := a.Timestamp
		if ts.IsZero() {
			ts = r.now()
		}
		next.LastSaved = &ts
		next.IsAutoSaving = false
		next.LastError = ""
		return &next

	case CompleteStep:
		if a.StepIndex < 0 || a.StepIndex >= len(state.Steps) || state.Steps[a.StepIndex].IsCompleted {
			return state
		}
		next := state.Clone()
		next.Steps[a.StepIndex].IsCompleted = true
		return next

	case SetSelection:
		next := *state
		next.SelectedDepartment = copyDepartment(a.Department)
		next.SelectedJobRole = copyJobRole(a.JobRole)
		return &next

	case BindAssessment:
		if a.AssessmentID == "" || a.AssessmentID == state.AssessmentID {
			return state
		}
		next := *state
		next.AssessmentID = a.AssessmentID
		return &next

	case SessionError:
		next := *state
		next.LastError = a.Message
		next.IsAutoSaving = false
		return &next
	}

	return state
}

func (r Reducer) initial(a InitializeSession) *domain.AssessmentSession {
	now := r.now()
	id := a.ID
	if id == "" {
		id = a.AssessmentID
	}
	if id == "" {
		id = r.newID()
	}

	steps := wizard.DefaultSteps()
	for i := range steps {
		if override, ok := a.StepData[steps[i].ID]; ok {
			steps[i].Data = MergeData(steps[i].Data, override)
		}
	}

	current := a.CurrentStepIndex
	if current < 0 || current >= len(steps) {
		current = 0
	}

	return &domain.AssessmentSession{
		ID:               id,
		AssessmentID:     a.AssessmentID,
		CurrentStepIndex: current,
		Steps:            steps,
		ExpiresAt:        now.Add(r.ttl()),
		CreatedAt:        now,
	}
}

// MergeData shallow-merges patch onto base into a new map. Nested objects in
// patch replace the existing value wholesale.
func MergeData(base, patch domain.StepData) domain.StepData {
	out := make(domain.StepData, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = domain.CloneValue(v)
	}
	return out
}

func copyErrors(errs domain.FieldErrors) domain.FieldErrors {
	out := make(domain.FieldErrors, len(errs))
	for k, msgs := range errs {
		out[k] = append([]string(nil), msgs...)
	}
	return out
}

func copyDepartment(d *domain.Department) *domain.Department {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func copyJobRole(r *domain.JobRole) *domain.JobRole {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
