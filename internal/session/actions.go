// Package session implements the wizard session state machine: a pure
// reducer, a middleware chain for validation and auto-save, and the Provider
// that wires both to storage.
package session

import (
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
)

// ActionType names an action for logging and allow-lists.
type ActionType string

const (
	ActionInitializeSession ActionType = "INITIALIZE_SESSION"
	ActionSetCurrentStep    ActionType = "SET_CURRENT_STEP"
	ActionSetStepData       ActionType = "SET_STEP_DATA"
	ActionSetStepErrors     ActionType = "SET_STEP_ERRORS"
	ActionSetAutoSaving     ActionType = "SET_AUTO_SAVING"
	ActionSessionSaved      ActionType = "SESSION_SAVED"
	ActionResetSession      ActionType = "RESET_SESSION"
	ActionCompleteStep      ActionType = "COMPLETE_STEP"
	ActionSetSelection      ActionType = "SET_SELECTION"
	ActionRestoreSession    ActionType = "RESTORE_SESSION"
	ActionBindAssessment    ActionType = "BIND_ASSESSMENT"
	ActionSessionError      ActionType = "SESSION_ERROR"
)

// Action is a state transition request. The set of actions is closed.
type Action interface {
	Type() ActionType
	isAction()
}

// InitializeSession builds a fresh session. Zero-valued fields fall back to
// defaults; StepData is merged onto each step's default data by step ID.
type InitializeSession struct {
	ID               string
	AssessmentID     string
	CurrentStepIndex int
	StepData         map[string]domain.StepData
}

// SetCurrentStep moves to step Index. Out-of-range indices are ignored.
type SetCurrentStep struct {
	Index int
}

// SetStepData shallow-merges Data into a step and clears its errors.
type SetStepData struct {
	StepIndex   int
	Data        domain.StepData
	IsValid     *bool
	IsCompleted *bool
}

// SetStepErrors replaces a step's errors and marks it invalid.
type SetStepErrors struct {
	StepIndex int
	Errors    domain.FieldErrors
}

// SetAutoSaving toggles the informational save-in-progress flag.
type SetAutoSaving struct {
	Saving bool
}

// SessionSaved records a successful persistence.
type SessionSaved struct {
	Timestamp time.Time
}

// ResetSession discards the session and starts a new one.
type ResetSession struct{}

// CompleteStep marks a step as completed.
type CompleteStep struct {
	StepIndex int
}

// SetSelection records the department and job role the user works in.
type SetSelection struct {
	Department *domain.Department
	JobRole    *domain.JobRole
}

// RestoreSession replaces the state with a recovered snapshot.
type RestoreSession struct {
	Session *domain.AssessmentSession
}

// BindAssessment records the backend assessment the session belongs to.
type BindAssessment struct {
	AssessmentID string
}

// SessionError records a load or save failure.
type SessionError struct {
	Message string
}

func (InitializeSession) Type() ActionType { return ActionInitializeSession }
func (SetCurrentStep) Type() ActionType    { return ActionSetCurrentStep }
func (SetStepData) Type() ActionType       { return ActionSetStepData }
func (SetStepErrors) Type() ActionType     { return ActionSetStepErrors }
func (SetAutoSaving) Type() ActionType     { return ActionSetAutoSaving }
func (SessionSaved) Type() ActionType      { return ActionSessionSaved }
func (ResetSession) Type() ActionType      { return ActionResetSession }
func (CompleteStep) Type() ActionType      { return ActionCompleteStep }
func (SetSelection) Type() ActionType      { return ActionSetSelection }
func (RestoreSession) Type() ActionType    { return ActionRestoreSession }
func (BindAssessment) Type() ActionType    { return ActionBindAssessment }
func (SessionError) Type() ActionType      { return ActionSessionError }

func (InitializeSession) isAction() {}
func (SetCurrentStep) isAction()    {}
func (SetStepData) isAction()       {}
func (SetStepErrors) isAction()     {}
func (SetAutoSaving) isAction()     {}
func (SessionSaved) isAction()      {}
func (ResetSession) isAction()      {}
func (CompleteStep) isAction()      {}
func (SetSelection) isAction()      {}
func (RestoreSession) isAction()    {}
func (BindAssessment) isAction()    {}
func (SessionError) isAction()      {}

// Bool returns a pointer to b, for the optional flags of SetStepData.
func Bool(b bool) *bool {
	return &b
}
