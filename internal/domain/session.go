// Package domain contains core domain types for the assessment wizard.
package domain

import (
	"time"
)

// StepData is the free-form payload of a single wizard step.
type StepData map[string]any

// FieldErrors maps a field name to its human-readable validation messages.
type FieldErrors map[string][]string

// StepState holds one wizard step's state.
type StepState struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	IsCompleted bool        `json:"isCompleted"`
	IsValid     bool        `json:"isValid"`
	Data        StepData    `json:"data"`
	Errors      FieldErrors `json:"errors"`
}

// AssessmentSession is the root state of a wizard run.
//
// Sessions are treated as immutable values: transitions build a new session
// and share every step that did not change.
type AssessmentSession struct {
	ID                 string      `json:"id"`
	AssessmentID       string      `json:"assessmentId,omitempty"`
	CurrentStepIndex   int         `json:"currentStepIndex"`
	Steps              []StepState `json:"steps"`
	IsAutoSaving       bool        `json:"isAutoSaving"`
	LastSaved          *time.Time  `json:"lastSaved"`
	ExpiresAt          time.Time   `json:"expiresAt"`
	CreatedAt          time.Time   `json:"createdAt"`
	SelectedDepartment *Department `json:"selectedDepartment,omitempty"`
	SelectedJobRole    *JobRole    `json:"selectedJobRole,omitempty"`
	LastError          string      `json:"lastError,omitempty"`
}

// TotalSteps returns the number of steps in the session.
func (s *AssessmentSession) TotalSteps() int {
	return len(s.Steps)
}

// Step returns the step at index, or nil when index is out of range.
func (s *AssessmentSession) Step(index int) *StepState {
	if index < 0 || index >= len(s.Steps) {
		return nil
	}
	return &s.Steps[index]
}

// CurrentStep returns the step the user is on.
func (s *AssessmentSession) CurrentStep() *StepState {
	return s.Step(s.CurrentStepIndex)
}

// Expired reports whether the session is stale at now.
func (s *AssessmentSession) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// HasSelection returns true if a department or job role has been chosen.
func (s *AssessmentSession) HasSelection() bool {
	return s.SelectedDepartment != nil || s.SelectedJobRole != nil
}

// Progress returns the number of completed steps and the total.
func (s *AssessmentSession) Progress() (completed, total int) {
	for _, step := range s.Steps {
		if step.IsCompleted {
			completed++
		}
	}
	return completed, len(s.Steps)
}

// Clone returns a shallow copy of the session with its own Steps slice.
// Step data maps are still shared with the original.
func (s *AssessmentSession) Clone() *AssessmentSession {
	c := *s
	c.Steps = make([]StepState, len(s.Steps))
	copy(c.Steps, s.Steps)
	return &c
}

// UserPreferences is the small snapshot kept in the durable local store and
// used to pre-fill future sessions.
type UserPreferences struct {
	SelectedDepartment *Department `json:"selectedDepartment,omitempty"`
	SelectedJobRole    *JobRole    `json:"selectedJobRole,omitempty"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}
