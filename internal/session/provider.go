package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/storage"
	"github.com/ashureev/readiness-wizard/internal/wizard"
)

// ReferenceSource supplies the department and role lookup lists.
type ReferenceSource interface {
	FetchReferenceData(ctx context.Context) (domain.ReferenceData, error)
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// SessionID is used for a fresh session. Empty derives it from
	// AssessmentID or generates one.
	SessionID    string
	AssessmentID string

	Storage   *storage.Manager
	Reference ReferenceSource

	TTL          time.Duration
	Debounce     time.Duration
	SaveInterval time.Duration

	// Validate overrides the step rules, mostly for tests.
	Validate ValidateFunc
	Logger   *slog.Logger
	Now      func() time.Time
}

// Provider owns one wizard session. All mutation goes through Dispatch, which
// runs the middleware chain and the reducer under a single lock.
type Provider struct {
	mu       sync.Mutex
	state    *domain.AssessmentSession
	reducer  Reducer
	dispatch Dispatch
	closed   bool

	storage  *storage.Manager
	autosave *AutoSaver
	logger   *slog.Logger
	now      func() time.Time

	refMu  sync.RWMutex
	ref    domain.ReferenceData
	refErr error

	subMu   sync.Mutex
	subs    map[int]chan *domain.AssessmentSession
	nextSub int
}

// chainAPI is the view middleware gets. Its methods assume p.mu is held.
type chainAPI struct{ p *Provider }

func (c chainAPI) State() *domain.AssessmentSession { return c.p.state }
func (c chainAPI) Dispatch(a Action)                 { c.p.dispatch(a) }
func (c chainAPI) Locked(fn func())                  { c.p.locked(fn) }

// NewProvider restores the tab's stored session when it is still valid for
// the requested assessment, or starts a fresh one.
func NewProvider(ctx context.Context, opts ProviderOptions) (*Provider, error) {
	if opts.Storage == nil {
		return nil, errors.New("session provider requires a storage manager")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = timeNow
	}

	p := &Provider{
		reducer: Reducer{TTL: opts.TTL, Now: now},
		storage: opts.Storage,
		logger:  logger,
		now:     now,
		subs:    make(map[int]chan *domain.AssessmentSession),
	}
	p.autosave = NewAutoSaver(opts.Storage, opts.Debounce, opts.SaveInterval, logger)
	p.autosave.now = now

	api := chainAPI{p: p}
	base := func(a Action) { p.state = p.reducer.Reduce(p.state, a) }
	p.dispatch = compose(api, base,
		LoggingMiddleware(logger),
		ValidationMiddleware(opts.Validate),
		p.autosave.Middleware(),
	)

	if saved := p.restore(ctx, opts.AssessmentID); saved != nil {
		p.Dispatch(RestoreSession{Session: saved})
		logger.Info("Session restored", "session_id", saved.ID, "step", saved.CurrentStepIndex)
	} else {
		p.Dispatch(InitializeSession{ID: opts.SessionID, AssessmentID: opts.AssessmentID})
		logger.Info("Session initialized", "session_id", p.State().ID, "assessment_id", opts.AssessmentID)
	}

	p.prefill(ctx)
	p.loadReferenceData(ctx, opts.Reference)
	return p, nil
}

func (p *Provider) restore(ctx context.Context, assessmentID string) *domain.AssessmentSession {
	var saved domain.AssessmentSession
	if !p.storage.Load(ctx, KeyCurrentSession, storage.SessionStore, &saved) {
		return nil
	}
	switch {
	case saved.Expired(p.now()):
		p.logger.Info("Stored session expired", "session_id", saved.ID)
		p.storage.Remove(ctx, KeyCurrentSession, storage.SessionStore)
		return nil
	case assessmentID != "" && saved.AssessmentID != assessmentID:
		p.logger.Debug("Stored session belongs to another assessment",
			"session_id", saved.ID, "stored", saved.AssessmentID, "requested", assessmentID)
		return nil
	case len(saved.Steps) != wizard.TotalSteps():
		p.logger.Warn("Stored session has an unexpected step count, discarding",
			"session_id", saved.ID, "steps", len(saved.Steps))
		return nil
	}
	return &saved
}

func (p *Provider) prefill(ctx context.Context) {
	if p.State().HasSelection() {
		return
	}
	var prefs domain.UserPreferences
	if !p.storage.Load(ctx, KeyUserPreferences, storage.LocalStore, &prefs) {
		return
	}
	if prefs.SelectedDepartment == nil && prefs.SelectedJobRole == nil {
		return
	}
	p.Dispatch(SetSelection{Department: prefs.SelectedDepartment, JobRole: prefs.SelectedJobRole})
}

func (p *Provider) loadReferenceData(ctx context.Context, src ReferenceSource) {
	ref := domain.ReferenceData{Hierarchical: []domain.Department{}, Roles: []domain.JobRole{}}
	var fetchErr error
	if src != nil {
		data, err := src.FetchReferenceData(ctx)
		if err != nil {
			fetchErr = err
			p.logger.Error("Failed to load reference data", "session_id", p.State().ID, "error", err)
		} else {
			if data.Hierarchical != nil {
				ref.Hierarchical = data.Hierarchical
			}
			if data.Roles != nil {
				ref.Roles = data.Roles
			}
		}
	}

	p.refMu.Lock()
	p.ref = ref
	p.refErr = fetchErr
	p.refMu.Unlock()
}

// ReferenceData returns the lookup lists fetched when the session started.
// On a failed fetch the lists are empty and the error is returned alongside.
func (p *Provider) ReferenceData() (domain.ReferenceData, error) {
	p.refMu.RLock()
	defer p.refMu.RUnlock()
	return p.ref, p.refErr
}

// State returns the committed session. The value must not be modified.
func (p *Provider) State() *domain.AssessmentSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Dispatch runs action through the chain and returns the resulting state.
func (p *Provider) Dispatch(action Action) *domain.AssessmentSession {
	var out *domain.AssessmentSession
	p.locked(func() {
		if !p.closed {
			p.dispatch(action)
		}
		out = p.state
	})
	return out
}

// locked runs fn under the session lock and publishes the state if fn
// changed it. Publishing under the lock keeps subscribers in commit order.
func (p *Provider) locked(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	before := p.state
	fn()
	if p.state != before && p.state != nil {
		p.publish(p.state)
	}
}

// dispatchFrom picks an action from the current state and dispatches it
// without letting another writer in between.
func (p *Provider) dispatchFrom(pick func(s *domain.AssessmentSession) Action) *domain.AssessmentSession {
	var out *domain.AssessmentSession
	p.locked(func() {
		if !p.closed && p.state != nil {
			if a := pick(p.state); a != nil {
				p.dispatch(a)
			}
		}
		out = p.state
	})
	return out
}

// SetStepData merges data into the step at index.
func (p *Provider) SetStepData(index int, data domain.StepData) *domain.AssessmentSession {
	return p.Dispatch(SetStepData{StepIndex: index, Data: data})
}

// GoToStep moves to index. Forward moves off an invalid step are refused.
func (p *Provider) GoToStep(index int) *domain.AssessmentSession {
	return p.Dispatch(SetCurrentStep{Index: index})
}

// NextStep moves one step forward.
func (p *Provider) NextStep() *domain.AssessmentSession {
	return p.dispatchFrom(func(s *domain.AssessmentSession) Action {
		return SetCurrentStep{Index: s.CurrentStepIndex + 1}
	})
}

// PreviousStep moves one step back.
func (p *Provider) PreviousStep() *domain.AssessmentSession {
	return p.dispatchFrom(func(s *domain.AssessmentSession) Action {
		return SetCurrentStep{Index: s.CurrentStepIndex - 1}
	})
}

// CompleteStep marks the step at index completed.
func (p *Provider) CompleteStep(index int) *domain.AssessmentSession {
	return p.Dispatch(CompleteStep{StepIndex: index})
}

// SetSelection records the user's department and job role.
func (p *Provider) SetSelection(dept *domain.Department, role *domain.JobRole) *domain.AssessmentSession {
	return p.Dispatch(SetSelection{Department: dept, JobRole: role})
}

// BindAssessment ties the session to a backend assessment.
func (p *Provider) BindAssessment(assessmentID string) *domain.AssessmentSession {
	return p.Dispatch(BindAssessment{AssessmentID: assessmentID})
}

// SeedRoleKeyedData makes sure the map under field on the step at stepIndex
// holds an entry for every selected role, keyed by the role's string ID.
// Existing entries are kept. Keys that spell a role ID differently, such
// as "7.0", are folded into the canonical RoleKey form.
func (p *Provider) SeedRoleKeyedData(stepIndex int, field string) *domain.AssessmentSession {
	return p.dispatchFrom(func(s *domain.AssessmentSession) Action {
		step := s.Step(stepIndex)
		if step == nil {
			return nil
		}
		keys := domain.SelectedRoleKeys(s)
		current, _ := step.Data[field].(map[string]any)

		seeded := make(map[string]any, len(current)+len(keys))
		changed := current == nil
		for k, v := range current {
			norm := domain.RoleKey(k)
			if norm != k {
				changed = true
			}
			seeded[norm] = domain.CloneValue(v)
		}
		for _, k := range keys {
			if _, ok := seeded[k]; !ok {
				seeded[k] = map[string]any{}
				changed = true
			}
		}
		if !changed {
			return nil
		}
		return SetStepData{StepIndex: stepIndex, Data: domain.StepData{field: seeded}}
	})
}

// Reset discards the session and its stored snapshot and starts over.
func (p *Provider) Reset(ctx context.Context) *domain.AssessmentSession {
	p.autosave.Cancel()
	p.storage.Remove(ctx, KeyCurrentSession, storage.SessionStore)
	s := p.Dispatch(ResetSession{})
	p.logger.Info("Session reset", "session_id", s.ID)
	return s
}

// Flush saves pending edits now instead of waiting for the timers.
func (p *Provider) Flush() {
	p.autosave.FlushNow()
}

// Subscribe returns a channel that always holds the latest committed state.
// Slow readers skip intermediate states. The channel is closed on Close or
// when the returned cancel func is called.
func (p *Provider) Subscribe() (<-chan *domain.AssessmentSession, func()) {
	ch := make(chan *domain.AssessmentSession, 1)

	p.mu.Lock()
	p.subMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	if p.state != nil {
		ch <- p.state
	}
	p.subMu.Unlock()
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

func (p *Provider) publish(s *domain.AssessmentSession) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for _, ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}

// Close saves pending edits, stops the timers and ends all subscriptions.
// Further dispatches are ignored.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if p.autosave.Pending() {
		p.autosave.FlushNow()
	}
	p.autosave.Cancel()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.subMu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.subMu.Unlock()
}
