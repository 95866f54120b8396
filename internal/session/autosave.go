package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/metrics"
	"github.com/ashureev/readiness-wizard/internal/storage"
)

// Storage keys, relative to the store prefixes.
const (
	KeyCurrentSession  = "current_session"
	KeyUserPreferences = "user_preferences"
)

// Default auto-save timings.
const (
	DefaultDebounce     = 1000 * time.Millisecond
	DefaultSaveInterval = 5000 * time.Millisecond
)

const saveTimeout = 5 * time.Second

var autoSaveTriggers = map[ActionType]bool{
	ActionSetStepData:    true,
	ActionSetSelection:   true,
	ActionCompleteStep:   true,
	ActionSetCurrentStep: true,
}

// AutoSaver persists committed state after qualifying actions.
//
// Every qualifying action restarts the debounce timer. The first qualifying
// action of a burst also arms the backstop timer, which later actions do not
// reset, so continuous input is still flushed at least once per interval.
// Whichever timer fires first flushes and disarms both.
type AutoSaver struct {
	storage  *storage.Manager
	debounce time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	api       API
	debounceT *time.Timer
	backstopT *time.Timer
	burst     uint64 // identifies the current timer pair
	restart   uint64 // identifies the live debounce timer within a burst
	epoch     uint64 // bumped by Cancel to invalidate in-flight saves
	dirty     bool   // edits not yet captured by a flush

	saveMu sync.Mutex // one flush at a time
}

// NewAutoSaver creates an auto-saver. Non-positive durations use the defaults.
func NewAutoSaver(mgr *storage.Manager, debounce, interval time.Duration, logger *slog.Logger) *AutoSaver {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if interval <= 0 {
		interval = DefaultSaveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoSaver{
		storage:  mgr,
		debounce: debounce,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Middleware returns the auto-save middleware bound to this saver.
func (a *AutoSaver) Middleware() Middleware {
	return func(api API) func(next Dispatch) Dispatch {
		a.mu.Lock()
		a.api = api
		a.mu.Unlock()

		return func(next Dispatch) Dispatch {
			return func(action Action) {
				before := api.State()
				next(action)
				if !autoSaveTriggers[action.Type()] || api.State() == before {
					return
				}
				a.schedule()
			}
		}
	}
}

func (a *AutoSaver) schedule() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.dirty = true
	burst := a.burst
	if a.debounceT != nil {
		a.debounceT.Stop()
	}
	a.restart++
	restart := a.restart
	a.debounceT = time.AfterFunc(a.debounce, func() { a.fire(burst, restart) })
	if a.backstopT == nil {
		a.backstopT = time.AfterFunc(a.interval, func() { a.fire(burst, 0) })
	}
}

// Pending reports whether there are edits no flush has picked up yet.
func (a *AutoSaver) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

// fire runs a timer's flush. restart is zero for the backstop; a debounce
// callback whose timer was replaced after it had already fired is stale.
func (a *AutoSaver) fire(burst, restart uint64) {
	a.mu.Lock()
	if burst != a.burst || (restart != 0 && restart != a.restart) {
		// Superseded debounce, the other timer already flushed, or Cancel ran.
		a.mu.Unlock()
		return
	}
	a.stopTimersLocked()
	epoch := a.epoch
	a.mu.Unlock()

	a.flush(epoch)
}

func (a *AutoSaver) stopTimersLocked() {
	if a.debounceT != nil {
		a.debounceT.Stop()
		a.debounceT = nil
	}
	if a.backstopT != nil {
		a.backstopT.Stop()
		a.backstopT = nil
	}
	a.burst++
}

func (a *AutoSaver) current(epoch uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return epoch == a.epoch
}

func (a *AutoSaver) flush(epoch uint64) {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	if !a.current(epoch) {
		return
	}

	a.mu.Lock()
	api := a.api
	a.mu.Unlock()
	if api == nil {
		return
	}

	var snapshot *domain.AssessmentSession
	api.Locked(func() {
		api.Dispatch(SetAutoSaving{Saving: true})
		snapshot = api.State()
		a.mu.Lock()
		a.dirty = false
		a.mu.Unlock()
	})
	if snapshot == nil {
		return
	}

	start := time.Now()
	err := a.persist(snapshot)
	metrics.AutoSaveDuration.Observe(time.Since(start).Seconds())

	if !a.current(epoch) {
		return
	}
	api.Locked(func() {
		if err != nil {
			metrics.AutoSavesTotal.WithLabelValues("failed").Inc()
			a.logger.Warn("Auto-save failed", "session_id", snapshot.ID, "error", err)
			api.Dispatch(SessionError{Message: fmt.Sprintf("Failed to save session: %v", err)})
			return
		}
		metrics.AutoSavesTotal.WithLabelValues("saved").Inc()
		api.Dispatch(SessionSaved{Timestamp: a.now()})
	})
}

func (a *AutoSaver) persist(s *domain.AssessmentSession) error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	// The in-flight flag belongs to this write, not to the stored snapshot.
	stored := *s
	stored.IsAutoSaving = false
	if err := a.storage.Save(ctx, KeyCurrentSession, &stored, storage.SessionStore); err != nil {
		return err
	}

	if s.HasSelection() {
		prefs := domain.UserPreferences{
			SelectedDepartment: s.SelectedDepartment,
			SelectedJobRole:    s.SelectedJobRole,
			UpdatedAt:          a.now(),
		}
		if err := a.storage.Save(ctx, KeyUserPreferences, prefs, storage.LocalStore); err != nil {
			return err
		}
	}
	return nil
}

// FlushNow cancels pending timers and saves immediately.
func (a *AutoSaver) FlushNow() {
	a.mu.Lock()
	a.stopTimersLocked()
	epoch := a.epoch
	a.mu.Unlock()

	a.flush(epoch)
}

// Cancel stops pending timers and waits for an in-flight save to finish.
// Results of that save are discarded. Must not be called from inside the
// chain or a Locked callback.
func (a *AutoSaver) Cancel() {
	a.mu.Lock()
	a.stopTimersLocked()
	a.epoch++
	a.dirty = false
	a.mu.Unlock()

	a.saveMu.Lock()
	defer a.saveMu.Unlock()
}
