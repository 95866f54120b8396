package session

import (
	"log/slog"

	"github.com/ashureev/readiness-wizard/internal/domain"
	"github.com/ashureev/readiness-wizard/internal/metrics"
)

// Dispatch sends an action down the chain.
type Dispatch func(Action)

// API is what a middleware sees of the session it wraps.
type API interface {
	// State returns the committed state. Only valid inside the chain or a
	// Locked callback.
	State() *domain.AssessmentSession

	// Dispatch runs action through the whole chain. Only valid inside the
	// chain or a Locked callback.
	Dispatch(Action)

	// Locked runs fn with exclusive access to the session, for callbacks
	// fired outside the chain (timers).
	Locked(fn func())
}

// Middleware wraps the next dispatcher in the chain.
type Middleware func(api API) func(next Dispatch) Dispatch

// compose builds the chain so that mws[0] sees actions first.
func compose(api API, base Dispatch, mws ...Middleware) Dispatch {
	d := base
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](api)(d)
	}
	return d
}

// LoggingMiddleware logs and counts every action.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(api API) func(next Dispatch) Dispatch {
		return func(next Dispatch) Dispatch {
			return func(action Action) {
				metrics.ActionsTotal.WithLabelValues(string(action.Type())).Inc()
				before := api.State()
				next(action)
				after := api.State()
				logger.Debug("Session action dispatched",
					"type", action.Type(),
					"session_id", sessionID(after),
					"changed", before != after)
			}
		}
	}
}

func sessionID(s *domain.AssessmentSession) string {
	if s == nil {
		return ""
	}
	return s.ID
}
