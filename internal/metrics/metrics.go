// Package metrics declares the Prometheus collectors of the wizard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActionsTotal counts actions dispatched through session middleware.
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wizard",
		Name:      "actions_total",
		Help:      "Session actions dispatched, by action type.",
	}, []string{"type"})

	// NavigationBlockedTotal counts forward navigations suppressed by validation.
	NavigationBlockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wizard",
		Name:      "navigation_blocked_total",
		Help:      "Forward navigations suppressed because the current step failed validation.",
	})

	// AutoSavesTotal counts auto-save flushes by result (saved, failed).
	AutoSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wizard",
		Name:      "autosaves_total",
		Help:      "Auto-save flushes, by result.",
	}, []string{"result"})

	// AutoSaveDuration observes how long a flush takes.
	AutoSaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wizard",
		Name:      "autosave_duration_seconds",
		Help:      "Time spent persisting a session snapshot.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})

	// StorageErrorsTotal counts reported storage errors by code.
	StorageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wizard",
		Name:      "storage_errors_total",
		Help:      "Storage errors reported, by error code.",
	}, []string{"code"})

	// ActiveSessions tracks the wizard sessions held in memory.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wizard",
		Name:      "active_sessions",
		Help:      "Wizard tab sessions currently held in memory.",
	})

	// BackendRequestsTotal counts assessment API calls by operation and outcome.
	BackendRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wizard",
		Name:      "backend_requests_total",
		Help:      "Assessment API requests, by operation and outcome.",
	}, []string{"operation", "outcome"})
)
