package session

import (
	"context"
	"log/slog"
	"time"
)

// DeviceReaper deletes devices, and their durable entries, that have not
// been seen for a while.
type DeviceReaper interface {
	DeleteInactiveDevices(ctx context.Context, ttl time.Duration) (int64, error)
}

// SweeperConfig configures StartSweeper.
type SweeperConfig struct {
	// IdleTTL is how long a tab may go untouched before it counts as closed.
	IdleTTL  time.Duration
	Interval time.Duration

	// Devices, when set, is pruned of devices idle for DeviceRetention.
	Devices         DeviceReaper
	DeviceRetention time.Duration
}

// StartSweeper runs a background goroutine that periodically closes tab
// sessions idle longer than cfg.IdleTTL.
func StartSweeper(ctx context.Context, reg *Registry, cfg SweeperConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	ticker := time.NewTicker(cfg.Interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", cfg.Interval, "ttl", cfg.IdleTTL)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, reg, cfg)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, reg *Registry, cfg SweeperConfig) int {
	idle := reg.Idle(cfg.IdleTTL)
	for _, t := range idle {
		slog.Info("Session sweeper closing idle tab", "device_id", t.DeviceID, "tab_id", t.TabID)
		reg.Remove(t.DeviceID, t.TabID)
	}
	if len(idle) > 0 {
		slog.Info("Session sweeper cleanup completed", "closed", len(idle))
	}

	if cfg.Devices != nil && cfg.DeviceRetention > 0 {
		if deleted, err := cfg.Devices.DeleteInactiveDevices(ctx, cfg.DeviceRetention); err != nil {
			slog.Error("Session sweeper failed to delete inactive devices", "error", err)
		} else if deleted > 0 {
			slog.Info("Session sweeper deleted inactive devices", "count", deleted)
		}
	}
	return len(idle)
}
