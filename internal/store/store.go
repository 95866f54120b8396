// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/readiness-wizard/internal/domain"
)

// Repository defines the interface for persisting devices and their durable
// key-value entries.
type Repository interface {
	// GetDevice retrieves a device by its ID. Returns nil, nil when absent.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// UpdateLastSeen updates the last_seen_at timestamp for a device.
	UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error

	// GetValue returns the value stored under namespace/key.
	GetValue(ctx context.Context, namespace, key string) (string, bool, error)

	// PutValue creates or replaces the value under namespace/key.
	PutValue(ctx context.Context, namespace, key, value string) error

	// DeleteValue removes namespace/key.
	DeleteValue(ctx context.Context, namespace, key string) error

	// ListKeys lists the keys of a namespace in key order.
	ListKeys(ctx context.Context, namespace string) ([]string, error)

	// DeleteInactiveDevices removes devices (and their entries) not seen for ttl.
	DeleteInactiveDevices(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
