// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
)

// Common errors for store construction.
var (
	ErrInvalidConfig    = errors.New("invalid store configuration")
	ErrInvalidStoreType = errors.New("invalid store type")
)

// Repository defines the interface for persisting anonymous devices.
type Repository interface {
	// GetDevice retrieves a device by id. Returns nil, nil when absent.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// UpdateLastSeen updates the last_seen_at timestamp for a device.
	UpdateLastSeen(ctx context.Context, deviceID string, lastSeen time.Time) error

	// GetExpiredDevices retrieves devices inactive for longer than ttl.
	GetExpiredDevices(ctx context.Context, ttl time.Duration) ([]*domain.Device, error)

	// DeleteDevice removes a device record.
	DeleteDevice(ctx context.Context, deviceID string) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// KV is a namespaced string key/value store. Each device owns one namespace;
// it plays the role a browser's local storage plays for a single-page app.
type KV interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, ns, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, ns, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, ns, key string) error

	// Take atomically reads and deletes key. Of several concurrent
	// callers at most one observes the value.
	Take(ctx context.Context, ns, key string) (string, bool, error)

	// Keys lists the keys in ns starting with prefix, in lexical order.
	Keys(ctx context.Context, ns, prefix string) ([]string, error)

	// DeleteNamespace removes every key in ns and returns how many were removed.
	DeleteNamespace(ctx context.Context, ns string) (int64, error)

	// Close releases the store's resources.
	Close() error
}

// Namespace is a KV bound to a single namespace.
type Namespace interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Take(ctx context.Context, key string) (string, bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Scope binds kv to the namespace ns.
func Scope(kv KV, ns string) Namespace {
	return scoped{kv: kv, ns: ns}
}

type scoped struct {
	kv KV
	ns string
}

func (s scoped) Get(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Get(ctx, s.ns, key)
}

func (s scoped) Set(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, s.ns, key, value)
}

func (s scoped) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, s.ns, key)
}

func (s scoped) Take(ctx context.Context, key string) (string, bool, error) {
	return s.kv.Take(ctx, s.ns, key)
}

func (s scoped) Keys(ctx context.Context, prefix string) ([]string, error) {
	return s.kv.Keys(ctx, s.ns, prefix)
}
