// Package janitor removes the data of devices that stopped coming back.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/study-buddy/internal/store"
)

// DefaultInterval is how often the TTL worker sweeps.
const DefaultInterval = 5 * time.Minute

// CleanupCallback is called for every device the TTL worker removes.
type CleanupCallback func(deviceID string)

// StartTTLWorker runs a background goroutine that periodically sweeps for
// devices inactive longer than ttl. The returned channel is closed once the
// worker has stopped.
func StartTTLWorker(ctx context.Context, repo store.Repository, kv store.KV, ttl, interval time.Duration, onCleanup CleanupCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, kv, ttl, onCleanup)
			case <-ctx.Done():
				slog.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

// Sweep removes every expired device: its page is closed, its namespace
// (sessions and pending signals) is dropped, then its row is deleted. It
// returns how many devices were removed.
func Sweep(ctx context.Context, repo store.Repository, kv store.KV, ttl time.Duration, onCleanup CleanupCallback) int {
	expired, err := repo.GetExpiredDevices(ctx, ttl)
	if err != nil {
		slog.Error("TTL worker failed to get expired devices", "error", err)
		return 0
	}
	if len(expired) == 0 {
		return 0
	}

	slog.Info("TTL worker found expired devices", "count", len(expired))

	cleaned := 0
	for _, device := range expired {
		if ctx.Err() != nil {
			break
		}
		if onCleanup != nil {
			onCleanup(device.DeviceID)
		}

		keys, err := kv.DeleteNamespace(ctx, device.DeviceID)
		if err != nil {
			// Keep the row so the next sweep retries the namespace.
			slog.Warn("TTL worker failed to delete device namespace", "error", err, "device_id", device.DeviceID)
			continue
		}
		if err := repo.DeleteDevice(ctx, device.DeviceID); err != nil {
			slog.Warn("TTL worker failed to delete device", "error", err, "device_id", device.DeviceID)
			continue
		}
		slog.Debug("TTL worker removed device", "device_id", device.DeviceID, "keys", keys)
		cleaned++
	}

	slog.Info("TTL worker cleanup completed", "cleaned", cleaned)
	return cleaned
}
