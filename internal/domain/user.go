// Package domain contains core domain types for the study buddy application.
package domain

import (
	"time"
)

// Device represents an anonymous browser identity. Every device owns one
// key/value namespace holding its sessions and pending signals.
type Device struct {
	DeviceID   string    `json:"device_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Idle returns how long the device has been inactive.
func (d *Device) Idle(now time.Time) time.Duration {
	idle := now.Sub(d.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}

// Expired reports whether the device has been inactive for longer than ttl.
func (d *Device) Expired(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && d.Idle(now) > ttl
}
