// Package live serves learning pages over WebSocket connections.
package live

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Conn is the part of a WebSocket connection the manager needs.
type Conn interface {
	Close(code websocket.StatusCode, reason string) error
}

// Manager tracks the single active page connection of each device.
type Manager struct {
	mu     sync.RWMutex
	active map[string]Conn
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{active: make(map[string]Conn)}
}

// Active returns the active connection of a device.
func (m *Manager) Active(deviceID string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[deviceID]
}

// Register makes conn the device's active page, closing the one it replaces.
func (m *Manager) Register(deviceID string, conn Conn) {
	m.mu.Lock()
	existing, exists := m.active[deviceID]
	m.active[deviceID] = conn
	m.mu.Unlock()

	if exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "page replaced")
		slog.Info("Page connection replaced", "device_id", deviceID)
	}
	slog.Debug("Page connection registered", "device_id", deviceID)
}

// Unregister removes conn if it is still the device's active page.
func (m *Manager) Unregister(deviceID string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.active[deviceID]; ok && current == conn {
		delete(m.active, deviceID)
		slog.Debug("Page connection unregistered", "device_id", deviceID)
	}
}

// CloseDevice terminates the device's active page, if any.
func (m *Manager) CloseDevice(deviceID string) {
	m.mu.Lock()
	conn, ok := m.active[deviceID]
	delete(m.active, deviceID)
	m.mu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "device closed")
		slog.Info("Page connection closed", "device_id", deviceID)
	}
}

// Count returns the number of devices with an active page.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}
