package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/study-buddy/internal/flow"
	"github.com/ashureev/study-buddy/internal/identity"
	"github.com/ashureev/study-buddy/internal/middleware"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

const (
	writeTimeout = 10 * time.Second
	actionQueue  = 16
	// Frames per second a single connection may send, and the burst above it.
	frameRate  = 10
	frameBurst = 20
)

// EnvFunc builds the flow environment of a device.
type EnvFunc func(deviceID string) *flow.Env

// Handler serves GET /ws/pages/{page}.
type Handler struct {
	envFor        EnvFunc
	mgr           *Manager
	limiter       *middleware.RateLimiter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a page WebSocket handler. limiter bounds page actions
// per device and may be nil.
func NewHandler(envFor EnvFunc, mgr *Manager, limiter *middleware.RateLimiter, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		envFor:        envFor,
		mgr:           mgr,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// Event is a server to client message.
type Event struct {
	Type   string     `json:"type"`
	State  *flow.View `json:"state,omitempty"`
	Path   string     `json:"path,omitempty"`
	Reload bool       `json:"reload,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Event types.
const (
	EventState    = "state"
	EventNavigate = "navigate"
	EventError    = "error"
	EventPong     = "pong"
)

// pageConn serializes writes to one connection.
type pageConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *pageConn) send(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// Routes registers the page endpoint.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/ws/pages/{page}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	page := chi.URLParam(r, "page")
	logger := h.logger.With("device_id", deviceID, "page", page)

	if deviceID == "" {
		http.Error(w, "missing device identity", http.StatusUnauthorized)
		return
	}
	if _, ok := flow.StageForPage(page); !ok {
		http.Error(w, "unknown page", http.StatusNotFound)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		_ = ws.Close(websocket.StatusNormalClosure, "page closed")
	}()

	h.mgr.Register(deviceID, ws)
	defer h.mgr.Unregister(deviceID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := &pageConn{ws: ws}
	controller, err := flow.NewController(page, h.envFor(deviceID), func(v flow.View) {
		if err := conn.send(Event{Type: EventState, State: &v}); err != nil && ctx.Err() == nil {
			logger.Debug("Failed to send state", "error", err)
		}
	})
	if err != nil {
		logger.Error("Failed to create page controller", "error", err)
		return
	}

	logger.Info("Page mounted")
	actions := make(chan flow.Action, actionQueue)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := controller.Mount(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Page mount failed", "error", err)
			_ = conn.send(Event{Type: EventError, Error: err.Error()})
		}
	}()

	go func() {
		defer wg.Done()
		h.actionLoop(ctx, cancel, conn, controller, actions, logger)
	}()

	h.readLoop(ctx, conn, actions, deviceID, logger)
	cancel()
	wg.Wait()
	logger.Info("Page unmounted")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop decodes client frames until the connection fails or ctx ends.
func (h *Handler) readLoop(ctx context.Context, conn *pageConn, actions chan<- flow.Action, deviceID string, logger *slog.Logger) {
	frames := rate.NewLimiter(rate.Limit(frameRate), frameBurst)
	for {
		_, message, err := conn.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				logger.Debug("WebSocket closed")
			} else {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}
		if !frames.Allow() {
			_ = conn.send(Event{Type: EventError, Error: "too many messages"})
			continue
		}

		var action flow.Action
		if err := json.Unmarshal(message, &action); err != nil {
			_ = conn.send(Event{Type: EventError, Error: "malformed message"})
			continue
		}

		if action.Type == "ping" {
			if err := conn.send(Event{Type: EventPong}); err != nil {
				logger.Debug("Failed to send pong", "error", err)
			}
			continue
		}
		if h.limiter != nil && !h.limiter.Allow(deviceID) {
			_ = conn.send(Event{Type: EventError, Error: "rate limit exceeded"})
			continue
		}

		select {
		case actions <- action:
		default:
			_ = conn.send(Event{Type: EventError, Error: "busy"})
		}
	}
}

// actionLoop runs queued actions one at a time. A navigation ends the
// page: the client is told where to go and the connection is closed.
func (h *Handler) actionLoop(ctx context.Context, cancel context.CancelFunc, conn *pageConn, controller *flow.Controller, actions <-chan flow.Action, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-actions:
			nav, err := controller.Do(ctx, action)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Debug("Page action rejected", "action", action.Type, "error", err)
				_ = conn.send(Event{Type: EventError, Error: err.Error()})
				continue
			}
			if nav == nil {
				continue
			}
			logger.Info("Page navigating", "path", nav.Path)
			if err := conn.send(Event{Type: EventNavigate, Path: nav.Path, Reload: nav.Reload}); err != nil {
				logger.Debug("Failed to send navigation", "error", err)
			}
			_ = conn.ws.Close(websocket.StatusNormalClosure, "navigate")
			cancel()
			return
		}
	}
}
