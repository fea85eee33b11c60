// Package api provides HTTP handlers for the Study Buddy API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/identity"
	"github.com/ashureev/study-buddy/internal/session"
	"github.com/ashureev/study-buddy/internal/signal"
	"github.com/ashureev/study-buddy/internal/store"
	"github.com/go-chi/chi/v5"
)

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	kv     store.KV
	agent  *agent.Service
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, kv store.KV, svc *agent.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:   repo,
		kv:     kv,
		agent:  svc,
		logger: logger,
	}
}

// RegisterRoutes registers every /api route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/session", h.CurrentSession)
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions", h.CreateSession)
		r.Post("/sessions/{id}/switch", h.SwitchSession)
		r.Delete("/sessions/{id}", h.DeleteSession)
		r.Get("/signals", h.PendingSignals)
		r.Post("/memory", h.IngestMemory)
		r.Get("/mastery", h.Mastery)
	})
}

func (h *Handler) sessionsFor(r *http.Request) (*session.Store, string) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	return session.New(store.Scope(h.kv, deviceID), session.WithLogger(h.logger)), deviceID
}

func (h *Handler) signalsFor(r *http.Request) *signal.Channel {
	return signal.NewChannel(store.Scope(h.kv, identity.DeviceIDFromContext(r.Context())), signal.WithLogger(h.logger))
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
