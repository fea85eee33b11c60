package api

import (
	"net/http"
	"time"

	"github.com/ashureev/study-buddy/internal/registry"
	"github.com/go-chi/chi/v5"
)

// CurrentSession returns the device's current session, if any.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	sessions, _ := h.sessionsFor(r)
	id, ok, err := sessions.Current(r.Context())
	if err != nil {
		h.logger.Error("Failed to read current session", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"started":    ok,
	})
}

// ListSessions returns the session registry view, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, _ := h.sessionsFor(r)
	entries, err := registry.Build(r.Context(), sessions, time.Now())
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if entries == nil {
		entries = []registry.Entry{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": entries})
}

// CreateSession starts a new session and makes it current.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessions, deviceID := h.sessionsFor(r)
	created, err := sessions.Create(r.Context())
	if err != nil {
		h.logger.Error("Failed to create session", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.logger.Info("Session created", "device_id", deviceID, "session_id", created.ID)
	JSON(w, http.StatusCreated, created)
}

// SwitchSession makes a known session current.
func (h *Handler) SwitchSession(w http.ResponseWriter, r *http.Request) {
	sessions, deviceID := h.sessionsFor(r)
	id := chi.URLParam(r, "id")

	all, err := sessions.ListAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	known := false
	for _, s := range all {
		if s.ID == id {
			known = true
			break
		}
	}
	if !known {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	if err := sessions.SwitchTo(r.Context(), id); err != nil {
		h.logger.Error("Failed to switch session", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to switch session")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// DeleteSession forgets a session locally. When it was current, the
// replacement session is returned.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessions, deviceID := h.sessionsFor(r)
	id := chi.URLParam(r, "id")

	replacement, err := sessions.DeleteMetadata(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to delete session", "device_id", deviceID, "session_id", id, "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	resp := map[string]any{"deleted": id}
	if replacement != nil {
		resp["current"] = replacement
	}
	JSON(w, http.StatusOK, resp)
}

// PendingSignals lists the signals waiting for a page.
func (h *Handler) PendingSignals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.signalsFor(r).Pending(r.Context())
	if err != nil {
		h.logger.Error("Failed to read signals", "error", err)
		Error(w, http.StatusInternalServerError, "failed to read signals")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"pending": pending})
}
