package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/domain"
)

const (
	maxMemoryUpload    = 10 << 20
	healthCheckTimeout = 5 * time.Second
)

// IngestMemory forwards texts and an optional file to the backend memory.
func (h *Handler) IngestMemory(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMemoryUpload)
	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	var texts []string
	for _, t := range r.MultipartForm.Value["texts"] {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}

	var file *agent.MemoryFile
	if f, header, err := r.FormFile("file"); err == nil {
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			Error(w, http.StatusBadRequest, "failed to read file")
			return
		}
		file = &agent.MemoryFile{Name: header.Filename, Content: content}
	} else if !errors.Is(err, http.ErrMissingFile) {
		Error(w, http.StatusBadRequest, "invalid file")
		return
	}

	if len(texts) == 0 && file == nil {
		Error(w, http.StatusBadRequest, "nothing to ingest")
		return
	}

	added, err := h.agent.IngestMemory(r.Context(), texts, file)
	if err != nil {
		h.logger.Warn("Memory ingestion failed", "error", err)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]int{"added": added})
}

// Mastery returns concept mastery for the current session. Without a
// session the list is empty.
func (h *Handler) Mastery(w http.ResponseWriter, r *http.Request) {
	sessions, _ := h.sessionsFor(r)
	id, ok, err := sessions.Current(r.Context())
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	if !ok {
		JSON(w, http.StatusOK, map[string]any{"mastery": []domain.ConceptMastery{}})
		return
	}

	mastery, err := h.agent.ConceptMastery(r.Context(), id)
	if err != nil {
		h.logger.Warn("Mastery lookup failed", "session_id", id, "error", err)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if mastery == nil {
		mastery = []domain.ConceptMastery{}
	}
	JSON(w, http.StatusOK, map[string]any{"mastery": mastery})
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok", "backend": "ok"}
	status := map[string]any{"status": "healthy", "checks": checks}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status["status"] = "degraded"
		statusCode = http.StatusServiceUnavailable
	}
	if err := h.agent.Health(ctx); err != nil {
		h.logger.Warn("Backend health check failed", "error", err)
		checks["backend"] = "unreachable"
		status["status"] = "degraded"
	}

	JSON(w, statusCode, status)
}
