package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrBackend wraps every transport failure and non-2xx reply.
var ErrBackend = errors.New("agent backend error")

const maxErrorBody = 512

// HTTPClient is the JSON/HTTP client for the agent backend.
type HTTPClient struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger
}

// HTTPClientConfig holds configuration for the backend client.
type HTTPClientConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultHTTPClientConfig returns default configuration.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		BaseURL:        "http://127.0.0.1:8001",
		RequestTimeout: 60 * time.Second,
		ConnectTimeout: 5 * time.Second,
		PollInterval:   250 * time.Millisecond,
	}
}

// NewHTTPClient creates a backend client. No network I/O happens here.
func NewHTTPClient(cfg HTTPClientConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultHTTPClientConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &HTTPClient{
		http: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(transport),
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  logger,
	}
}

// WaitForReady polls the health endpoint until it answers or ctx ends.
func (c *HTTPClient) WaitForReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultHTTPClientConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := c.Health(ctx)
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("backend at %s not ready: %w", c.baseURL, err)
		case <-ticker.C:
		}
	}
}

// Close releases idle connections.
func (c *HTTPClient) Close() {
	c.http.CloseIdleConnections()
}

// Health checks if the agent backend is healthy.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, "", nil)
}

// Invoke runs an agent task.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.History == nil {
		req.History = []domain.Message{}
	}
	var resp Response
	if err := c.postJSON(ctx, "/api/agent", req, &resp); err != nil {
		return nil, err
	}
	c.logger.Debug("agent task completed", "task", req.Task, "session_id", resp.SessionID)
	return &resp, nil
}

// SubmitQuizAnswer records one quiz answer.
func (c *HTTPClient) SubmitQuizAnswer(ctx context.Context, answer domain.QuizAnswer) error {
	return c.postJSON(ctx, "/api/quiz-answer", answer, nil)
}

// UpdateTaskStatus sets a roadmap task status.
func (c *HTTPClient) UpdateTaskStatus(ctx context.Context, sessionID string, taskID int64, status domain.TaskStatus) error {
	return c.postJSON(ctx, "/api/roadmap/task-status", taskStatusRequest{
		SessionID: sessionID,
		TaskID:    taskID,
		Status:    status,
	}, nil)
}

// History returns the stored conversation of a session.
func (c *HTTPClient) History(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error) {
	var resp historyResponse
	if err := c.getSession(ctx, "/api/history", sessionID, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// LatestAnalysis returns the last analysis summary, or nil.
func (c *HTTPClient) LatestAnalysis(ctx context.Context, sessionID string) (*domain.AnalysisSummary, error) {
	var resp analysisResponse
	if err := c.getSession(ctx, "/api/analysis", sessionID, &resp); err != nil {
		return nil, err
	}
	if resp.Summary == nil || *resp.Summary == "" {
		return nil, nil
	}
	return &domain.AnalysisSummary{Summary: *resp.Summary, Timestamp: resp.Timestamp}, nil
}

// WeakTopics returns the weak topics identified for a session.
func (c *HTTPClient) WeakTopics(ctx context.Context, sessionID string) ([]domain.WeakTopic, error) {
	var resp weakTopicsResponse
	if err := c.getSession(ctx, "/api/weak-topics", sessionID, &resp); err != nil {
		return nil, err
	}
	return resp.WeakTopics, nil
}

// RoadmapTasks returns the roadmap of a session.
func (c *HTTPClient) RoadmapTasks(ctx context.Context, sessionID string) ([]domain.RoadmapTask, error) {
	var resp roadmapResponse
	if err := c.getSession(ctx, "/api/roadmap", sessionID, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// ConceptMastery returns per-concept mastery records.
func (c *HTTPClient) ConceptMastery(ctx context.Context, sessionID string) ([]domain.ConceptMastery, error) {
	var resp masteryResponse
	if err := c.getSession(ctx, "/api/mastery", sessionID, &resp); err != nil {
		return nil, err
	}
	return resp.Masteries, nil
}

// IngestMemory uploads texts and an optional file as multipart form data.
func (c *HTTPClient) IngestMemory(ctx context.Context, texts []string, file *MemoryFile) (int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, text := range texts {
		if err := mw.WriteField("texts", text); err != nil {
			return 0, fmt.Errorf("encode memory text: %w", err)
		}
	}
	if file != nil {
		name := file.Name
		if name == "" {
			name = "upload.txt"
		}
		part, err := mw.CreateFormFile("file", name)
		if err != nil {
			return 0, fmt.Errorf("encode memory file: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return 0, fmt.Errorf("encode memory file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("encode memory form: %w", err)
	}

	var resp memoryResponse
	if err := c.do(ctx, http.MethodPost, "/api/memory", &body, mw.FormDataContentType(), &resp); err != nil {
		return 0, err
	}
	return resp.Added, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(payload), "application/json", out)
}

func (c *HTTPClient) getSession(ctx context.Context, path, sessionID string, out any) error {
	return c.do(ctx, http.MethodGet, path+"?session_id="+url.QueryEscape(sessionID), nil, "", out)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrBackend, method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close backend response body", "path", path, "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Warn("backend returned error status", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrBackend, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %w", ErrBackend, path, err)
	}
	return nil
}
