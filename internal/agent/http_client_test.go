package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewHTTPClient(HTTPClientConfig{BaseURL: srv.URL + "/", RequestTimeout: 5 * time.Second}, nil)
	t.Cleanup(c.Close)
	return c
}

func TestInvokeSendsContractAndDecodesReply(t *testing.T) {
	var got Request
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/agent" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = io.WriteString(w, `{"task":"quiz","output":{"raw":"Q1...","questions":[
			{"id":11,"sequence":1,"question":"2+2?","options":["3","4"],"correct_index":1},
			{"id":12,"sequence":2,"question":"no options"},
			"garbage"
		]},"meta":{"quiz_attempt_id":42},"session_id":"s-1"}`)
	})

	resp, err := c.Invoke(context.Background(), Request{Task: TaskQuiz, Input: "Math"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got.Task != TaskQuiz || got.Input != "Math" || got.History == nil {
		t.Fatalf("unexpected request body: %+v", got)
	}
	if got.SessionID != "" {
		t.Fatalf("session_id should be omitted when empty, got %q", got.SessionID)
	}

	quiz := resp.Quiz()
	if quiz.Raw != "Q1..." || len(quiz.Questions) != 2 {
		t.Fatalf("unexpected quiz output: %+v", quiz)
	}
	if !quiz.Questions[0].IsCorrect(1) {
		t.Fatal("expected index 1 to be correct")
	}
	if quiz.Questions[1].Options == nil {
		t.Fatal("missing options should default to an empty list")
	}
	if resp.QuizAttemptID() != 42 {
		t.Fatalf("expected attempt 42, got %d", resp.QuizAttemptID())
	}
	if resp.SessionID != "s-1" {
		t.Fatalf("expected session s-1, got %q", resp.SessionID)
	}
}

func TestResponseAccessorsAreLenient(t *testing.T) {
	tests := []struct {
		name    string
		resp    Response
		answer  string
		summary string
		attempt int64
	}{
		{"empty", Response{}, "", "", 0},
		{"string answer", Response{Output: json.RawMessage(`{"answer":"hi"}`)}, "hi", "", 0},
		{"object answer", Response{Output: json.RawMessage(`{"answer":{"a":1}}`)}, `{"a":1}`, "", 0},
		{"null summary", Response{Output: json.RawMessage(`{"summary":null}`)}, "", "", 0},
		{"summary", Response{Output: json.RawMessage(`{"summary":"weak: trees"}`)}, "", "weak: trees", 0},
		{"string attempt", Response{Meta: json.RawMessage(`{"quiz_attempt_id":"7"}`)}, "", "", 7},
		{"output not object", Response{Output: json.RawMessage(`"plain"`)}, "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.Answer(); got != tt.answer {
				t.Errorf("Answer() = %q, want %q", got, tt.answer)
			}
			if got := tt.resp.Summary(); got != tt.summary {
				t.Errorf("Summary() = %q, want %q", got, tt.summary)
			}
			if got := tt.resp.QuizAttemptID(); got != tt.attempt {
				t.Errorf("QuizAttemptID() = %d, want %d", got, tt.attempt)
			}
		})
	}
}

func TestNon2xxIsErrBackend(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.Invoke(context.Background(), Request{Task: TaskTutor, Input: "x"})
	if !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
	if !strings.Contains(err.Error(), "500") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestTransportErrorIsErrBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(HTTPClientConfig{BaseURL: url, RequestTimeout: time.Second}, nil)
	defer c.Close()
	if err := c.Health(context.Background()); !errors.Is(err, ErrBackend) {
		t.Fatalf("expected ErrBackend, got %v", err)
	}
}

func TestReadEndpointsPassSessionID(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]string{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Path] = r.URL.Query().Get("session_id")
		mu.Unlock()
		switch r.URL.Path {
		case "/api/history":
			_, _ = io.WriteString(w, `{"messages":[{"role":"user","content":"hi","task":"tutor","timestamp":"t"}]}`)
		case "/api/analysis":
			_, _ = io.WriteString(w, `{"summary":null}`)
		case "/api/weak-topics":
			_, _ = io.WriteString(w, `{"weak_topics":[{"id":1,"title":"Trees","detail":"rotations"}]}`)
		case "/api/roadmap":
			_, _ = io.WriteString(w, `{"tasks":[{"id":3,"title":"Review Trees","status":"pending","weak_topic_id":1}]}`)
		case "/api/mastery":
			_, _ = io.WriteString(w, `{"masteries":[{"concept":"Trees","level":0.4}]}`)
		}
	})
	ctx := context.Background()
	sid := "a b&c"

	history, err := c.History(ctx, sid)
	if err != nil || len(history) != 1 || history[0].Task != "tutor" {
		t.Fatalf("History: %+v err=%v", history, err)
	}
	analysis, err := c.LatestAnalysis(ctx, sid)
	if err != nil || analysis != nil {
		t.Fatalf("LatestAnalysis: expected nil, got %+v err=%v", analysis, err)
	}
	topics, err := c.WeakTopics(ctx, sid)
	if err != nil || len(topics) != 1 || topics[0].Title != "Trees" {
		t.Fatalf("WeakTopics: %+v err=%v", topics, err)
	}
	tasks, err := c.RoadmapTasks(ctx, sid)
	if err != nil || len(tasks) != 1 || tasks[0].WeakTopicID == nil || *tasks[0].WeakTopicID != 1 {
		t.Fatalf("RoadmapTasks: %+v err=%v", tasks, err)
	}
	mastery, err := c.ConceptMastery(ctx, sid)
	if err != nil || len(mastery) != 1 || mastery[0]["concept"] != "Trees" {
		t.Fatalf("ConceptMastery: %+v err=%v", mastery, err)
	}

	mu.Lock()
	defer mu.Unlock()
	for path, got := range seen {
		if got != sid {
			t.Errorf("%s: session_id = %q, want %q", path, got, sid)
		}
	}
}

func TestWritesUseBackendPayloads(t *testing.T) {
	var answer domain.QuizAnswer
	var status taskStatusRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/quiz-answer":
			_ = json.NewDecoder(r.Body).Decode(&answer)
		case "/api/roadmap/task-status":
			_ = json.NewDecoder(r.Body).Decode(&status)
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	ctx := context.Background()

	qid := int64(5)
	idx := 2
	if err := c.SubmitQuizAnswer(ctx, domain.QuizAnswer{SessionID: "s", AttemptID: 9, QuestionID: &qid, SelectedIndex: &idx, IsCorrect: true}); err != nil {
		t.Fatalf("SubmitQuizAnswer failed: %v", err)
	}
	if answer.AttemptID != 9 || answer.QuestionID == nil || *answer.QuestionID != 5 || !answer.IsCorrect {
		t.Fatalf("unexpected answer payload: %+v", answer)
	}

	if err := c.UpdateTaskStatus(ctx, "s", 3, domain.TaskComplete); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	if status.TaskID != 3 || status.Status != domain.TaskComplete || status.SessionID != "s" {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestIngestMemoryMultipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		texts := r.MultipartForm.Value["texts"]
		files := r.MultipartForm.File["file"]
		_ = json.NewEncoder(w).Encode(map[string]any{"added": len(texts) + len(files)})
	})

	added, err := c.IngestMemory(context.Background(), []string{"a", "b"}, &MemoryFile{Name: "notes.md", Content: []byte("# notes")})
	if err != nil {
		t.Fatalf("IngestMemory failed: %v", err)
	}
	if added != 3 {
		t.Fatalf("expected 3 added, got %d", added)
	}
}

func TestWaitForReady(t *testing.T) {
	var calls int
	var mu sync.Mutex
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.WaitForReady(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForReady failed: %v", err)
	}
}
