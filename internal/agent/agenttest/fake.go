// Package agenttest provides an in-memory agent backend for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/domain"
)

// Fake is a scriptable agent.Backend that records every call.
type Fake struct {
	mu sync.Mutex

	// InvokeFunc answers Invoke; nil returns an empty reply for the task.
	InvokeFunc func(ctx context.Context, req agent.Request) (*agent.Response, error)
	// SubmitErr fails every SubmitQuizAnswer call when set.
	SubmitErr error
	// ReadErr fails every read endpoint when set.
	ReadErr error
	// ReadGate, when non-nil, blocks read endpoints until it is closed.
	ReadGate chan struct{}
	// CallErrs fails single read endpoints, keyed by call name ("history").
	CallErrs map[string]error
	// CallDelays holds single read endpoints back, keyed by call name. The
	// wait ends early when the call's context is cancelled.
	CallDelays map[string]time.Duration

	Messages      []domain.HistoryMessage
	Analysis      *domain.AnalysisSummary
	WeakTopicList []domain.WeakTopic
	Tasks         []domain.RoadmapTask
	Mastery       []domain.ConceptMastery

	calls         []string
	requests      []agent.Request
	answers       []domain.QuizAnswer
	statusUpdates []StatusUpdate
	ingested      []string
}

// StatusUpdate is a recorded UpdateTaskStatus call.
type StatusUpdate struct {
	SessionID string
	TaskID    int64
	Status    domain.TaskStatus
}

var _ agent.Backend = (*Fake)(nil)

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *Fake) read(ctx context.Context, call string) error {
	f.record(call)
	if f.ReadGate != nil {
		select {
		case <-f.ReadGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d := f.CallDelays[call]; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	if err := f.CallErrs[call]; err != nil {
		return fmt.Errorf("%w: %w", agent.ErrBackend, err)
	}
	if f.ReadErr != nil {
		return fmt.Errorf("%w: %w", agent.ErrBackend, f.ReadErr)
	}
	return nil
}

// Invoke implements agent.Backend.
func (f *Fake) Invoke(ctx context.Context, req agent.Request) (*agent.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "invoke:"+string(req.Task))
	f.requests = append(f.requests, req)
	fn := f.InvokeFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &agent.Response{Task: req.Task, SessionID: req.SessionID}, nil
}

// SubmitQuizAnswer implements agent.Backend.
func (f *Fake) SubmitQuizAnswer(_ context.Context, answer domain.QuizAnswer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "submit")
	if f.SubmitErr != nil {
		return fmt.Errorf("%w: %w", agent.ErrBackend, f.SubmitErr)
	}
	f.answers = append(f.answers, answer)
	return nil
}

// UpdateTaskStatus implements agent.Backend.
func (f *Fake) UpdateTaskStatus(_ context.Context, sessionID string, taskID int64, status domain.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "task-status")
	if f.SubmitErr != nil {
		return fmt.Errorf("%w: %w", agent.ErrBackend, f.SubmitErr)
	}
	f.statusUpdates = append(f.statusUpdates, StatusUpdate{SessionID: sessionID, TaskID: taskID, Status: status})
	return nil
}

// History implements agent.Backend.
func (f *Fake) History(ctx context.Context, _ string) ([]domain.HistoryMessage, error) {
	if err := f.read(ctx, "history"); err != nil {
		return nil, err
	}
	return f.Messages, nil
}

// LatestAnalysis implements agent.Backend.
func (f *Fake) LatestAnalysis(ctx context.Context, _ string) (*domain.AnalysisSummary, error) {
	if err := f.read(ctx, "analysis"); err != nil {
		return nil, err
	}
	return f.Analysis, nil
}

// WeakTopics implements agent.Backend.
func (f *Fake) WeakTopics(ctx context.Context, _ string) ([]domain.WeakTopic, error) {
	if err := f.read(ctx, "weak-topics"); err != nil {
		return nil, err
	}
	return f.WeakTopicList, nil
}

// RoadmapTasks implements agent.Backend.
func (f *Fake) RoadmapTasks(ctx context.Context, _ string) ([]domain.RoadmapTask, error) {
	if err := f.read(ctx, "roadmap"); err != nil {
		return nil, err
	}
	return f.Tasks, nil
}

// ConceptMastery implements agent.Backend.
func (f *Fake) ConceptMastery(ctx context.Context, _ string) ([]domain.ConceptMastery, error) {
	if err := f.read(ctx, "mastery"); err != nil {
		return nil, err
	}
	return f.Mastery, nil
}

// IngestMemory implements agent.Backend.
func (f *Fake) IngestMemory(_ context.Context, texts []string, file *agent.MemoryFile) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "memory")
	f.ingested = append(f.ingested, texts...)
	if file != nil {
		f.ingested = append(f.ingested, string(file.Content))
	}
	n := len(texts)
	if file != nil {
		n++
	}
	return n, nil
}

// Health implements agent.Backend.
func (f *Fake) Health(context.Context) error {
	f.record("health")
	return nil
}

// Close implements agent.Backend.
func (f *Fake) Close() {}

// Calls returns the recorded call names in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Requests returns the recorded Invoke requests.
func (f *Fake) Requests() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

// Answers returns the recorded quiz answers.
func (f *Fake) Answers() []domain.QuizAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.QuizAnswer(nil), f.answers...)
}

// StatusUpdates returns the recorded roadmap status changes.
func (f *Fake) StatusUpdates() []StatusUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]StatusUpdate(nil), f.statusUpdates...)
}

// Ingested returns every ingested text and file body.
func (f *Fake) Ingested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ingested...)
}

// Reply builds a response whose output and meta are the JSON encodings of
// output and meta.
func Reply(task agent.Task, sessionID string, output, meta any) *agent.Response {
	resp := &agent.Response{Task: task, SessionID: sessionID}
	if output != nil {
		resp.Output, _ = json.Marshal(output)
	}
	if meta != nil {
		resp.Meta, _ = json.Marshal(meta)
	}
	return resp
}

// QuizReply builds a quiz response with the given attempt id and questions.
func QuizReply(sessionID string, attemptID int64, questions ...domain.QuizQuestion) *agent.Response {
	return Reply(agent.TaskQuiz, sessionID,
		map[string]any{"raw": "quiz", "questions": questions},
		map[string]any{"quiz_attempt_id": attemptID},
	)
}

// Question builds a question whose correct answer is correct.
func Question(id int64, text string, correct int, options ...string) domain.QuizQuestion {
	c := correct
	return domain.QuizQuestion{ID: id, Sequence: int(id), Question: text, Options: options, CorrectIndex: &c}
}
