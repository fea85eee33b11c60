// Package quiz tracks answers, score and completion of the quiz attempt
// shown on one page.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/study-buddy/internal/domain"
)

var (
	// ErrUnknownQuestion is returned when answering a question that is not
	// part of the loaded attempt.
	ErrUnknownQuestion = errors.New("unknown quiz question")
	// ErrInvalidOption is returned when the selected index has no option.
	ErrInvalidOption = errors.New("invalid quiz option")
)

// State is the progress of the loaded attempt.
type State string

const (
	StateEmpty      State = "empty"
	StateInProgress State = "in_progress"
	StateComplete   State = "complete"
)

// Status is the recorded outcome of one answer.
type Status string

const (
	StatusCorrect   Status = "correct"
	StatusIncorrect Status = "incorrect"
	// StatusSaved marks an answer whose submission failed; the attempt is
	// kept visible without a verdict.
	StatusSaved Status = "saved"
)

// Record is the latest answer to one question.
type Record struct {
	Selected *int   `json:"selected,omitempty"`
	Status   Status `json:"status"`
}

// Score counts correct answers against the number of questions.
type Score struct {
	Correct int `json:"correct"`
	Total   int `json:"total"`
}

// Percent returns the rounded percentage of correct answers.
func (s Score) Percent() int {
	if s.Total == 0 {
		return 0
	}
	return (s.Correct*100 + s.Total/2) / s.Total
}

// Submitter persists one answer.
type Submitter interface {
	SubmitQuizAnswer(ctx context.Context, answer domain.QuizAnswer) error
}

// CompletionFunc runs once when every question of an attempt is answered.
type CompletionFunc func(ctx context.Context, topic string, attemptID int64) error

// Result describes what Answer did.
type Result struct {
	// Applied is false when the call was a no-op or its outcome was
	// dropped because another attempt was loaded meanwhile.
	Applied   bool
	Record    Record
	Score     *Score
	Completed bool // this answer completed the attempt
}

// Snapshot is a copy of the tracker state.
type Snapshot struct {
	Topic     string                `json:"topic"`
	SessionID string                `json:"session_id,omitempty"`
	AttemptID int64                 `json:"attempt_id,omitempty"`
	Raw       string                `json:"raw,omitempty"`
	Questions []domain.QuizQuestion `json:"questions"`
	Answers   map[int64]Record      `json:"answers"`
	Score     *Score                `json:"score,omitempty"`
	State     State                 `json:"state"`
}

// Tracker holds one quiz attempt. It is safe for concurrent use.
type Tracker struct {
	submit     Submitter
	onComplete CompletionFunc
	logger     *slog.Logger

	mu         sync.Mutex
	topic      string
	sessionID  string
	attempt    domain.QuizAttempt
	generation uint64
	answers    map[int64]Record
	score      *Score
	completed  bool
}

// NewTracker creates an empty tracker. onComplete may be nil.
func NewTracker(submit Submitter, onComplete CompletionFunc, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		submit:     submit,
		onComplete: onComplete,
		logger:     logger,
		answers:    make(map[int64]Record),
	}
}

// Load replaces the tracked attempt and clears answers, score and the
// completion flag. Submissions still in flight for the previous attempt are
// discarded when they return.
func (t *Tracker) Load(topic, sessionID string, attempt domain.QuizAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.topic = topic
	t.sessionID = sessionID
	t.attempt = attempt
	t.answers = make(map[int64]Record)
	t.score = nil
	t.completed = false
}

// Reset drops the tracked attempt.
func (t *Tracker) Reset() {
	t.Load("", "", domain.QuizAttempt{})
}

// Answer records selectedIndex for questionID. Without an attempt id or a
// session id it does nothing. The answer is submitted first; on failure it
// is recorded as saved, keeping any previous selection.
func (t *Tracker) Answer(ctx context.Context, questionID int64, selectedIndex int) (Result, error) {
	t.mu.Lock()
	if t.attempt.AttemptID <= 0 || t.sessionID == "" {
		t.mu.Unlock()
		return Result{}, nil
	}
	question, ok := t.findLocked(questionID)
	if !ok {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	if selectedIndex < 0 || selectedIndex >= len(question.Options) {
		t.mu.Unlock()
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidOption, selectedIndex)
	}

	qid := questionID
	idx := selectedIndex
	payload := domain.QuizAnswer{
		SessionID:      t.sessionID,
		AttemptID:      t.attempt.AttemptID,
		QuestionID:     &qid,
		SelectedIndex:  &idx,
		SelectedOption: question.Option(selectedIndex),
		IsCorrect:      question.IsCorrect(selectedIndex),
	}
	generation := t.generation
	t.mu.Unlock()

	submitErr := t.submit.SubmitQuizAnswer(ctx, payload)

	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		t.logger.Debug("dropping answer for replaced attempt", "attempt_id", payload.AttemptID, "question_id", questionID)
		return Result{}, nil
	}

	var record Record
	if submitErr != nil {
		record = t.answers[questionID]
		record.Status = StatusSaved
		t.logger.Warn("quiz answer submission failed, keeping it as saved",
			"session_id", payload.SessionID, "attempt_id", payload.AttemptID, "question_id", questionID, "error", submitErr)
	} else {
		record = Record{Selected: &idx, Status: StatusIncorrect}
		if payload.IsCorrect {
			record.Status = StatusCorrect
		}
	}
	t.answers[questionID] = record
	score := t.recomputeLocked()

	fire := submitErr == nil && !t.completed && len(t.answers) == len(t.attempt.Questions)
	if fire {
		t.completed = true
	}
	topic, attemptID := t.topic, t.attempt.AttemptID
	t.mu.Unlock()

	result := Result{Applied: true, Record: record, Score: &score}
	if fire {
		result.Completed = true
		if t.onComplete != nil {
			if err := t.onComplete(ctx, topic, attemptID); err != nil {
				t.logger.Warn("quiz completion hook failed", "attempt_id", attemptID, "error", err)
				t.mu.Lock()
				if t.generation == generation {
					t.completed = false
				}
				t.mu.Unlock()
				result.Completed = false
			}
		}
	}
	return result, nil
}

func (t *Tracker) findLocked(questionID int64) (domain.QuizQuestion, bool) {
	for _, q := range t.attempt.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return domain.QuizQuestion{}, false
}

func (t *Tracker) recomputeLocked() Score {
	score := Score{Total: len(t.attempt.Questions)}
	for _, rec := range t.answers {
		if rec.Status == StatusCorrect {
			score.Correct++
		}
	}
	t.score = &score
	return score
}

func (t *Tracker) stateLocked() State {
	switch {
	case len(t.attempt.Questions) == 0:
		return StateEmpty
	case len(t.answers) == len(t.attempt.Questions):
		return StateComplete
	default:
		return StateInProgress
	}
}

// State returns the current progress state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Completed reports whether the completion hook has fired for this attempt.
func (t *Tracker) Completed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Score returns the latest score, or nil before the first answer.
func (t *Tracker) Score() *Score {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.score == nil {
		return nil
	}
	s := *t.score
	return &s
}

// Snapshot copies the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Topic:     t.topic,
		SessionID: t.sessionID,
		AttemptID: t.attempt.AttemptID,
		Raw:       t.attempt.Raw,
		Questions: append([]domain.QuizQuestion(nil), t.attempt.Questions...),
		Answers:   make(map[int64]Record, len(t.answers)),
		State:     t.stateLocked(),
	}
	for id, rec := range t.answers {
		snap.Answers[id] = rec
	}
	if t.score != nil {
		s := *t.score
		snap.Score = &s
	}
	return snap
}
