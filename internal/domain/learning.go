package domain

// TaskStatus is the completion state of a roadmap task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskComplete TaskStatus = "complete"
)

// Toggle returns the opposite status.
func (s TaskStatus) Toggle() TaskStatus {
	if s == TaskPending {
		return TaskComplete
	}
	return TaskPending
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	return s == TaskPending || s == TaskComplete
}

// QuizQuestion is a multiple choice question generated by the backend.
type QuizQuestion struct {
	ID           int64    `json:"id"`
	Sequence     int      `json:"sequence"`
	Question     string   `json:"question"`
	Options      []string `json:"options"`
	CorrectIndex *int     `json:"correct_index,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

// Option returns the option text at idx, or "" when idx is out of range.
func (q QuizQuestion) Option(idx int) string {
	if idx < 0 || idx >= len(q.Options) {
		return ""
	}
	return q.Options[idx]
}

// IsCorrect reports whether idx is the known correct answer.
func (q QuizQuestion) IsCorrect(idx int) bool {
	return q.CorrectIndex != nil && *q.CorrectIndex == idx
}

// QuizAttempt is one generated quiz.
type QuizAttempt struct {
	AttemptID int64          `json:"attempt_id"`
	Questions []QuizQuestion `json:"questions"`
	Raw       string         `json:"raw,omitempty"`
}

// QuizAnswer is the payload recorded by the backend for one answer.
type QuizAnswer struct {
	SessionID      string   `json:"session_id"`
	AttemptID      int64    `json:"attempt_id"`
	QuestionID     *int64   `json:"question_id,omitempty"`
	SelectedIndex  *int     `json:"selected_index,omitempty"`
	SelectedOption string   `json:"selected_option,omitempty"`
	IsCorrect      bool     `json:"is_correct"`
	Note           string   `json:"note,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
}

// RoadmapTask is a backend-owned actionable item.
type RoadmapTask struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Detail      string     `json:"detail"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	WeakTopicID *int64     `json:"weak_topic_id,omitempty"`
	CreatedAt   string     `json:"created_at,omitempty"`
	UpdatedAt   string     `json:"updated_at,omitempty"`
}

// WeakTopic is a backend-identified area of low performance.
type WeakTopic struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ConceptMastery is passed through from the backend untouched.
type ConceptMastery map[string]any
