package agent

import (
	"context"

	"github.com/ashureev/study-buddy/internal/domain"
)

// Backend is the remote agent contract. Every method is a single request;
// failures are reported as ErrBackend and never retried.
type Backend interface {
	// Invoke runs a tutor, quiz, analyze, roadmap or questions task.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// SubmitQuizAnswer records one answer of a quiz attempt.
	SubmitQuizAnswer(ctx context.Context, answer domain.QuizAnswer) error

	// UpdateTaskStatus sets the status of a roadmap task.
	UpdateTaskStatus(ctx context.Context, sessionID string, taskID int64, status domain.TaskStatus) error

	History(ctx context.Context, sessionID string) ([]domain.HistoryMessage, error)

	// LatestAnalysis returns nil when the session has not been analyzed yet.
	LatestAnalysis(ctx context.Context, sessionID string) (*domain.AnalysisSummary, error)

	WeakTopics(ctx context.Context, sessionID string) ([]domain.WeakTopic, error)
	RoadmapTasks(ctx context.Context, sessionID string) ([]domain.RoadmapTask, error)
	ConceptMastery(ctx context.Context, sessionID string) ([]domain.ConceptMastery, error)

	// IngestMemory adds study material and returns how many items were added.
	IngestMemory(ctx context.Context, texts []string, file *MemoryFile) (int, error)

	// Health checks if the backend is reachable.
	Health(ctx context.Context) error

	// Close releases resources.
	Close()
}

// Ensure HTTPClient implements Backend.
var _ Backend = (*HTTPClient)(nil)
