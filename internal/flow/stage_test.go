package flow_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/ashureev/study-buddy/internal/domain"
	"github.com/ashureev/study-buddy/internal/flow"
	"github.com/ashureev/study-buddy/internal/signal"
	"github.com/ashureev/study-buddy/internal/store"
)

func decodeData(t *testing.T, v flow.View, out any) {
	t.Helper()
	if err := json.Unmarshal(v.Data, out); err != nil {
		t.Fatalf("decode view data: %v", err)
	}
}

func TestStageCycle(t *testing.T) {
	tests := []struct {
		stage flow.Stage
		next  flow.Stage
		page  string
		path  string
	}{
		{flow.StageLearn, flow.StageQuiz, "tutor", "/"},
		{flow.StageQuiz, flow.StageAnalyze, "quiz", "/quiz"},
		{flow.StageAnalyze, flow.StageRoadmap, "analytics", "/analytics"},
		{flow.StageRoadmap, flow.StageLearn, "roadmap", "/roadmap"},
	}
	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			if got := tt.stage.Next(); got != tt.next {
				t.Errorf("Next() = %v, want %v", got, tt.next)
			}
			if got := tt.stage.Page(); got != tt.page {
				t.Errorf("Page() = %q, want %q", got, tt.page)
			}
			if got := tt.stage.Path(); got != tt.path {
				t.Errorf("Path() = %q, want %q", got, tt.path)
			}
			if got, ok := flow.StageForPage(tt.page); !ok || got != tt.stage {
				t.Errorf("StageForPage(%q) = %v, %v", tt.page, got, ok)
			}
		})
	}
}

func TestHandoffWritesNextSignal(t *testing.T) {
	ctx := context.Background()
	signals := signal.NewChannel(store.Scope(store.NewMemoryKV(), "d"))

	nav, err := flow.Handoff(ctx, signals, flow.StageLearn, flow.Intent{Concept: "Stacks"})
	if err != nil || nav.Path != "/quiz" || !nav.Reload {
		t.Fatalf("unexpected handoff %+v err=%v", nav, err)
	}
	if c, ok, _ := signals.TakePendingQuizConcept(ctx); !ok || c != "Stacks" {
		t.Fatalf("expected quiz concept Stacks, got %q ok=%v", c, ok)
	}

	if _, err := flow.Handoff(ctx, signals, flow.StageQuiz, flow.Intent{Topic: "Stacks"}); err == nil {
		t.Fatal("expected handoff without attempt id to fail")
	}
	if _, ok, _ := signals.TakePendingAnalysis(ctx); ok {
		t.Fatal("expected no analysis signal after a failed handoff")
	}

	nav, err = flow.Handoff(ctx, signals, flow.StageAnalyze, flow.Intent{})
	if err != nil || nav.Path != "/roadmap" {
		t.Fatalf("unexpected handoff %+v err=%v", nav, err)
	}
	pending, err := signals.Pending(ctx)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending signals, got %v err=%v", pending, err)
	}
}

func TestDeriveConcept(t *testing.T) {
	weakID := int64(3)
	weak := []domain.WeakTopic{{ID: 3, Title: "  Dynamic Programming "}}
	tests := []struct {
		name string
		task domain.RoadmapTask
		want string
	}{
		{"strips review prefix", domain.RoadmapTask{Title: "review   Linked Lists"}, "Linked Lists"},
		{"prefers weak topic", domain.RoadmapTask{Title: "Review X", WeakTopicID: &weakID}, "Dynamic Programming"},
		{"unknown weak topic keeps title", domain.RoadmapTask{Title: "Review Queues", WeakTopicID: new(int64)}, "Queues"},
		{"shortens generated prose", domain.RoadmapTask{Title: "Review concepts based on the quiz results for hashing"}, "concepts based the"},
		{"shortens long titles", domain.RoadmapTask{Title: "Understand how balanced binary search trees keep their height logarithmic"}, "Understand how balanced"},
		{"counts characters not bytes", domain.RoadmapTask{Title: "Ordenação rápida e análise de complexidade ótima"}, "Ordenação rápida e análise de complexidade ótima"},
		{"short words measured in characters", domain.RoadmapTask{Title: "Review ωω based on éé graphs theory now"}, "based graphs theory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flow.DeriveConcept(tt.task, weak); got != tt.want {
				t.Fatalf("DeriveConcept() = %q, want %q", got, tt.want)
			}
		})
	}
}
