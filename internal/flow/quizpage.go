package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/domain"
	"github.com/ashureev/study-buddy/internal/quiz"
	"golang.org/x/sync/errgroup"
)

const noQuizGenerated = "No quiz generated"

// WeakAreasPrompt builds the quiz topic that targets every weak topic.
func WeakAreasPrompt(topics []domain.WeakTopic) string {
	parts := make([]string, 0, len(topics))
	for _, wt := range topics {
		parts = append(parts, wt.Title+": "+wt.Detail)
	}
	return "Focus on these weak areas: " + strings.Join(parts, ", ")
}

type quizPage struct {
	base
	tracker        *quiz.Tracker
	topic          string
	raw            string
	previousTopics []string
	weakTopics     []domain.WeakTopic
	// handoff is the navigation produced when the attempt completed.
	handoff *Navigation
}

// QuizData is the quiz part of a view.
type QuizData struct {
	Topic          string             `json:"topic,omitempty"`
	Raw            string             `json:"raw,omitempty"`
	PreviousTopics []string           `json:"previous_topics"`
	WeakTopics     []domain.WeakTopic `json:"weak_topics"`
	Quiz           quiz.Snapshot      `json:"quiz"`
	// CanAnalyze is set once every question of the attempt is answered.
	CanAnalyze bool `json:"can_analyze"`
}

func newQuizPage(env *Env, notify func()) *quizPage {
	p := &quizPage{base: base{env: env, notify: notify}}
	p.tracker = quiz.NewTracker(env.Agent, func(ctx context.Context, topic string, attemptID int64) error {
		nav, err := Handoff(ctx, env.Signals, StageQuiz, Intent{Topic: topic, AttemptID: attemptID})
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.handoff = &nav
		p.mu.Unlock()
		return nil
	}, env.logger())
	return p
}

func (p *quizPage) stage() Stage { return StageQuiz }

func (p *quizPage) load(ctx context.Context, sessionID string) error {
	var (
		history []domain.HistoryMessage
		weak    []domain.WeakTopic
	)
	// The two fetches fail independently; one error must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		history, err = p.env.Agent.History(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load quiz history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		weak, err = p.env.Agent.WeakTopics(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("load weak topics: %w", err)
		}
		return nil
	})
	err := g.Wait()

	var topics []string
	for _, m := range history {
		if m.Task == string(agent.TaskQuiz) && m.Role == "user" {
			topics = append(topics, m.Content)
		}
	}
	p.mu.Lock()
	p.previousTopics = topics
	p.weakTopics = weak
	p.mu.Unlock()
	return err
}

func (p *quizPage) take(ctx context.Context) (autoAction, bool, error) {
	concept, ok, err := p.env.Signals.TakePendingQuizConcept(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	p.mu.Lock()
	p.topic = concept
	p.mu.Unlock()
	return func(ctx context.Context) error {
		return p.generate(ctx, concept)
	}, true, nil
}

func (p *quizPage) handle(ctx context.Context, a Action) (*Navigation, error) {
	switch a.Type {
	case ActionGenerate:
		return nil, p.generate(ctx, a.Text)
	case ActionGenerateWeak:
		p.mu.Lock()
		weak := append([]domain.WeakTopic(nil), p.weakTopics...)
		p.mu.Unlock()
		if len(weak) == 0 {
			return nil, nil
		}
		return nil, p.generate(ctx, WeakAreasPrompt(weak))
	case ActionAnswer:
		_, err := p.tracker.Answer(ctx, a.QuestionID, a.Option)
		return nil, err
	case ActionGoAnalysis:
		p.mu.Lock()
		nav := p.handoff
		p.mu.Unlock()
		if nav == nil || !p.tracker.Completed() {
			return nil, ErrQuizIncomplete
		}
		// The completion hook already handed off to analysis.
		out := *nav
		return &out, nil
	}
	return nil, fmt.Errorf("%w: %q on quiz", ErrUnknownAction, a.Type)
}

// generate asks for a new attempt on topic and resets the tracker to it.
// A failed request is shown in place of the raw quiz text.
func (p *quizPage) generate(ctx context.Context, topic string) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil
	}
	p.mu.Lock()
	p.topic = topic
	p.handoff = nil
	p.mu.Unlock()
	p.tracker.Reset()
	p.notify()

	resp, err := p.invoke(ctx, agent.TaskQuiz, topic, nil)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		p.mu.Lock()
		p.raw = "Error: " + err.Error()
		p.mu.Unlock()
		return nil
	}

	out := resp.Quiz()
	if out.Raw == "" {
		out.Raw = noQuizGenerated
	}
	sessionID := resp.SessionID
	if sessionID == "" {
		if sessionID, err = p.currentSession(ctx); err != nil {
			return err
		}
	}
	p.tracker.Load(topic, sessionID, domain.QuizAttempt{
		AttemptID: resp.QuizAttemptID(),
		Questions: out.Questions,
		Raw:       out.Raw,
	})
	p.mu.Lock()
	p.raw = out.Raw
	p.previousTopics = append(p.previousTopics, topic)
	p.mu.Unlock()
	return nil
}

func (p *quizPage) data() any {
	snap := p.tracker.Snapshot()
	p.mu.Lock()
	defer p.mu.Unlock()
	return QuizData{
		Topic:          p.topic,
		Raw:            p.raw,
		PreviousTopics: append([]string{}, p.previousTopics...),
		WeakTopics:     append([]domain.WeakTopic{}, p.weakTopics...),
		Quiz:           snap,
		CanAnalyze:     p.tracker.Completed(),
	}
}
