package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/domain"
)

const teachPrompt = "Please teach me about %s. Explain it clearly with examples and key points."

// TeachPrompt is the message sent when the tutor starts on a concept by itself.
func TeachPrompt(concept string) string {
	return fmt.Sprintf(teachPrompt, concept)
}

type tutorPage struct {
	base
	messages []domain.Message
	concept  string
	canQuiz  bool
}

// TutorData is the tutor part of a view.
type TutorData struct {
	Messages []domain.Message `json:"messages"`
	Concept  string           `json:"concept,omitempty"`
	// CanQuiz is set once the tutor has answered about Concept.
	CanQuiz bool `json:"can_quiz"`
}

func newTutorPage(env *Env, notify func()) *tutorPage {
	return &tutorPage{base: base{env: env, notify: notify}}
}

func (p *tutorPage) stage() Stage { return StageLearn }

func (p *tutorPage) load(ctx context.Context, sessionID string) error {
	history, err := p.env.Agent.History(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load chat history: %w", err)
	}
	var msgs []domain.Message
	for _, m := range history {
		if m.Task == string(agent.TaskTutor) {
			msgs = append(msgs, m.AsMessage())
		}
	}
	p.mu.Lock()
	p.messages = msgs
	p.mu.Unlock()
	return nil
}

func (p *tutorPage) take(ctx context.Context) (autoAction, bool, error) {
	concept, ok, err := p.env.Signals.TakePendingConcept(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	p.mu.Lock()
	p.concept = concept
	p.mu.Unlock()
	return func(ctx context.Context) error {
		return p.send(ctx, TeachPrompt(concept))
	}, true, nil
}

func (p *tutorPage) handle(ctx context.Context, a Action) (*Navigation, error) {
	switch a.Type {
	case ActionSend:
		return nil, p.send(ctx, a.Text)
	case ActionGoQuiz:
		p.mu.Lock()
		concept := p.concept
		p.mu.Unlock()
		if c := strings.TrimSpace(a.Text); c != "" {
			concept = c
		}
		if concept == "" {
			return nil, ErrNoConcept
		}
		nav, err := Handoff(ctx, p.env.Signals, StageLearn, Intent{Concept: concept})
		if err != nil {
			return nil, err
		}
		return &nav, nil
	}
	return nil, fmt.Errorf("%w: %q on tutor", ErrUnknownAction, a.Type)
}

// send posts text to the tutor. Backend failures become an assistant
// message so the conversation shows them in place.
func (p *tutorPage) send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	p.mu.Lock()
	history := append([]domain.Message(nil), p.messages...)
	p.messages = append(p.messages, domain.Message{Role: "user", Content: text})
	p.mu.Unlock()
	p.notify()

	resp, err := p.invoke(ctx, agent.TaskTutor, text, history)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	reply := domain.Message{Role: "assistant"}
	if err != nil {
		reply.Content = "Error: " + err.Error()
	} else {
		reply.Content = resp.Answer()
	}
	p.mu.Lock()
	p.messages = append(p.messages, reply)
	if err == nil && p.concept != "" {
		p.canQuiz = true
	}
	p.mu.Unlock()
	return nil
}

func (p *tutorPage) data() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return TutorData{
		Messages: append([]domain.Message{}, p.messages...),
		Concept:  p.concept,
		CanQuiz:  p.canQuiz,
	}
}
