package flow

import (
	"context"
	"fmt"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/domain"
	"golang.org/x/sync/errgroup"
)

const noAnalysisProduced = "No analysis produced"

type analyticsPage struct {
	base
	history []domain.Message
	summary string
	mode    string
	pending *Intent
}

// AnalyticsData is the analytics part of a view.
type AnalyticsData struct {
	Summary      string `json:"summary,omitempty"`
	Mode         string `json:"mode,omitempty"`
	HistoryCount int    `json:"history_count"`
	// Topic and AttemptID describe the quiz being analyzed, if any.
	Topic     string `json:"topic,omitempty"`
	AttemptID int64  `json:"attempt_id,omitempty"`
}

func newAnalyticsPage(env *Env, notify func()) *analyticsPage {
	return &analyticsPage{base: base{env: env, notify: notify}}
}

func (p *analyticsPage) stage() Stage { return StageAnalyze }

func (p *analyticsPage) load(ctx context.Context, sessionID string) error {
	var (
		history []domain.HistoryMessage
		latest  *domain.AnalysisSummary
	)
	// The two fetches fail independently; one error must not cancel the other.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		if history, err = p.env.Agent.History(ctx, sessionID); err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if latest, err = p.env.Agent.LatestAnalysis(ctx, sessionID); err != nil {
			return fmt.Errorf("load analysis: %w", err)
		}
		return nil
	})
	err := g.Wait()

	msgs := make([]domain.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, m.AsMessage())
	}
	p.mu.Lock()
	p.history = msgs
	if latest != nil && latest.Summary != "" && p.summary == "" {
		p.summary = latest.Summary
	}
	p.mu.Unlock()
	return err
}

func (p *analyticsPage) take(ctx context.Context) (autoAction, bool, error) {
	sig, ok, err := p.env.Signals.TakePendingAnalysis(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	p.mu.Lock()
	p.pending = &Intent{Topic: sig.Topic, AttemptID: sig.AttemptID}
	p.mu.Unlock()
	return func(ctx context.Context) error {
		return p.analyze(ctx, agent.AnalyzeQuizBased)
	}, true, nil
}

func (p *analyticsPage) handle(ctx context.Context, a Action) (*Navigation, error) {
	switch a.Type {
	case ActionAnalyze:
		mode := a.Mode
		if mode == "" {
			mode = agent.AnalyzeQuizBased
		}
		if mode != agent.AnalyzeQuizBased && mode != agent.AnalyzeChatBased {
			return nil, fmt.Errorf("%w: analyze mode %q", ErrUnknownAction, mode)
		}
		return nil, p.analyze(ctx, mode)
	case ActionGoRoadmap:
		nav, err := Handoff(ctx, p.env.Signals, StageAnalyze, Intent{})
		if err != nil {
			return nil, err
		}
		return &nav, nil
	}
	return nil, fmt.Errorf("%w: %q on analytics", ErrUnknownAction, a.Type)
}

// analyze sends the loaded history for analysis. Failures replace the
// summary text.
func (p *analyticsPage) analyze(ctx context.Context, mode string) error {
	p.mu.Lock()
	p.mode = mode
	history := append([]domain.Message(nil), p.history...)
	p.mu.Unlock()
	p.notify()

	resp, err := p.invoke(ctx, agent.TaskAnalyze, mode, history)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var summary string
	switch {
	case err != nil:
		summary = "Error: " + err.Error()
	case resp.Summary() == "":
		summary = noAnalysisProduced
	default:
		summary = resp.Summary()
	}
	p.mu.Lock()
	p.summary = summary
	p.mu.Unlock()
	return nil
}

func (p *analyticsPage) data() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := AnalyticsData{
		Summary:      p.summary,
		Mode:         p.mode,
		HistoryCount: len(p.history),
	}
	if p.pending != nil {
		d.Topic = p.pending.Topic
		d.AttemptID = p.pending.AttemptID
	}
	return d
}
