package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/study-buddy/internal/domain"
	"golang.org/x/sync/errgroup"
)

var reviewPrefix = regexp.MustCompile(`(?i)^Review\s+`)

// DeriveConcept turns a roadmap task into the concept to learn next. A
// linked weak topic wins over the task title; titles that look like
// generated prose are cut down to their first three words.
func DeriveConcept(task domain.RoadmapTask, weakTopics []domain.WeakTopic) string {
	concept := strings.TrimSpace(reviewPrefix.ReplaceAllString(task.Title, ""))

	if task.WeakTopicID != nil {
		for _, wt := range weakTopics {
			if wt.ID == *task.WeakTopicID && strings.TrimSpace(wt.Title) != "" {
				concept = strings.TrimSpace(wt.Title)
				break
			}
		}
	}

	lower := strings.ToLower(concept)
	if utf8.RuneCountInString(concept) > 50 || strings.Contains(lower, "weakest") || strings.Contains(lower, "based on") {
		var words []string
		for _, w := range strings.Split(concept, " ") {
			if utf8.RuneCountInString(w) > 2 {
				words = append(words, w)
			}
			if len(words) == 3 {
				break
			}
		}
		concept = strings.Join(words, " ")
	}
	return concept
}

type roadmapPage struct {
	base
	tasks      []domain.RoadmapTask
	weakTopics []domain.WeakTopic
}

// RoadmapData is the roadmap part of a view.
type RoadmapData struct {
	Tasks      []domain.RoadmapTask `json:"tasks"`
	WeakTopics []domain.WeakTopic   `json:"weak_topics"`
}

func newRoadmapPage(env *Env, notify func()) *roadmapPage {
	return &roadmapPage{base: base{env: env, notify: notify}}
}

func (p *roadmapPage) stage() Stage { return StageRoadmap }

// load fetches tasks and weak topics together; either failing fails both.
func (p *roadmapPage) load(ctx context.Context, sessionID string) error {
	var (
		tasks []domain.RoadmapTask
		weak  []domain.WeakTopic
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tasks, err = p.env.Agent.RoadmapTasks(gctx, sessionID)
		return err
	})
	g.Go(func() error {
		var err error
		weak, err = p.env.Agent.WeakTopics(gctx, sessionID)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load roadmap: %w", err)
	}
	p.mu.Lock()
	p.tasks = tasks
	p.weakTopics = weak
	p.mu.Unlock()
	return nil
}

// The roadmap has no signal of its own.
func (p *roadmapPage) take(context.Context) (autoAction, bool, error) {
	return nil, false, nil
}

func (p *roadmapPage) handle(ctx context.Context, a Action) (*Navigation, error) {
	switch a.Type {
	case ActionToggle:
		return nil, p.toggle(ctx, a.TaskID)
	case ActionLearn:
		task, weak, ok := p.find(a.TaskID)
		if !ok {
			return nil, fmt.Errorf("roadmap task %d not found", a.TaskID)
		}
		concept := DeriveConcept(task, weak)
		if concept == "" {
			return nil, ErrNoConcept
		}
		nav, err := Handoff(ctx, p.env.Signals, StageRoadmap, Intent{Concept: concept})
		if err != nil {
			return nil, err
		}
		return &nav, nil
	}
	return nil, fmt.Errorf("%w: %q on roadmap", ErrUnknownAction, a.Type)
}

func (p *roadmapPage) find(taskID int64) (domain.RoadmapTask, []domain.WeakTopic, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tasks {
		if t.ID == taskID {
			return t, append([]domain.WeakTopic(nil), p.weakTopics...), true
		}
	}
	return domain.RoadmapTask{}, nil, false
}

func (p *roadmapPage) toggle(ctx context.Context, taskID int64) error {
	sessionID, err := p.currentSession(ctx)
	if err != nil {
		return err
	}
	if sessionID == "" {
		return ErrNotStarted
	}
	task, _, ok := p.find(taskID)
	if !ok {
		return fmt.Errorf("roadmap task %d not found", taskID)
	}
	next := task.Status.Toggle()
	if err := p.env.Agent.UpdateTaskStatus(ctx, sessionID, taskID, next); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	p.mu.Lock()
	for i := range p.tasks {
		if p.tasks[i].ID == taskID {
			p.tasks[i].Status = next
		}
	}
	p.mu.Unlock()
	return nil
}

func (p *roadmapPage) data() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return RoadmapData{
		Tasks:      append([]domain.RoadmapTask{}, p.tasks...),
		WeakTopics: append([]domain.WeakTopic{}, p.weakTopics...),
	}
}
