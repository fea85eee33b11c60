// Package flow drives the learn, quiz, analyze, roadmap cycle. Each page
// is a Controller that loads its context on mount, consumes the signal
// addressed to it and hands off to the next stage by writing that stage's
// signal and asking for a full reload.
package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/study-buddy/internal/signal"
)

// Stage is a step of the learning cycle. Every stage is served by one page.
type Stage int

const (
	StageLearn Stage = iota
	StageQuiz
	StageAnalyze
	StageRoadmap
)

var (
	ErrUnknownPage   = errors.New("unknown page")
	ErrUnknownAction = errors.New("unknown action")
	// ErrNotStarted is returned by actions that need a session when none exists.
	ErrNotStarted = errors.New("session not started")
	// ErrQuizIncomplete is returned when leaving a quiz before every question is answered.
	ErrQuizIncomplete = errors.New("quiz not complete")
	// ErrNoConcept is returned when there is nothing to hand over to the next stage.
	ErrNoConcept = errors.New("no concept selected")
)

var stageMeta = [...]struct {
	name string
	page string
	path string
}{
	StageLearn:   {"learn", "tutor", "/"},
	StageQuiz:    {"quiz", "quiz", "/quiz"},
	StageAnalyze: {"analyze", "analytics", "/analytics"},
	StageRoadmap: {"roadmap", "roadmap", "/roadmap"},
}

func (s Stage) valid() bool {
	return s >= StageLearn && s <= StageRoadmap
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageMeta[s].name
}

// Page returns the name of the page serving s.
func (s Stage) Page() string {
	if !s.valid() {
		return ""
	}
	return stageMeta[s].page
}

// Path returns the route of the page serving s.
func (s Stage) Path() string {
	if !s.valid() {
		return ""
	}
	return stageMeta[s].path
}

// Next returns the stage that follows s. The cycle wraps from roadmap back
// to learn.
func (s Stage) Next() Stage {
	return (s + 1) % Stage(len(stageMeta))
}

// StageForPage maps a page name to its stage.
func StageForPage(page string) (Stage, bool) {
	for i, m := range stageMeta {
		if m.page == page {
			return Stage(i), true
		}
	}
	return 0, false
}

// Navigation tells the client where to go after a handoff. Reload is always
// set: the target page must mount from scratch.
type Navigation struct {
	Path   string `json:"path"`
	Reload bool   `json:"reload"`
	Stage  Stage  `json:"-"`
}

// Intent carries what the next stage needs.
type Intent struct {
	Concept   string
	Topic     string
	AttemptID int64
}

// Handoff moves from stage from to from.Next(): it writes the signal the
// next stage consumes and returns the reload navigation to its page.
func Handoff(ctx context.Context, signals *signal.Channel, from Stage, in Intent) (Navigation, error) {
	if !from.valid() {
		return Navigation{}, fmt.Errorf("handoff from %v: %w", from, ErrUnknownPage)
	}
	to := from.Next()

	var err error
	switch to {
	case StageQuiz:
		err = signals.SetPendingQuizConcept(ctx, in.Concept)
	case StageAnalyze:
		err = signals.SetPendingAnalysis(ctx, in.Topic, in.AttemptID)
	case StageRoadmap:
		// The roadmap page reads everything it needs from the backend.
	case StageLearn:
		err = signals.SetPendingConcept(ctx, in.Concept)
	}
	if err != nil {
		return Navigation{}, fmt.Errorf("handoff %s -> %s: %w", from, to, err)
	}
	return Navigation{Path: to.Path(), Reload: true, Stage: to}, nil
}
