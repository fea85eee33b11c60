package signal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/study-buddy/internal/store"
)

// Analysis asks the analytics page to analyze a finished quiz attempt.
// Topic and AttemptID are stored as one value so they are set and consumed
// together.
type Analysis struct {
	Topic     string `json:"topic"`
	AttemptID int64  `json:"attempt_id"`
}

// Slots consumed by the learning flow.
var (
	PendingConcept     = NewSlot("signal.learning-concept", validateConcept)
	PendingQuizConcept = NewSlot("signal.quiz-concept", validateConcept)
	PendingAnalysis    = NewSlot("signal.quiz-analysis", validateAnalysis)
)

func validateConcept(c string) error {
	if strings.TrimSpace(c) == "" {
		return fmt.Errorf("%w: empty concept", ErrInvalidSignal)
	}
	return nil
}

func validateAnalysis(a Analysis) error {
	if strings.TrimSpace(a.Topic) == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidSignal)
	}
	if a.AttemptID <= 0 {
		return fmt.Errorf("%w: attempt id %d", ErrInvalidSignal, a.AttemptID)
	}
	return nil
}

// Channel groups the flow slots for one device namespace.
type Channel struct {
	kv     store.Namespace
	logger *slog.Logger
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger that reports discarded signals.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// NewChannel binds the slots to kv.
func NewChannel(kv store.Namespace, opts ...Option) *Channel {
	c := &Channel{kv: kv}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *Channel) SetPendingConcept(ctx context.Context, concept string) error {
	return PendingConcept.Set(ctx, c.kv, strings.TrimSpace(concept))
}

func (c *Channel) TakePendingConcept(ctx context.Context) (string, bool, error) {
	return PendingConcept.Take(ctx, c.kv, c.logger)
}

func (c *Channel) SetPendingQuizConcept(ctx context.Context, concept string) error {
	return PendingQuizConcept.Set(ctx, c.kv, strings.TrimSpace(concept))
}

func (c *Channel) TakePendingQuizConcept(ctx context.Context) (string, bool, error) {
	return PendingQuizConcept.Take(ctx, c.kv, c.logger)
}

func (c *Channel) SetPendingAnalysis(ctx context.Context, topic string, attemptID int64) error {
	return PendingAnalysis.Set(ctx, c.kv, Analysis{Topic: topic, AttemptID: attemptID})
}

func (c *Channel) TakePendingAnalysis(ctx context.Context) (Analysis, bool, error) {
	return PendingAnalysis.Take(ctx, c.kv, c.logger)
}

// Pending describes every slot holding a value, keyed by slot name.
func (c *Channel) Pending(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if v, ok, err := PendingConcept.Peek(ctx, c.kv, c.logger); err != nil {
		return nil, err
	} else if ok {
		out[PendingConcept.Name()] = v
	}
	if v, ok, err := PendingQuizConcept.Peek(ctx, c.kv, c.logger); err != nil {
		return nil, err
	} else if ok {
		out[PendingQuizConcept.Name()] = v
	}
	if v, ok, err := PendingAnalysis.Peek(ctx, c.kv, c.logger); err != nil {
		return nil, err
	} else if ok {
		out[PendingAnalysis.Name()] = fmt.Sprintf("%s (attempt %d)", v.Topic, v.AttemptID)
	}
	return out, nil
}

// ClearAll drops every pending signal.
func (c *Channel) ClearAll(ctx context.Context) error {
	if err := PendingConcept.Clear(ctx, c.kv); err != nil {
		return err
	}
	if err := PendingQuizConcept.Clear(ctx, c.kv); err != nil {
		return err
	}
	return PendingAnalysis.Clear(ctx, c.kv)
}
