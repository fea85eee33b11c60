// Package signal implements consume-once mailboxes used to hand an intent
// from one page to the next page that mounts.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashureev/study-buddy/internal/store"
)

// ErrInvalidSignal is returned when a value is rejected before it is written.
var ErrInvalidSignal = errors.New("invalid signal value")

// Slot is a named, typed, single-value mailbox persisted in a device
// namespace. A value written with Set is observed by at most one Take.
type Slot[T any] struct {
	name     string
	validate func(T) error
}

// NewSlot declares a slot. validate may be nil.
func NewSlot[T any](name string, validate func(T) error) Slot[T] {
	return Slot[T]{name: name, validate: validate}
}

// Name returns the persisted key of the slot.
func (s Slot[T]) Name() string {
	return s.name
}

// Set replaces any pending value.
func (s Slot[T]) Set(ctx context.Context, kv store.Namespace, v T) error {
	if s.validate != nil {
		if err := s.validate(v); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.name, err)
	}
	if err := kv.Set(ctx, s.name, string(raw)); err != nil {
		return fmt.Errorf("write %s: %w", s.name, err)
	}
	return nil
}

// Take consumes the pending value. Malformed values are discarded, logged
// to logger (nil means slog.Default) and reported as absent.
func (s Slot[T]) Take(ctx context.Context, kv store.Namespace, logger *slog.Logger) (T, bool, error) {
	var zero T
	raw, ok, err := kv.Take(ctx, s.name)
	if err != nil {
		return zero, false, fmt.Errorf("take %s: %w", s.name, err)
	}
	if !ok {
		return zero, false, nil
	}
	return s.decode(raw, logger)
}

// Peek returns the pending value without consuming it.
func (s Slot[T]) Peek(ctx context.Context, kv store.Namespace, logger *slog.Logger) (T, bool, error) {
	var zero T
	raw, ok, err := kv.Get(ctx, s.name)
	if err != nil {
		return zero, false, fmt.Errorf("peek %s: %w", s.name, err)
	}
	if !ok {
		return zero, false, nil
	}
	return s.decode(raw, logger)
}

// Clear drops the pending value, if any.
func (s Slot[T]) Clear(ctx context.Context, kv store.Namespace) error {
	if err := kv.Delete(ctx, s.name); err != nil {
		return fmt.Errorf("clear %s: %w", s.name, err)
	}
	return nil
}

func (s Slot[T]) decode(raw string, logger *slog.Logger) (T, bool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		logger.Warn("discarding malformed signal", "signal", s.name, "error", err)
		return v, false, nil
	}
	if s.validate != nil {
		if err := s.validate(v); err != nil {
			logger.Warn("discarding invalid signal", "signal", s.name, "error", err)
			var zero T
			return zero, false, nil
		}
	}
	return v, true, nil
}
