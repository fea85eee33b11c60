// Package session owns the durable learning-session identity of a device:
// which session is current, when each session was created, and switching
// between them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
	"github.com/ashureev/study-buddy/internal/store"
	"github.com/google/uuid"
)

const (
	currentKey     = "current_session"
	metadataPrefix = "session_"
	metadataSuffix = "_created"

	maxCreateAttempts = 8
)

// Store reads and writes session identities in one device namespace.
type Store struct {
	kv     store.Namespace
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the session id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New returns a Store backed by kv.
func New(kv store.Namespace, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func metadataKey(id string) string {
	return metadataPrefix + id + metadataSuffix
}

// Current returns the current session id; ok is false if none was ever set.
func (s *Store) Current(ctx context.Context) (string, bool, error) {
	id, ok, err := s.kv.Get(ctx, currentKey)
	if err != nil {
		return "", false, fmt.Errorf("read current session: %w", err)
	}
	if !ok || id == "" {
		return "", false, nil
	}
	return id, true, nil
}

// Create generates a fresh session, records its creation time and makes it
// current.
func (s *Store) Create(ctx context.Context) (domain.SessionIdentity, error) {
	for range maxCreateAttempts {
		id := s.newID()
		if id == "" {
			continue
		}
		_, exists, err := s.kv.Get(ctx, metadataKey(id))
		if err != nil {
			return domain.SessionIdentity{}, fmt.Errorf("check session id: %w", err)
		}
		if exists {
			s.logger.Warn("generated session id already exists, retrying", "session_id", id)
			continue
		}

		created := s.now()
		if err := s.kv.Set(ctx, metadataKey(id), created.Format(time.RFC3339Nano)); err != nil {
			return domain.SessionIdentity{}, fmt.Errorf("write session metadata: %w", err)
		}
		if err := s.kv.Set(ctx, currentKey, id); err != nil {
			return domain.SessionIdentity{}, fmt.Errorf("set current session: %w", err)
		}
		return domain.SessionIdentity{ID: id, CreatedAt: created}, nil
	}
	return domain.SessionIdentity{}, fmt.Errorf("generate unique session id after %d attempts", maxCreateAttempts)
}

// SwitchTo makes id current. The id is not validated; callers switch only
// to ids obtained from ListAll.
func (s *Store) SwitchTo(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, currentKey, id); err != nil {
		return fmt.Errorf("switch session: %w", err)
	}
	return nil
}

// Adopt makes a backend-issued id current and records creation metadata for
// it if none exists yet, so it shows up in ListAll.
func (s *Store) Adopt(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	_, exists, err := s.kv.Get(ctx, metadataKey(id))
	if err != nil {
		return fmt.Errorf("check adopted session: %w", err)
	}
	if !exists {
		if err := s.kv.Set(ctx, metadataKey(id), s.now().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("write adopted session metadata: %w", err)
		}
	}
	return s.SwitchTo(ctx, id)
}

// ListAll returns every known session, newest first. Entries whose
// timestamp cannot be parsed sort last with a zero CreatedAt.
func (s *Store) ListAll(ctx context.Context) ([]domain.SessionIdentity, error) {
	keys, err := s.kv.Keys(ctx, metadataPrefix)
	if err != nil {
		return nil, fmt.Errorf("list session metadata: %w", err)
	}

	sessions := make([]domain.SessionIdentity, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, metadataSuffix) {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(key, metadataPrefix), metadataSuffix)
		if id == "" {
			continue
		}
		raw, ok, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read session metadata: %w", err)
		}
		if !ok {
			// Deleted between Keys and Get.
			continue
		}
		created, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			s.logger.Warn("unparsable session timestamp", "session_id", id, "value", raw)
			created = time.Time{}
		}
		sessions = append(sessions, domain.SessionIdentity{ID: id, CreatedAt: created})
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sessions, nil
}

// DeleteMetadata forgets the session's local metadata. Backend data is left
// untouched. If id was current a new session is created and returned.
func (s *Store) DeleteMetadata(ctx context.Context, id string) (*domain.SessionIdentity, error) {
	if err := s.kv.Delete(ctx, metadataKey(id)); err != nil {
		return nil, fmt.Errorf("delete session metadata: %w", err)
	}

	current, ok, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || current != id {
		return nil, nil
	}

	replacement, err := s.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("replace deleted session: %w", err)
	}
	s.logger.Info("current session deleted, created replacement", "deleted", id, "session_id", replacement.ID)
	return &replacement, nil
}

// Ensure returns the current session id, creating a session if none exists.
func (s *Store) Ensure(ctx context.Context) (string, error) {
	id, ok, err := s.Current(ctx)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}
	created, err := s.Create(ctx)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}
