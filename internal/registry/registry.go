// Package registry builds the session list shown for switching and deletion.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
)

// AbsoluteLayout formats creation times older than a week.
const AbsoluteLayout = "Jan 2, 2006 3:04 PM"

const shortIDLen = 8

// Source lists sessions and reports the current one.
type Source interface {
	ListAll(ctx context.Context) ([]domain.SessionIdentity, error)
	Current(ctx context.Context) (string, bool, error)
}

// Entry is one row of the registry.
type Entry struct {
	ID        string    `json:"id"`
	ShortID   string    `json:"short_id"`
	CreatedAt time.Time `json:"created_at"`
	IsCurrent bool      `json:"is_current"`
	Relative  string    `json:"relative"`
	Display   string    `json:"display"`
}

// Build projects the sessions of src, newest first, relative to now.
func Build(ctx context.Context, src Source, now time.Time) ([]Entry, error) {
	sessions, err := src.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	current, _, err := src.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current session: %w", err)
	}

	entries := make([]Entry, 0, len(sessions))
	for _, s := range sessions {
		short := s.ID
		if r := []rune(short); len(r) > shortIDLen {
			short = string(r[:shortIDLen])
		}
		rel := RelativeTime(s.CreatedAt, now)
		entries = append(entries, Entry{
			ID:        s.ID,
			ShortID:   short,
			CreatedAt: s.CreatedAt,
			IsCurrent: current != "" && s.ID == current,
			Relative:  rel,
			Display:   fmt.Sprintf("%s • ID: %s...", rel, short),
		})
	}
	return entries, nil
}

// RelativeTime renders t relative to now in coarse buckets. Each bucket
// truncates toward zero.
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "Unknown"
	}
	d := now.Sub(t)
	minutes := int64(d / time.Minute)
	hours := int64(d / time.Hour)
	days := int64(d / (24 * time.Hour))

	switch {
	case minutes < 1:
		return "Just now"
	case minutes < 60:
		return fmt.Sprintf("%d min ago", minutes)
	case hours < 24:
		return fmt.Sprintf("%d hours ago", hours)
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Local().Format(AbsoluteLayout)
	}
}
