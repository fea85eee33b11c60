package registry

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
)

type staticSource struct {
	sessions []domain.SessionIdentity
	current  string
}

func (s staticSource) ListAll(context.Context) ([]domain.SessionIdentity, error) {
	return s.sessions, nil
}

func (s staticSource) Current(context.Context) (string, bool, error) {
	return s.current, s.current != "", nil
}

func TestRelativeTimeBuckets(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.Local)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "Just now"},
		{59 * time.Second, "Just now"},
		{-5 * time.Minute, "Just now"},
		{time.Minute, "1 min ago"},
		{59 * time.Minute, "59 min ago"},
		{time.Hour, "1 hours ago"},
		{23*time.Hour + 59*time.Minute, "23 hours ago"},
		{24 * time.Hour, "1 days ago"},
		{6*24*time.Hour + 23*time.Hour, "6 days ago"},
		{7 * 24 * time.Hour, "Jun 8, 2024 12:00 PM"},
	}
	for _, tt := range tests {
		if got := RelativeTime(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("RelativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
	if got := RelativeTime(time.Time{}, now); got != "Unknown" {
		t.Errorf("zero time = %q", got)
	}
}

func TestBuildMarksCurrent(t *testing.T) {
	now := time.Now()
	src := staticSource{
		sessions: []domain.SessionIdentity{
			{ID: "0123456789abcdef", CreatedAt: now.Add(-2 * time.Minute)},
			{ID: "short", CreatedAt: now.Add(-3 * time.Hour)},
		},
		current: "short",
	}
	entries, err := Build(context.Background(), src, now)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].IsCurrent || !entries[1].IsCurrent {
		t.Fatalf("wrong current flags: %+v", entries)
	}
	if entries[0].ShortID != "01234567" || entries[1].ShortID != "short" {
		t.Fatalf("unexpected short ids: %q %q", entries[0].ShortID, entries[1].ShortID)
	}
	if entries[0].Relative != "2 min ago" || entries[1].Relative != "3 hours ago" {
		t.Fatalf("unexpected relative times: %q %q", entries[0].Relative, entries[1].Relative)
	}
}

func TestBuildWithoutCurrent(t *testing.T) {
	entries, err := Build(context.Background(), staticSource{
		sessions: []domain.SessionIdentity{{ID: "a", CreatedAt: time.Now()}},
	}, time.Now())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if entries[0].IsCurrent {
		t.Fatal("no session should be current")
	}
}

func TestBuildShortIDKeepsWholeCharacters(t *testing.T) {
	entries, err := Build(context.Background(), staticSource{
		sessions: []domain.SessionIdentity{{ID: "séance-ünïcode-1", CreatedAt: time.Now()}},
	}, time.Now())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if got := entries[0].ShortID; got != "séance-ü" {
		t.Fatalf("ShortID = %q, want %q", got, "séance-ü")
	}
}
