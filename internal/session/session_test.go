package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/study-buddy/internal/store"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, store.Namespace) {
	t.Helper()
	ns := store.Scope(store.NewMemoryKV(), "device-1")
	return New(ns, opts...), ns
}

func sequentialIDs(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func TestCurrentAbsentInitially(t *testing.T) {
	s, _ := newTestStore(t)
	if id, ok, err := s.Current(context.Background()); err != nil || ok || id != "" {
		t.Fatalf("expected no current session, got %q ok=%v err=%v", id, ok, err)
	}
}

func TestCreateSetsCurrentAndLists(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	before := time.Now()
	created, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	current, ok, err := s.Current(ctx)
	if err != nil || !ok || current != created.ID {
		t.Fatalf("expected current %q, got %q ok=%v err=%v", created.ID, current, ok, err)
	}

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != created.ID {
		t.Fatalf("expected listing with %q, got %+v", created.ID, all)
	}
	if all[0].CreatedAt.Before(before) {
		t.Fatalf("createdAt %v is before invocation time %v", all[0].CreatedAt, before)
	}
}

func TestCreateSkipsExistingID(t *testing.T) {
	s, ns := newTestStore(t, WithIDGenerator(sequentialIDs("dup", "dup", "fresh")))
	ctx := context.Background()

	if err := ns.Set(ctx, metadataKey("dup"), time.Now().Format(time.RFC3339Nano)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	created, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID != "fresh" {
		t.Fatalf("expected colliding id to be skipped, got %q", created.ID)
	}
}

func TestCreateGivesUpOnPersistentCollision(t *testing.T) {
	s, ns := newTestStore(t, WithIDGenerator(sequentialIDs("dup")))
	ctx := context.Background()
	_ = ns.Set(ctx, metadataKey("dup"), time.Now().Format(time.RFC3339Nano))

	if _, err := s.Create(ctx); err == nil {
		t.Fatal("expected error when every generated id collides")
	}
}

func TestListAllNewestFirst(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	clock := func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	s, ns := newTestStore(t, WithClock(clock), WithIDGenerator(sequentialIDs("a", "b", "c")))
	ctx := context.Background()

	for range 3 {
		if _, err := s.Create(ctx); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	_ = ns.Set(ctx, metadataKey("broken"), "not a time")
	_ = ns.Set(ctx, "session_unrelated", "x")

	all, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	var got []string
	for _, si := range all {
		got = append(got, si.ID)
	}
	want := []string{"c", "b", "a", "broken"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
}

func TestSwitchToDoesNotValidate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	if err := s.SwitchTo(ctx, "unknown"); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	if id, _, _ := s.Current(ctx); id != "unknown" {
		t.Fatalf("expected unknown to be current, got %q", id)
	}
}

func TestAdoptRecordsMetadataOnce(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, _ := newTestStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := s.Adopt(ctx, "backend-1"); err != nil {
		t.Fatalf("Adopt failed: %v", err)
	}
	now = now.Add(time.Hour)
	if err := s.Adopt(ctx, "backend-1"); err != nil {
		t.Fatalf("second Adopt failed: %v", err)
	}

	all, _ := s.ListAll(ctx)
	if len(all) != 1 || !all[0].CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected original creation time kept, got %+v", all)
	}
	if id, _, _ := s.Current(ctx); id != "backend-1" {
		t.Fatalf("expected adopted id current, got %q", id)
	}
}

func TestDeleteMetadataOfCurrentCreatesReplacement(t *testing.T) {
	s, _ := newTestStore(t, WithIDGenerator(sequentialIDs("first", "second")))
	ctx := context.Background()

	if _, err := s.Create(ctx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	replacement, err := s.DeleteMetadata(ctx, "first")
	if err != nil {
		t.Fatalf("DeleteMetadata failed: %v", err)
	}
	if replacement == nil || replacement.ID != "second" {
		t.Fatalf("expected replacement session, got %+v", replacement)
	}
	current, ok, _ := s.Current(ctx)
	if !ok || current != "second" {
		t.Fatalf("expected new current session, got %q ok=%v", current, ok)
	}
	all, _ := s.ListAll(ctx)
	if len(all) != 1 || all[0].ID != "second" {
		t.Fatalf("expected only replacement listed, got %+v", all)
	}
}

func TestDeleteMetadataOfOtherKeepsCurrent(t *testing.T) {
	s, _ := newTestStore(t, WithIDGenerator(sequentialIDs("old", "new")))
	ctx := context.Background()
	_, _ = s.Create(ctx)
	_, _ = s.Create(ctx)

	replacement, err := s.DeleteMetadata(ctx, "old")
	if err != nil {
		t.Fatalf("DeleteMetadata failed: %v", err)
	}
	if replacement != nil {
		t.Fatalf("expected no replacement, got %+v", replacement)
	}
	if id, _, _ := s.Current(ctx); id != "new" {
		t.Fatalf("expected current unchanged, got %q", id)
	}
}

func TestEnsureCreatesOnce(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	first, err := s.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	second, err := s.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("expected stable id, got %q then %q", first, second)
	}
}
