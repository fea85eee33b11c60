package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/study-buddy/internal/store"
)

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareMintsDeviceCookie(t *testing.T) {
	repo := newRepo(t)
	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !IsValidDeviceID(seen) {
		t.Fatalf("expected a device id in context, got %q", seen)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DeviceCookieName || cookies[0].Value != seen {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	device, err := repo.GetDevice(context.Background(), seen)
	if err != nil || device == nil {
		t.Fatalf("expected device row, got %+v err=%v", device, err)
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	repo := newRepo(t)
	id, err := NewDeviceID()
	if err != nil {
		t.Fatalf("NewDeviceID failed: %v", err)
	}

	var seen string
	h := Middleware(repo, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != id {
		t.Fatalf("expected %q, got %q", id, seen)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || !c[0].Secure {
		t.Fatalf("expected refreshed secure cookie, got %+v", c)
	}
}

func TestMiddlewareAcceptsDeviceHeader(t *testing.T) {
	repo := newRepo(t)
	id, _ := NewDeviceID()

	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DeviceHeaderName, id)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen != id {
		t.Fatalf("expected header device %q, got %q", id, seen)
	}
}

func TestInvalidCookieIsReplaced(t *testing.T) {
	repo := newRepo(t)
	var seen string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: "../../etc"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "../../etc" || !IsValidDeviceID(seen) {
		t.Fatalf("expected a fresh device id, got %q", seen)
	}
}

func TestTouchDeviceThrottlesLastSeen(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id, _ := NewDeviceID()
	start := time.Unix(1_700_000_000, 0)

	if err := touchDevice(ctx, repo, id, start); err != nil {
		t.Fatalf("touchDevice failed: %v", err)
	}
	if err := touchDevice(ctx, repo, id, start.Add(10*time.Second)); err != nil {
		t.Fatalf("touchDevice failed: %v", err)
	}
	device, _ := repo.GetDevice(ctx, id)
	if !device.LastSeenAt.Equal(start) {
		t.Fatalf("expected last seen unchanged, got %v", device.LastSeenAt)
	}

	later := start.Add(2 * time.Minute)
	if err := touchDevice(ctx, repo, id, later); err != nil {
		t.Fatalf("touchDevice failed: %v", err)
	}
	device, _ = repo.GetDevice(ctx, id)
	if !device.LastSeenAt.Equal(later) {
		t.Fatalf("expected last seen %v, got %v", later, device.LastSeenAt)
	}
}
