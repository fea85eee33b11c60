package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func kvDrivers(t *testing.T) map[string]KV {
	t.Helper()
	drivers := map[string]KV{
		"memory": NewMemoryKV(),
		"sqlite": newTestSQLite(t),
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		if err := client.Ping(context.Background()).Err(); err == nil {
			kv := NewRedisKV(client, "studybuddy-test:"+uuid.NewString()+":", 0)
			t.Cleanup(func() { _ = kv.Close() })
			drivers["redis"] = kv
		} else {
			_ = client.Close()
		}
	}
	return drivers
}

func TestKVGetSetDelete(t *testing.T) {
	for name, kv := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := kv.Get(ctx, "dev-1", "k"); err != nil || ok {
				t.Fatalf("expected absent key, got ok=%v err=%v", ok, err)
			}
			if err := kv.Set(ctx, "dev-1", "k", "v1"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := kv.Set(ctx, "dev-1", "k", "v2"); err != nil {
				t.Fatalf("Set overwrite failed: %v", err)
			}
			got, ok, err := kv.Get(ctx, "dev-1", "k")
			if err != nil || !ok || got != "v2" {
				t.Fatalf("expected v2, got %q ok=%v err=%v", got, ok, err)
			}
			if _, ok, _ := kv.Get(ctx, "dev-2", "k"); ok {
				t.Fatal("namespaces must not share keys")
			}
			if err := kv.Delete(ctx, "dev-1", "k"); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if err := kv.Delete(ctx, "dev-1", "k"); err != nil {
				t.Fatalf("Delete of absent key should succeed: %v", err)
			}
			if _, ok, _ := kv.Get(ctx, "dev-1", "k"); ok {
				t.Fatal("expected key to be gone")
			}
		})
	}
}

func TestKVTakeConsumesOnce(t *testing.T) {
	for name, kv := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := kv.Set(ctx, "dev", "signal", "Arrays"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, ok, err := kv.Take(ctx, "dev", "signal")
			if err != nil || !ok || got != "Arrays" {
				t.Fatalf("first take: got %q ok=%v err=%v", got, ok, err)
			}
			if _, ok, err := kv.Take(ctx, "dev", "signal"); err != nil || ok {
				t.Fatalf("second take must be absent, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestKVTakeConcurrentSingleWinner(t *testing.T) {
	for name, kv := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := kv.Set(ctx, "dev", "signal", "once"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			var winners atomic.Int32
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok, err := kv.Take(ctx, "dev", "signal"); err == nil && ok {
						winners.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := winners.Load(); got != 1 {
				t.Fatalf("expected exactly one take to observe the value, got %d", got)
			}
		})
	}
}

func TestKVKeysPrefixAndOrder(t *testing.T) {
	for name, kv := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"session_b_created", "session_a_created", "current_session", "session%_x"} {
				if err := kv.Set(ctx, "dev", k, "x"); err != nil {
					t.Fatalf("Set %s failed: %v", k, err)
				}
			}
			keys, err := kv.Keys(ctx, "dev", "session_")
			if err != nil {
				t.Fatalf("Keys failed: %v", err)
			}
			want := []string{"session%_x", "session_a_created", "session_b_created"}
			if len(keys) != len(want) {
				t.Fatalf("expected %v, got %v", want, keys)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("expected %v, got %v", want, keys)
				}
			}
		})
	}
}

func TestKVDeleteNamespace(t *testing.T) {
	for name, kv := range kvDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_ = kv.Set(ctx, "gone", "a", "1")
			_ = kv.Set(ctx, "gone", "b", "2")
			_ = kv.Set(ctx, "kept", "a", "1")

			n, err := kv.DeleteNamespace(ctx, "gone")
			if err != nil {
				t.Fatalf("DeleteNamespace failed: %v", err)
			}
			if n != 2 {
				t.Fatalf("expected 2 deleted keys, got %d", n)
			}
			if _, ok, _ := kv.Get(ctx, "kept", "a"); !ok {
				t.Fatal("other namespaces must survive")
			}
		})
	}
}

func TestScopeBindsNamespace(t *testing.T) {
	kv := NewMemoryKV()
	ns := Scope(kv, "dev-9")
	ctx := context.Background()

	if err := ns.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, ok, _ := kv.Get(ctx, "dev-9", "k"); !ok || got != "v" {
		t.Fatalf("expected value in bound namespace, got %q ok=%v", got, ok)
	}
}

func TestNewKVFactory(t *testing.T) {
	if _, err := NewKV(KVTypeMemory); err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	if _, err := NewKV(KVTypeSQLite); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("sqlite without store: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewKV(KVTypeRedis); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("redis without client: expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewKV("etcd"); !errors.Is(err, ErrInvalidStoreType) {
		t.Fatalf("unknown driver: expected ErrInvalidStoreType, got %v", err)
	}

	s := newTestSQLite(t)
	kv, err := NewKV(KVTypeSQLite, WithSQLite(s))
	if err != nil {
		t.Fatalf("sqlite driver: %v", err)
	}
	if kv != KV(s) {
		t.Fatal("sqlite driver should reuse the device database")
	}
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]\\"); got != `a\*b\?\[c\]\\` {
		t.Fatalf("unexpected escape: %q", got)
	}
}
