package live

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

type fakeConn struct {
	mu     sync.Mutex
	closed []string
}

func (c *fakeConn) Close(_ websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = append(c.closed, reason)
	return nil
}

func (c *fakeConn) reasons() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.closed...)
}

func TestManagerRegister(t *testing.T) {
	m := NewManager()
	conn := &fakeConn{}
	m.Register("dev-1", conn)

	if m.Active("dev-1") != conn {
		t.Fatal("expected registered connection to be active")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 active device, got %d", m.Count())
	}
}

func TestManagerReplaceClosesOlderPage(t *testing.T) {
	m := NewManager()
	older, newer := &fakeConn{}, &fakeConn{}
	m.Register("dev-1", older)
	m.Register("dev-1", newer)

	if got := older.reasons(); len(got) != 1 || got[0] != "page replaced" {
		t.Fatalf("expected older page to be closed, got %v", got)
	}
	if m.Active("dev-1") != newer {
		t.Fatal("expected newer page to be active")
	}

	// The older page unregistering late must not evict the newer one.
	m.Unregister("dev-1", older)
	if m.Active("dev-1") != newer {
		t.Fatal("stale unregister removed the active page")
	}
	m.Unregister("dev-1", newer)
	if m.Active("dev-1") != nil {
		t.Fatal("expected no active page")
	}
}

func TestManagerCloseDevice(t *testing.T) {
	m := NewManager()
	conn := &fakeConn{}
	m.Register("dev-1", conn)
	m.CloseDevice("dev-1")
	m.CloseDevice("dev-2")

	if len(conn.reasons()) != 1 || m.Active("dev-1") != nil {
		t.Fatalf("expected device closed, reasons=%v", conn.reasons())
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "dev-" + strconv.Itoa(i)
			for j := 0; j < 100; j++ {
				c := &fakeConn{}
				m.Register(id, c)
				_ = m.Active(id)
				m.Unregister(id, c)
			}
		}(i)
	}
	wg.Wait()
	if m.Count() != 0 {
		t.Fatalf("expected no active pages, got %d", m.Count())
	}
}
