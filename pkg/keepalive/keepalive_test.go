package keepalive

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

// dialTestConn returns a client connection to a server that answers pings
// only while answer is true.
func dialTestConn(t *testing.T, answer *atomic.Bool) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.SetPingHandler(func(appData string) error {
			if answer.Load() {
				return conn.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second))
			}
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Pongs only arrive while a read is in progress.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return conn
}

func TestMonitor_HealthyConnectionStaysUp(t *testing.T) {
	var answer atomic.Bool
	answer.Store(true)
	conn := dialTestConn(t, &answer)

	var stale atomic.Int32
	m := Attach(conn, Options{
		Interval: 20 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		OnStale:  func(error) { stale.Add(1) },
	})
	defer m.Stop()

	time.Sleep(250 * time.Millisecond)
	if n := stale.Load(); n != 0 {
		t.Fatalf("healthy connection reported stale %d times", n)
	}
}

func TestMonitor_StaleFiresOnce(t *testing.T) {
	var answer atomic.Bool // never answers
	conn := dialTestConn(t, &answer)

	var stale atomic.Int32
	done := make(chan struct{})
	m := Attach(conn, Options{
		Interval: 10 * time.Millisecond,
		Timeout:  40 * time.Millisecond,
		OnStale: func(err error) {
			if err != ErrStale {
				t.Errorf("OnStale err = %v, want ErrStale", err)
			}
			if stale.Add(1) == 1 {
				close(done)
			}
		},
	})
	defer m.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stale never reported")
	}
	time.Sleep(100 * time.Millisecond)
	if n := stale.Load(); n != 1 {
		t.Fatalf("OnStale fired %d times, want 1", n)
	}
}

func TestMonitor_TouchPostponesStale(t *testing.T) {
	var answer atomic.Bool // pings unanswered; Touch keeps it alive
	conn := dialTestConn(t, &answer)

	var stale atomic.Int32
	m := Attach(conn, Options{
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
		OnStale:  func(error) { stale.Add(1) },
	})
	defer m.Stop()

	for i := 0; i < 10; i++ {
		m.Touch()
		time.Sleep(20 * time.Millisecond)
	}
	if n := stale.Load(); n != 0 {
		t.Fatalf("touched connection reported stale %d times", n)
	}
}
