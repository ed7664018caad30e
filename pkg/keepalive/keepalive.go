// Package keepalive attaches periodic liveness probing and stale-connection
// detection to a websocket connection.
//
// A Monitor pings the peer at a fixed interval and tracks pongs. When no pong
// (or any other traffic acknowledged via Touch) arrives within the timeout
// window, the monitor reports the connection as stale exactly once and stops.
// The same monitor is used for the upstream model socket and is available for
// the carrier side.
package keepalive

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStale is reported to OnStale when the liveness window elapses without
// any sign of life from the peer.
var ErrStale = errors.New("keepalive: connection stale")

// Options configures a Monitor.
type Options struct {
	// Interval between ping probes. Defaults to 15s.
	Interval time.Duration

	// Timeout is the liveness window. If no pong or Touch happens for this
	// long, the connection is declared stale. Defaults to 3x Interval.
	Timeout time.Duration

	// OnStale is invoked exactly once when the connection goes stale.
	// Required.
	OnStale func(error)

	// Logger for probe failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Monitor probes a websocket connection for liveness.
type Monitor struct {
	conn *websocket.Conn
	opts Options

	mu       sync.Mutex
	lastSeen time.Time

	stopOnce  sync.Once
	staleOnce sync.Once
	stopCh    chan struct{}
}

// Attach starts monitoring conn. It installs a pong handler (chaining any
// handler already present) and starts the probe goroutine. The caller must
// Stop the monitor when the connection is torn down.
func Attach(conn *websocket.Conn, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * opts.Interval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Monitor{
		conn:     conn,
		opts:     opts,
		lastSeen: time.Now(),
		stopCh:   make(chan struct{}),
	}

	prev := conn.PongHandler()
	conn.SetPongHandler(func(appData string) error {
		m.Touch()
		if prev != nil {
			return prev(appData)
		}
		return nil
	})

	go m.loop()
	return m
}

// Touch records peer activity, postponing staleness. The session actor calls
// this on every inbound message so a busy connection never needs pongs.
func (m *Monitor) Touch() {
	m.mu.Lock()
	m.lastSeen = time.Now()
	m.mu.Unlock()
}

// Stop halts probing. Safe to call multiple times and after staleness.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		idle := time.Since(m.lastSeen)
		m.mu.Unlock()

		if idle > m.opts.Timeout {
			m.stale()
			return
		}

		deadline := time.Now().Add(m.opts.Interval)
		if err := m.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			m.opts.Logger.Debug("keepalive ping failed", "error", err)
			m.stale()
			return
		}
	}
}

func (m *Monitor) stale() {
	m.staleOnce.Do(func() {
		if m.opts.OnStale != nil {
			m.opts.OnStale(ErrStale)
		}
	})
}
