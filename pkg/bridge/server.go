package bridge

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlancehq/parlance/pkg/carrier"
	"github.com/parlancehq/parlance/pkg/keepalive"
)

// Server accepts carrier media streams over websocket and runs one
// Session per call.
type Server struct {
	// Dial opens model sessions. Nil means the model credentials were
	// never configured, which is fatal per call.
	Dial ModelDialer

	// Sessions is the per-call option template. Synthesizer nil is
	// treated as missing credentials.
	Sessions SessionOptions

	// Registry tracks live sessions. Optional.
	Registry *Registry

	// Accept maps the carrier start event to the accepted call. The
	// default reads the identifiers the webhook collaborator placed in
	// the stream's custom parameters.
	Accept func(ctx context.Context, start *carrier.StartInfo) (*AcceptedCall, error)

	// KeepaliveInterval overrides the ping cadence on the carrier
	// socket. Zero selects the keepalive default.
	KeepaliveInterval time.Duration

	// AuthToken, when set, requires each upgrade request to carry a
	// valid carrier signature over the stream URL. Empty disables the
	// check.
	AuthToken string

	Logger *slog.Logger

	upgrader websocket.Upgrader
}

// startReadLimit bounds how many pre-start events (the carrier sends a
// "connected" preamble) we tolerate before giving up on the stream.
const startReadLimit = 8

func (srv *Server) logger() *slog.Logger {
	if srv.Logger != nil {
		return srv.Logger
	}
	return slog.Default()
}

// ServeHTTP upgrades the media stream websocket and drives the call to
// completion.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if srv.AuthToken != "" {
		sig := r.Header.Get(carrier.SignatureHeader)
		if !carrier.ValidSignature(srv.AuthToken, streamURL(r), sig) {
			srv.logger().Warn("carrier signature rejected", "remote", r.RemoteAddr)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	ws, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger().Warn("websocket upgrade failed", "err", err)
		return
	}
	conn := carrier.NewConn(ws)

	start, err := srv.awaitStart(conn)
	if err != nil {
		srv.logger().Warn("no start event", "err", err)
		conn.Close(carrier.CloseNormal, "no start event")
		return
	}
	logger := srv.logger().With("call_sid", start.CallSid)

	if srv.Dial == nil || srv.Sessions.Synthesizer == nil {
		// Without provider credentials the call cannot be served at
		// all; a distinct close code makes the misconfiguration obvious
		// in carrier logs.
		logger.Error("provider configuration missing, rejecting call")
		conn.Close(carrier.CloseConfigMissing, "provider configuration missing")
		return
	}

	call, err := srv.acceptCall(r.Context(), start)
	if err != nil {
		logger.Warn("call not accepted", "err", err)
		conn.Close(carrier.CloseNormal, "not accepted")
		return
	}

	mon := keepalive.Attach(ws, keepalive.Options{
		Interval: srv.KeepaliveInterval,
		OnStale: func(err error) {
			logger.Warn("carrier socket stale", "err", err)
			ws.Close()
		},
		Logger: logger,
	})
	defer mon.Stop()

	opts := srv.Sessions
	opts.Registry = srv.Registry
	opts.Keepalive = mon
	if opts.Logger == nil {
		opts.Logger = srv.logger()
	}

	sess := NewSession(conn, *call, srv.Dial, opts)
	sess.Run(r.Context())
}

// awaitStart reads stream events until the "start" event arrives.
func (srv *Server) awaitStart(conn *carrier.Conn) (*carrier.StartInfo, error) {
	for range startReadLimit {
		msg, err := conn.Read()
		if err != nil {
			return nil, err
		}
		if msg.Event == carrier.EventStart && msg.Start != nil {
			start := *msg.Start
			if start.StreamSid == "" {
				start.StreamSid = msg.StreamSid
			}
			return &start, nil
		}
	}
	return nil, errNoStart
}

var errNoStart = errors.New("bridge: start event not received")

// streamURL reconstructs the URL the carrier signed when opening the
// stream.
func streamURL(r *http.Request) string {
	scheme := "ws"
	if r.TLS != nil {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// acceptCall resolves the accepted-call identity for a start event.
func (srv *Server) acceptCall(ctx context.Context, start *carrier.StartInfo) (*AcceptedCall, error) {
	if srv.Accept != nil {
		return srv.Accept(ctx, start)
	}
	p := start.CustomParameters
	return &AcceptedCall{
		CallSid:   start.CallSid,
		StreamSid: start.StreamSid,
		From:      p["from"],
		To:        p["to"],
		TenantID:  p["tenant_id"],
		LeadID:    p["lead_id"],
		ContactID: p["contact_id"],
	}, nil
}
