package bridge

import (
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlancehq/parlance/pkg/carrier"
)

func dialServer(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readCloseCode(t *testing.T, ws *websocket.Conn) int {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg carrier.Message
		if err := ws.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return ce.Code
			}
			t.Fatalf("socket error before close frame: %v", err)
		}
	}
}

func TestServerRejectsWhenProvidersMissing(t *testing.T) {
	ws := dialServer(t, &Server{Logger: slog.New(slog.DiscardHandler)})

	err := ws.WriteJSON(&carrier.Message{
		Event: carrier.EventStart,
		Start: &carrier.StartInfo{CallSid: "CA1", StreamSid: "MZ1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if code := readCloseCode(t, ws); code != carrier.CloseConfigMissing {
		t.Fatalf("close code = %d, want %d", code, carrier.CloseConfigMissing)
	}
}

func TestServerSkipsPreambleBeforeStart(t *testing.T) {
	ws := dialServer(t, &Server{Logger: slog.New(slog.DiscardHandler)})

	// The carrier sends a "connected" preamble before "start".
	if err := ws.WriteJSON(map[string]string{"event": "connected"}); err != nil {
		t.Fatal(err)
	}
	err := ws.WriteJSON(&carrier.Message{
		Event:     carrier.EventStart,
		StreamSid: "MZ9",
		Start:     &carrier.StartInfo{CallSid: "CA9"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Reaching the config-missing rejection proves the start event was
	// recognized, with StreamSid taken from the envelope.
	if code := readCloseCode(t, ws); code != carrier.CloseConfigMissing {
		t.Fatalf("close code = %d, want %d", code, carrier.CloseConfigMissing)
	}
}

func TestServerGivesUpWithoutStart(t *testing.T) {
	ws := dialServer(t, &Server{Logger: slog.New(slog.DiscardHandler)})

	for range startReadLimit {
		if err := ws.WriteJSON(map[string]string{"event": "connected"}); err != nil {
			t.Fatal(err)
		}
	}
	if code := readCloseCode(t, ws); code != carrier.CloseNormal {
		t.Fatalf("close code = %d, want %d", code, carrier.CloseNormal)
	}
}

func TestServerRequiresValidSignature(t *testing.T) {
	srv := &Server{AuthToken: "tok-secret", Logger: slog.New(slog.DiscardHandler)}
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	wsURL := "ws" + strings.TrimPrefix(hs.URL, "http") + "/call/stream"

	// Missing signature.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("dial succeeded without a signature")
	}
	if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("resp = %+v, want 403", resp)
	}

	// Wrong token.
	hdr := http.Header{}
	hdr.Set(carrier.SignatureHeader, carrier.Signature("wrong", wsURL))
	if _, resp, err = websocket.DefaultDialer.Dial(wsURL, hdr); err == nil {
		t.Fatal("dial succeeded with a forged signature")
	} else if resp == nil || resp.StatusCode != 403 {
		t.Fatalf("resp = %+v, want 403", resp)
	}

	// Correct signature over the stream URL.
	hdr.Set(carrier.SignatureHeader, carrier.Signature("tok-secret", wsURL))
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("signed dial failed: %v", err)
	}
	ws.Close()
}

func TestAcceptCallDefaultsFromCustomParameters(t *testing.T) {
	srv := &Server{}
	call, err := srv.acceptCall(t.Context(), &carrier.StartInfo{
		CallSid:   "CA1",
		StreamSid: "MZ1",
		CustomParameters: map[string]string{
			"from":      "+15550100",
			"to":        "+15550200",
			"tenant_id": "tenant-1",
			"lead_id":   "lead-1",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if call.From != "+15550100" || call.TenantID != "tenant-1" || call.LeadID != "lead-1" {
		t.Fatalf("call = %+v", call)
	}
}
