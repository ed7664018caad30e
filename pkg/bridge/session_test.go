package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parlancehq/parlance/pkg/carrier"
	"github.com/parlancehq/parlance/pkg/finalize"
	"github.com/parlancehq/parlance/pkg/kv"
	"github.com/parlancehq/parlance/pkg/realtime"
	"github.com/parlancehq/parlance/pkg/storage"
	"github.com/parlancehq/parlance/pkg/tts"
	"github.com/parlancehq/parlance/pkg/turns"
)

// fakeModel is a scriptable ModelSession. Tests feed server events in
// through push and inspect what the bridge sent.
type fakeModel struct {
	mu        sync.Mutex
	audio     [][]byte
	userMsgs  []string
	assistant []string
	created   int
	cancelled int
	events    chan *realtime.ServerEvent
	errs      chan error
	closeOnce sync.Once
	closedCh  chan struct{}
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		events:   make(chan *realtime.ServerEvent, 64),
		errs:     make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

func (m *fakeModel) push(ev *realtime.ServerEvent) { m.events <- ev }
func (m *fakeModel) fail(err error)                { m.errs <- err }

func (m *fakeModel) AppendAudio(audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	m.audio = append(m.audio, cp)
	return nil
}

func (m *fakeModel) AddUserMessage(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userMsgs = append(m.userMsgs, text)
	return nil
}

func (m *fakeModel) AddAssistantMessage(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assistant = append(m.assistant, text)
	return nil
}

func (m *fakeModel) CreateResponse() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	return nil
}

func (m *fakeModel) CancelResponse() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
	return nil
}

func (m *fakeModel) Events() iter.Seq2[*realtime.ServerEvent, error] {
	return func(yield func(*realtime.ServerEvent, error) bool) {
		for {
			select {
			case ev := <-m.events:
				if !yield(ev, nil) {
					return
				}
			case err := <-m.errs:
				yield(nil, err)
				return
			case <-m.closedCh:
				return
			}
		}
	}
}

func (m *fakeModel) Close() error {
	m.closeOnce.Do(func() { close(m.closedCh) })
	return nil
}

func (m *fakeModel) stats() (created int, audio int, assistant []string, user []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created, len(m.audio), append([]string(nil), m.assistant...), append([]string(nil), m.userMsgs...)
}

// fakeSynth returns a fixed audio buffer per call, or fails.
type fakeSynth struct {
	mu    sync.Mutex
	calls []string
	fail  bool
	audio []byte
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{audio: bytes.Repeat([]byte{0x2A}, 400)} // 2.5 frames
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) (tts.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errors.New("synth unavailable")
	}
	return tts.NewBufferStream(f.audio), nil
}

func (f *fakeSynth) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func fastThresholds() turns.Thresholds {
	th := turns.DefaultThresholds()
	th.EndDebounce = 10 * time.Millisecond
	th.FinalizeWait = 20 * time.Millisecond
	th.TranscriptWait = 50 * time.Millisecond
	th.PostSpeechDeadzone = 10 * time.Millisecond
	return th
}

type callHarness struct {
	t       *testing.T
	client  *websocket.Conn
	model   *fakeModel
	synth   *fakeSynth
	store   kv.Store
	runDone chan struct{}
}

// startCall stands up a session behind a real websocket pair. The test
// side of the socket plays the carrier. prep runs before the session
// starts, so it can adjust both the fakes and the options.
func startCall(t *testing.T, prep func(*callHarness, *SessionOptions), dial ModelDialer) *callHarness {
	t.Helper()
	h := &callHarness{
		t:       t,
		model:   newFakeModel(),
		synth:   newFakeSynth(),
		store:   kv.NewMemory(),
		runDone: make(chan struct{}),
	}
	t.Cleanup(func() { h.store.Close() })

	archive, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fin := &finalize.Finalizer{
		Store:   h.store,
		Archive: archive,
		Extract: finalize.ExtractFunc(func(context.Context, string) (*finalize.Extraction, error) {
			return &finalize.Extraction{}, nil
		}),
		Logger: slog.New(slog.DiscardHandler),
	}

	if dial == nil {
		dial = func(context.Context) (ModelSession, error) { return h.model, nil }
	}

	opts := SessionOptions{
		Synthesizer: h.synth,
		Finalizer:   fin,
		Thresholds:  fastThresholds(),
		Logger:      slog.New(slog.DiscardHandler),
	}
	if prep != nil {
		prep(h, &opts)
	}

	var upgrader websocket.Upgrader
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := NewSession(carrier.NewConn(ws), AcceptedCall{
			CallSid:   "CA1",
			StreamSid: "MZ1",
			From:      "+15550100",
			To:        "+15550200",
			TenantID:  "tenant-1",
			LeadID:    "lead-1",
		}, dial, opts)
		sess.Run(r.Context())
		close(h.runDone)
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	h.client = client
	return h
}

// readUntil reads carrier messages until pred is satisfied or the
// deadline passes.
func (h *callHarness) readUntil(d time.Duration, pred func(*carrier.Message) bool) *carrier.Message {
	h.t.Helper()
	h.client.SetReadDeadline(time.Now().Add(d))
	for {
		var msg carrier.Message
		if err := h.client.ReadJSON(&msg); err != nil {
			h.t.Fatalf("reading carrier messages: %v", err)
		}
		if pred(&msg) {
			return &msg
		}
	}
}

func (h *callHarness) sendMedia(payload []byte) {
	h.t.Helper()
	err := h.client.WriteJSON(&carrier.Message{
		Event:     carrier.EventMedia,
		StreamSid: "MZ1",
		Media:     &carrier.MediaInfo{Payload: base64.StdEncoding.EncodeToString(payload)},
	})
	if err != nil {
		h.t.Fatal(err)
	}
}

func (h *callHarness) sendStop() {
	h.t.Helper()
	err := h.client.WriteJSON(&carrier.Message{
		Event: carrier.EventStop,
		Stop:  &carrier.StopInfo{CallSid: "CA1"},
	})
	if err != nil {
		h.t.Fatal(err)
	}
}

func (h *callHarness) waitDone() {
	h.t.Helper()
	select {
	case <-h.runDone:
	case <-time.After(5 * time.Second):
		h.t.Fatal("session did not finish")
	}
}

func TestSession_GreetingAndFinalize(t *testing.T) {
	h := startCall(t, nil, nil)

	// The greeting reaches the carrier as framed media.
	h.readUntil(3*time.Second, func(m *carrier.Message) bool {
		return m.Event == carrier.EventMedia
	})

	h.sendStop()
	h.waitDone()

	var rec finalize.CallRecord
	if err := kv.GetRecord(context.Background(), h.store, kv.Key{"call", "CA1", "record"}, &rec); err != nil {
		t.Fatalf("call record: %v", err)
	}
	if rec.Status != "closed" || rec.TenantID != "tenant-1" {
		t.Fatalf("record = %+v", rec)
	}

	spoken := h.synth.spoken()
	if len(spoken) == 0 || spoken[0] != DefaultGreeting {
		t.Fatalf("spoken = %v", spoken)
	}
	_, _, assistant, _ := h.model.stats()
	if len(assistant) == 0 || assistant[0] != DefaultGreeting {
		t.Fatalf("assistant context = %v", assistant)
	}
}

func TestSession_CallerTurnToResponse(t *testing.T) {
	h := startCall(t, nil, nil)

	// Let the greeting finish first.
	h.readUntil(3*time.Second, func(m *carrier.Message) bool {
		return m.Event == carrier.EventMedia
	})

	// Caller audio flows to the model.
	frame := bytes.Repeat([]byte{0x11}, 160)
	h.sendMedia(frame)

	// Caller takes a turn.
	h.model.push(&realtime.ServerEvent{Type: realtime.EventTypeSpeechStarted})
	time.Sleep(50 * time.Millisecond)
	h.model.push(&realtime.ServerEvent{Type: realtime.EventTypeSpeechStopped})
	h.model.push(&realtime.ServerEvent{
		Type:       realtime.EventTypeTranscriptionCompleted,
		Transcript: "I was in a car accident yesterday",
	})

	// Debounce and finalize-wait timers resolve the utterance and the
	// bridge asks the model for a response.
	deadline := time.Now().Add(3 * time.Second)
	for {
		created, _, _, _ := h.model.stats()
		if created == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("CreateResponse never called")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The model responds; its text is synthesized to the carrier.
	h.model.push(&realtime.ServerEvent{
		Type:     realtime.EventTypeResponseCreated,
		Response: &realtime.ResponseResource{ID: "resp-1"},
	})
	h.model.push(&realtime.ServerEvent{
		Type:       realtime.EventTypeResponseTextDelta,
		ResponseID: "resp-1",
		Delta:      "I'm sorry to hear that. Were you injured?",
	})
	h.model.push(&realtime.ServerEvent{
		Type:     realtime.EventTypeResponseDone,
		Response: &realtime.ResponseResource{ID: "resp-1"},
	})

	// The accepted response is handed to the synthesizer.
	deadline = time.Now().Add(3 * time.Second)
	for {
		var sawResponse bool
		for _, s := range h.synth.spoken() {
			if strings.Contains(s, "Were you injured?") {
				sawResponse = true
			}
		}
		if sawResponse {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("response text never synthesized: %v", h.synth.spoken())
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.sendStop()
	h.waitDone()

	_, audio, _, _ := h.model.stats()
	if audio == 0 {
		t.Fatal("caller audio never reached the model")
	}

	// The transcript carries both sides.
	var entries []finalize.TranscriptEntry
	if err := kv.GetRecord(context.Background(), h.store, kv.Key{"call", "CA1", "entries"}, &entries); err != nil {
		t.Fatal(err)
	}
	var roles []string
	for _, e := range entries {
		roles = append(roles, e.Role)
	}
	joined := strings.Join(roles, ",")
	if !strings.Contains(joined, "caller") {
		t.Fatalf("no caller entry in %v", entries)
	}
}

func TestSession_PendingAudioFlushedInOrder(t *testing.T) {
	release := make(chan struct{})
	model := newFakeModel()
	dial := func(ctx context.Context) (ModelSession, error) {
		<-release
		return model, nil
	}
	h := startCall(t, nil, dial)
	h.model = model

	first := bytes.Repeat([]byte{0x01}, 160)
	second := bytes.Repeat([]byte{0x02}, 160)
	h.sendMedia(first)
	h.sendMedia(second)
	time.Sleep(100 * time.Millisecond)
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		model.mu.Lock()
		n := len(model.audio)
		model.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pending audio never flushed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	model.mu.Lock()
	defer model.mu.Unlock()
	if !bytes.Equal(model.audio[0], first) || !bytes.Equal(model.audio[1], second) {
		t.Fatal("pending audio out of order")
	}
}

func TestSession_ReconnectReplaysAndSpeaksFiller(t *testing.T) {
	var mu sync.Mutex
	models := []*fakeModel{newFakeModel(), newFakeModel()}
	dials := 0
	dial := func(ctx context.Context) (ModelSession, error) {
		mu.Lock()
		defer mu.Unlock()
		m := models[min(dials, len(models)-1)]
		dials++
		return m, nil
	}
	h := startCall(t, func(_ *callHarness, o *SessionOptions) {
		o.ReconnectBase = time.Millisecond
	}, dial)

	h.readUntil(3*time.Second, func(m *carrier.Message) bool {
		return m.Event == carrier.EventMedia
	})
	// Let the greeting synthesis wind down so the filler line is not
	// suppressed by an in-flight stream.
	time.Sleep(100 * time.Millisecond)

	models[0].fail(errors.New("connection reset"))

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, _, assistant, _ := models[1].stats()
		if len(assistant) > 0 {
			// The fresh session got the transcript replayed.
			if assistant[0] != DefaultGreeting {
				t.Fatalf("replayed = %v", assistant)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second model never saw replayed transcript")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var sawFiller bool
	for _, s := range h.synth.spoken() {
		if s == DefaultFiller {
			sawFiller = true
		}
	}
	if !sawFiller {
		t.Fatalf("filler never spoken: %v", h.synth.spoken())
	}

	h.sendStop()
	h.waitDone()
}

func TestSession_ReconnectExhaustedClosesUpstreamLost(t *testing.T) {
	dial := func(ctx context.Context) (ModelSession, error) {
		return nil, errors.New("dial refused")
	}
	h := startCall(t, func(_ *callHarness, o *SessionOptions) {
		o.ReconnectAttempts = 2
		o.ReconnectBase = time.Millisecond
	}, dial)

	h.client.SetReadDeadline(time.Now().Add(3 * time.Second))
	var closeCode int
	for {
		var msg carrier.Message
		if err := h.client.ReadJSON(&msg); err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				closeCode = ce.Code
			}
			break
		}
	}
	if closeCode != carrier.CloseUpstreamLost {
		t.Fatalf("close code = %d, want %d", closeCode, carrier.CloseUpstreamLost)
	}
	h.waitDone()
}

func TestSession_FallbackVoiceOnSynthesisFailure(t *testing.T) {
	fallback := newFakeSynth()
	h := startCall(t, func(h *callHarness, o *SessionOptions) {
		h.synth.fail = true
		o.Fallback = fallback
	}, nil)

	// The greeting fails on the primary voice, so the session escalates
	// to the fallback voice and its audio reaches the carrier.
	h.readUntil(3*time.Second, func(m *carrier.Message) bool {
		return m.Event == carrier.EventMedia
	})

	spoken := fallback.spoken()
	if len(spoken) == 0 || spoken[0] != DefaultFallback {
		t.Fatalf("fallback spoken = %v", spoken)
	}

	h.sendStop()
	h.waitDone()
}

func TestSession_AnnouncementMarkWhenNoFallback(t *testing.T) {
	h := startCall(t, func(h *callHarness, _ *SessionOptions) {
		h.synth.fail = true
	}, nil)

	msg := h.readUntil(3*time.Second, func(m *carrier.Message) bool {
		return m.Event == carrier.EventMark
	})
	if msg.Mark == nil || msg.Mark.Name != "tts-unavailable" {
		t.Fatalf("mark = %+v", msg.Mark)
	}

	h.sendStop()
	h.waitDone()
}
