package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parlancehq/parlance/pkg/carrier"
	"github.com/parlancehq/parlance/pkg/finalize"
	"github.com/parlancehq/parlance/pkg/framing"
	"github.com/parlancehq/parlance/pkg/keepalive"
	"github.com/parlancehq/parlance/pkg/realtime"
	"github.com/parlancehq/parlance/pkg/tts"
	"github.com/parlancehq/parlance/pkg/turns"
)

// errModelClosed marks the model reader ending without a read error,
// which happens when the session was closed on purpose.
var errModelClosed = errors.New("bridge: model session closed")

// SessionOptions configures a call session. Zero values select the
// defaults.
type SessionOptions struct {
	// Synthesizer is the primary streaming voice. Required.
	Synthesizer tts.Synthesizer

	// Fallback is the secondary voice used when the primary produces no
	// audio within FallbackDeadline. Optional.
	Fallback tts.Synthesizer

	// Finalizer runs the end-of-call pipeline. Optional.
	Finalizer *finalize.Finalizer

	// Registry the session registers in for its lifetime. Optional.
	Registry *Registry

	// Keepalive is touched on every carrier read. Optional.
	Keepalive *keepalive.Monitor

	// Thresholds tunes the turn controller.
	Thresholds turns.Thresholds

	// Greeting is spoken once when the model session is ready.
	Greeting string

	// ReconnectAttempts and ReconnectBase bound the model redial loop
	// (exponential backoff from the base delay).
	ReconnectAttempts int
	ReconnectBase     time.Duration

	// FallbackDeadline is how long after a completed response the
	// carrier may stay silent before the fallback voice takes over.
	FallbackDeadline time.Duration

	// PendingFrameLimit bounds caller audio buffered before the model
	// session is ready.
	PendingFrameLimit int

	Logger *slog.Logger
}

// Session is the actor owning one call. All fields below the identity
// mutex are touched only from the Run goroutine.
type Session struct {
	callSid   string
	streamSid string
	from      string
	to        string
	startedAt time.Time

	idMu      sync.Mutex
	tenantID  string
	leadID    string
	contactID string

	conn   *carrier.Conn
	dial   ModelDialer
	opts   SessionOptions
	logger *slog.Logger

	ctrl   *turns.Controller
	events chan any
	done   chan struct{}
	stop   sync.Once

	model         ModelSession
	dialCount     int
	fillerSpoken  bool
	pendingCreate bool
	pendingAudio  [][]byte

	frames     *framing.FrameBuffer
	timers     map[uint64]*time.Timer
	transcript []finalize.TranscriptEntry
	respText   map[string]*strings.Builder

	synthSeq      uint64
	synthID       string
	synthStream   tts.Stream
	synthFallback bool
	synthStarted  bool // audio event already delivered for current synthesis

	framesIn       int
	framesOut      int
	greetingSent   bool
	audioDelivered bool
	fallbackTimer  *time.Timer
	fallbackTried  bool

	closeCode   int
	closeReason string
}

// Internal event-channel messages.
type (
	carrierEvent struct {
		msg *carrier.Message
		err error
	}
	modelEvent struct {
		from ModelSession
		ev   *realtime.ServerEvent
		err  error
	}
	modelDialed struct {
		sess ModelSession
	}
	modelGone struct {
		err error
	}
	synthStarted struct {
		seq    uint64
		stream tts.Stream
	}
	synthChunk struct {
		seq  uint64
		data []byte
	}
	synthEnd struct {
		seq uint64
		err error
	}
	timerEvent struct {
		kind  turns.TimerKind
		token uint64
	}
	fallbackCheck struct{}
)

// NewSession creates the actor for an accepted call. Run must be called
// to start it.
func NewSession(conn *carrier.Conn, call AcceptedCall, dial ModelDialer, opts SessionOptions) *Session {
	if opts.ReconnectAttempts <= 0 {
		opts.ReconnectAttempts = defaultReconnectAttempts
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = defaultReconnectBase
	}
	if opts.FallbackDeadline <= 0 {
		opts.FallbackDeadline = defaultFallbackDeadline
	}
	if opts.PendingFrameLimit <= 0 {
		opts.PendingFrameLimit = defaultPendingFrameLimit
	}
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("call_sid", call.CallSid, "stream_sid", call.StreamSid)

	s := &Session{
		callSid:   call.CallSid,
		streamSid: call.StreamSid,
		from:      call.From,
		to:        call.To,
		tenantID:  call.TenantID,
		leadID:    call.LeadID,
		contactID: call.ContactID,
		startedAt: time.Now(),
		conn:      conn,
		dial:      dial,
		opts:      opts,
		logger:    logger,
		events:    make(chan any, 256),
		done:      make(chan struct{}),
		frames:    framing.NewFrameBuffer(0),
		timers:    make(map[uint64]*time.Timer),
		respText:  make(map[string]*strings.Builder),
		closeCode: carrier.CloseNormal,
	}
	s.ctrl = turns.New(opts.Thresholds, turns.SystemClock(), &slogObserver{logger: logger})
	return s
}

// CallSid returns the call identifier.
func (s *Session) CallSid() string { return s.callSid }

// SetIdentity records asynchronously-resolved identifiers. Empty
// arguments leave the current value in place.
func (s *Session) SetIdentity(tenantID, leadID, contactID string) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if tenantID != "" {
		s.tenantID = tenantID
	}
	if leadID != "" {
		s.leadID = leadID
	}
	if contactID != "" {
		s.contactID = contactID
	}
}

func (s *Session) identity() (tenantID, leadID, contactID string) {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.tenantID, s.leadID, s.contactID
}

// Run drives the call until the carrier hangs up, the model connection
// is irrecoverably lost, or ctx is cancelled. It finalizes the call
// before returning.
func (s *Session) Run(ctx context.Context) {
	if s.opts.Registry != nil {
		if !s.opts.Registry.Add(s) {
			s.logger.Warn("duplicate session rejected")
			s.conn.Close(carrier.CloseNormal, "duplicate stream")
			return
		}
		defer s.opts.Registry.Remove(s.callSid)
	}
	defer s.teardown(ctx)

	s.logger.Info("call connected", "from", s.from, "to", s.to)

	go s.readCarrier()
	go s.connectModel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev := <-s.events:
			if !s.handle(ctx, ev) {
				return
			}
		}
	}
}

// send delivers an event to the actor unless the session has ended.
func (s *Session) send(ev any) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) readCarrier() {
	for {
		msg, err := s.conn.Read()
		if err == nil && s.opts.Keepalive != nil {
			s.opts.Keepalive.Touch()
		}
		if !s.send(carrierEvent{msg: msg, err: err}) {
			return
		}
		if err != nil {
			return
		}
	}
}

// connectModel dials the model with bounded exponential backoff and
// reports the outcome to the actor.
func (s *Session) connectModel(ctx context.Context) {
	var lastErr error
	for i := 0; i < s.opts.ReconnectAttempts; i++ {
		if i > 0 {
			delay := s.opts.ReconnectBase << (i - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
		sess, err := s.dial(ctx)
		if err == nil {
			s.send(modelDialed{sess: sess})
			return
		}
		lastErr = err
		s.logger.Warn("model dial failed", "attempt", i+1, "err", err)
	}
	s.send(modelGone{err: lastErr})
}

func (s *Session) readModel(sess ModelSession) {
	for ev, err := range sess.Events() {
		if err != nil {
			s.send(modelEvent{from: sess, err: err})
			return
		}
		if !s.send(modelEvent{from: sess, ev: ev}) {
			return
		}
	}
	s.send(modelEvent{from: sess, err: errModelClosed})
}

// handle processes one actor event. It returns false when the call is
// over.
func (s *Session) handle(ctx context.Context, ev any) bool {
	switch e := ev.(type) {
	case carrierEvent:
		return s.onCarrier(e)
	case modelDialed:
		s.onModelDialed(e.sess)
	case modelGone:
		s.logger.Error("model connection exhausted", "err", e.err)
		s.closeCode = carrier.CloseUpstreamLost
		s.closeReason = "upstream connection lost"
		return false
	case modelEvent:
		return s.onModel(ctx, e)
	case synthStarted:
		s.onSynthStarted(e)
	case synthChunk:
		s.onSynthChunk(e)
	case synthEnd:
		s.onSynthEnd(e)
	case timerEvent:
		delete(s.timers, e.token)
		s.exec(s.ctrl.Handle(turns.TimerFired{Kind: e.kind, Token: e.token}))
	case fallbackCheck:
		s.onFallbackCheck()
	}
	return true
}

func (s *Session) onCarrier(e carrierEvent) bool {
	if e.err != nil {
		s.logger.Info("carrier socket closed", "err", e.err)
		return false
	}
	switch e.msg.Event {
	case carrier.EventMedia:
		payload, err := e.msg.Media.DecodePayload()
		if err != nil {
			s.logger.Warn("bad media payload", "err", err)
			return true
		}
		s.framesIn++
		if s.model != nil {
			if err := s.model.AppendAudio(payload); err != nil {
				s.logger.Warn("append audio", "err", err)
			}
		} else if len(s.pendingAudio) < s.opts.PendingFrameLimit {
			s.pendingAudio = append(s.pendingAudio, payload)
		}
	case carrier.EventStop:
		s.logger.Info("carrier stop event")
		return false
	case carrier.EventMark:
		// Playback position acks are not used for pacing.
	}
	return true
}

func (s *Session) onModelDialed(sess ModelSession) {
	s.model = sess
	s.dialCount++
	s.fillerSpoken = false
	go s.readModel(sess)

	// A reconnected session has lost the server-side conversation;
	// replay the transcript so the model keeps its context.
	if s.dialCount > 1 {
		for _, entry := range s.transcript {
			var err error
			if entry.Role == "caller" {
				err = sess.AddUserMessage(entry.Text)
			} else {
				err = sess.AddAssistantMessage(entry.Text)
			}
			if err != nil {
				s.logger.Warn("replay transcript", "err", err)
				break
			}
		}
	}

	for _, frame := range s.pendingAudio {
		if err := sess.AppendAudio(frame); err != nil {
			s.logger.Warn("flush pending audio", "err", err)
			break
		}
	}
	s.pendingAudio = nil

	if s.pendingCreate {
		s.pendingCreate = false
		if err := sess.CreateResponse(); err != nil {
			s.logger.Warn("create response", "err", err)
		}
	}

	if !s.greetingSent {
		s.greetingSent = true
		s.exec(s.ctrl.Handle(turns.CallStarted{}))
		s.speakText("", s.opts.Greeting, false)
		s.appendTranscript("assistant", s.opts.Greeting)
		if err := sess.AddAssistantMessage(s.opts.Greeting); err != nil {
			s.logger.Warn("add greeting message", "err", err)
		}
	}
}

func (s *Session) onModel(ctx context.Context, e modelEvent) bool {
	if e.from != s.model {
		return true // stale reader from a replaced session
	}
	if e.err != nil {
		s.logger.Warn("model connection lost", "err", e.err)
		s.model = nil
		if !s.fillerSpoken && s.synthStream == nil {
			s.fillerSpoken = true
			s.speakText("", DefaultFiller, false)
		}
		go s.connectModel(ctx)
		return true
	}

	ev := e.ev
	switch ev.Type {
	case realtime.EventTypeResponseCreated:
		if ev.Response == nil {
			return true
		}
		id := ev.Response.ID
		s.respText[id] = &strings.Builder{}
		s.exec(s.ctrl.Handle(turns.ResponseStarted{ID: id}))

	case realtime.EventTypeResponseTextDelta:
		if b, ok := s.respText[ev.ResponseID]; ok {
			b.WriteString(ev.Delta)
		}

	case realtime.EventTypeResponseDone, realtime.EventTypeResponseCancelled:
		if ev.Response == nil {
			return true
		}
		id := ev.Response.ID
		text := ""
		if b, ok := s.respText[id]; ok {
			text = b.String()
			delete(s.respText, id)
		}
		if ev.Type == realtime.EventTypeResponseCancelled {
			return true
		}
		s.exec(s.ctrl.Handle(turns.ResponseDone{ID: id, Text: text}))
		// If the controller kept this response active, it is ours to
		// speak; a squelched response never reaches the carrier.
		if s.ctrl.ActiveResponseID() == id && text != "" {
			s.appendTranscript("assistant", text)
			s.speakText(id, text, false)
			s.armFallback()
		}

	case realtime.EventTypeSpeechStarted:
		s.exec(s.ctrl.Handle(turns.SpeechStarted{}))

	case realtime.EventTypeSpeechStopped:
		s.exec(s.ctrl.Handle(turns.SpeechStopped{}))

	case realtime.EventTypeTranscriptionDelta:
		s.exec(s.ctrl.Handle(turns.InterimTranscript{Text: ev.Delta}))

	case realtime.EventTypeTranscriptionCompleted:
		s.exec(s.ctrl.Handle(turns.FinalTranscript{Text: ev.Transcript}))

	case realtime.EventTypeTranscriptionFailed:
		s.logger.Warn("transcription failed", "item_id", ev.ItemID)

	case realtime.EventTypeError:
		s.logger.Warn("model error event", "err", ev.Err)
	}
	return true
}

// exec carries out the controller's commands.
func (s *Session) exec(cmds []turns.Command) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case turns.Speak:
			text := lineText(c.Line)
			s.appendTranscript("assistant", text)
			s.speakText("", text, false)
			if s.model != nil {
				if err := s.model.AddAssistantMessage(text); err != nil {
					s.logger.Warn("add canned line", "err", err)
				}
			}

		case turns.StopSynthesis:
			s.stopSynthesis()

		case turns.CancelResponse:
			delete(s.respText, c.ID)
			if s.model != nil {
				if err := s.model.CancelResponse(); err != nil {
					s.logger.Warn("cancel response", "err", err)
				}
			}

		case turns.ClearAudio:
			s.frames.Reset()
			if err := s.conn.SendClear(s.streamSid); err != nil {
				s.logger.Warn("send clear", "err", err)
			}

		case turns.RequestResponse:
			s.appendTranscript("caller", c.CallerText)
			if s.model == nil {
				s.pendingCreate = true
				break
			}
			if err := s.model.CreateResponse(); err != nil {
				s.logger.Warn("create response", "err", err)
			}

		case turns.ArmTimer:
			token := c.Token
			kind := c.Kind
			s.timers[token] = time.AfterFunc(c.Duration, func() {
				s.send(timerEvent{kind: kind, token: token})
			})

		case turns.CancelTimer:
			if t, ok := s.timers[c.Token]; ok {
				t.Stop()
				delete(s.timers, c.Token)
			}
		}
	}
}

// speakText starts a synthesis stream for the given text. id is the
// model response the audio belongs to; canned lines use "".
func (s *Session) speakText(id, text string, useFallback bool) {
	s.stopSynthesis()

	syn := s.opts.Synthesizer
	if useFallback && s.opts.Fallback != nil {
		syn = s.opts.Fallback
	}
	s.synthSeq++
	seq := s.synthSeq
	s.synthID = id
	s.synthFallback = useFallback
	s.synthStarted = false

	// Dial and pump off the actor goroutine; chunks come back as
	// events tagged with seq so a cancelled stream's stragglers are
	// recognizably stale.
	go func() {
		stream, err := syn.Synthesize(context.Background(), text)
		if err != nil {
			s.send(synthEnd{seq: seq, err: err})
			return
		}
		if !s.send(synthStarted{seq: seq, stream: stream}) {
			stream.Cancel()
			return
		}
		for {
			chunk, err := stream.Next()
			if err != nil {
				s.send(synthEnd{seq: seq, err: err})
				return
			}
			if !s.send(synthChunk{seq: seq, data: chunk}) {
				stream.Cancel()
				return
			}
		}
	}()
}

// stopSynthesis cancels the in-flight stream, if any. Idempotent.
func (s *Session) stopSynthesis() {
	if s.synthStream != nil {
		s.synthStream.Cancel()
		s.synthStream = nil
	}
	// Bump the sequence so any not-yet-started pump is stale on arrival.
	s.synthSeq++
	s.synthID = ""
}

func (s *Session) onSynthStarted(e synthStarted) {
	if e.seq != s.synthSeq {
		e.stream.Cancel()
		return
	}
	s.synthStream = e.stream
}

func (s *Session) onSynthChunk(e synthChunk) {
	if e.seq != s.synthSeq {
		return
	}
	if !s.synthStarted {
		s.synthStarted = true
		s.exec(s.ctrl.Handle(turns.AudioStarted{ID: s.synthID}))
	}
	s.frames.Append(e.data)
	for _, frame := range s.frames.Drain() {
		if err := s.conn.SendMedia(s.streamSid, frame); err != nil {
			s.logger.Warn("send media", "err", err)
			return
		}
		s.framesOut++
	}
	if !s.audioDelivered {
		s.audioDelivered = true
		s.disarmFallback()
	}
}

func (s *Session) onSynthEnd(e synthEnd) {
	if e.seq != s.synthSeq {
		return
	}
	id := s.synthID
	wasFallback := s.synthFallback
	failed := e.err != nil && !errors.Is(e.err, tts.ErrCancelled) && !errors.Is(e.err, io.EOF)
	if failed {
		s.logger.Warn("synthesis failed", "err", e.err)
	}

	// Flush the sub-frame remainder, padded to a full frame.
	if tail := s.frames.Flush(); len(tail) > 0 {
		if err := s.conn.SendMedia(s.streamSid, tail); err != nil {
			s.logger.Warn("send media", "err", err)
		} else {
			s.framesOut++
			if !s.audioDelivered {
				s.audioDelivered = true
				s.disarmFallback()
			}
		}
	}

	s.synthStream = nil
	s.synthID = ""

	// The controller always learns that synthesis ended, even when it
	// failed or was cancelled; a silent stall is the one outcome the
	// machine cannot recover from.
	s.exec(s.ctrl.Handle(turns.SynthesisDone{ID: id}))

	if failed && !s.audioDelivered {
		s.escalateSilence(wasFallback)
	}
}

// armFallback starts the silence deadline after a response completes.
func (s *Session) armFallback() {
	if s.audioDelivered || s.fallbackTimer != nil {
		return
	}
	s.fallbackTimer = time.AfterFunc(s.opts.FallbackDeadline, func() {
		s.send(fallbackCheck{})
	})
}

func (s *Session) disarmFallback() {
	if s.fallbackTimer != nil {
		s.fallbackTimer.Stop()
		s.fallbackTimer = nil
	}
}

func (s *Session) onFallbackCheck() {
	s.fallbackTimer = nil
	if s.audioDelivered {
		return
	}
	s.logger.Warn("no audio reached carrier before deadline")
	s.escalateSilence(false)
}

// escalateSilence makes sure the caller hears something: first the
// fallback voice, and as a last resort the pre-provisioned carrier
// announcement mark.
func (s *Session) escalateSilence(fallbackAlreadyFailed bool) {
	if !s.fallbackTried && !fallbackAlreadyFailed && s.opts.Fallback != nil {
		s.fallbackTried = true
		s.speakText("", DefaultFallback, true)
		return
	}
	s.logger.Error("fallback voice unavailable, sending carrier announcement")
	if err := s.conn.SendMark(s.streamSid, "tts-unavailable"); err != nil {
		s.logger.Warn("send mark", "err", err)
	}
}

func (s *Session) appendTranscript(role, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.transcript = append(s.transcript, finalize.TranscriptEntry{
		Role: role,
		Text: text,
		At:   time.Now(),
	})
}

// teardown closes everything and finalizes the call exactly once.
func (s *Session) teardown(ctx context.Context) {
	s.stop.Do(func() {
		close(s.done)

		for _, t := range s.timers {
			t.Stop()
		}
		s.disarmFallback()
		if s.synthStream != nil {
			s.synthStream.Cancel()
			s.synthStream = nil
		}
		if s.model != nil {
			s.model.Close()
			s.model = nil
		}
		s.conn.Close(s.closeCode, s.closeReason)

		s.logger.Info("call ended",
			"frames_in", s.framesIn,
			"frames_out", s.framesOut,
			"transcript_entries", len(s.transcript),
			"close_code", s.closeCode)

		if s.opts.Finalizer != nil {
			tenantID, leadID, contactID := s.identity()
			// The pipeline must run even when Run exited on context
			// cancellation; the transcript is already in hand.
			s.opts.Finalizer.Finalize(context.WithoutCancel(ctx), &finalize.Snapshot{
				CallSid:   s.callSid,
				StreamSid: s.streamSid,
				TenantID:  tenantID,
				LeadID:    leadID,
				ContactID: contactID,
				From:      s.from,
				To:        s.to,
				StartedAt: s.startedAt,
				EndedAt:   time.Now(),
				Entries:   s.transcript,
			})
		}
	})
}
