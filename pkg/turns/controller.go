package turns

import (
	"strings"
	"time"
	"unicode"
)

// Clock supplies the current time. The session actor uses the system clock;
// tests substitute a virtual one.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// Controller is the turn-taking decision engine for one call. It is not safe
// for concurrent use: the owning session actor serializes all events.
type Controller struct {
	cfg   Thresholds
	clock Clock
	obs   Observer

	state State

	// timer bookkeeping: at most one armed at a time
	armedKind  TimerKind
	armedToken uint64
	armed      bool
	nextToken  uint64

	// assistant turn
	activeResponseID string
	lastAssistant    string
	lastWasQuestion  bool
	wantsPhoneNumber bool
	audioStartAt     time.Time
	lastBargeInAt    time.Time
	pendingBargeIn   bool
	bargeSpeechAt    time.Time

	// caller turn
	speechActive    bool
	speechStartAt   time.Time
	speechDur       time.Duration
	deadzoneSpeech  bool
	deadzoneStartAt time.Time
	interim         string
	final           string
}

// New creates a Controller in StateInit. A nil clock selects the system
// clock; a nil observer discards observations.
func New(cfg Thresholds, clock Clock, obs Observer) *Controller {
	if clock == nil {
		clock = systemClock{}
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Controller{cfg: cfg, clock: clock, obs: obs, state: StateInit}
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// ActiveResponseID returns the identifier of the response currently allowed
// to produce audio, or "" when none is.
func (c *Controller) ActiveResponseID() string {
	return c.activeResponseID
}

// Handle dispatches one event and returns the side effects to execute.
func (c *Controller) Handle(ev Event) []Command {
	switch e := ev.(type) {
	case CallStarted:
		return c.onCallStarted(e)
	case ResponseStarted:
		return c.onResponseStarted(e)
	case ResponseDone:
		return c.onResponseDone(e)
	case AudioStarted:
		return c.onAudioStarted(e)
	case SynthesisDone:
		return c.onSynthesisDone(e)
	case SpeechStarted:
		return c.onSpeechStarted(e)
	case SpeechStopped:
		return c.onSpeechStopped(e)
	case InterimTranscript:
		return c.onInterim(e)
	case FinalTranscript:
		return c.onFinal(e)
	case TimerFired:
		return c.onTimerFired(e)
	}
	return nil
}

func (c *Controller) onCallStarted(ev CallStarted) []Command {
	if c.state != StateInit {
		return nil
	}
	c.transition(StateIdle, ev, "call started")
	return nil
}

func (c *Controller) onResponseStarted(ev ResponseStarted) []Command {
	switch c.state {
	case StateIdle, StateAssistantPlanning:
		c.activeResponseID = ev.ID
		cmds := c.disarm()
		c.transition(StateAssistantPlanning, ev, "model generating")
		return cmds
	default:
		// The caller took the floor before this response got going; its
		// generation is wasted work.
		return []Command{CancelResponse{ID: ev.ID}}
	}
}

func (c *Controller) onResponseDone(ev ResponseDone) []Command {
	if ev.ID != c.activeResponseID {
		return nil // squelched
	}
	if c.state != StateAssistantPlanning {
		return nil
	}
	c.lastAssistant = ev.Text
	trimmed := strings.TrimSpace(ev.Text)
	c.lastWasQuestion = strings.HasSuffix(trimmed, "?")
	c.wantsPhoneNumber = detectPhoneRequest(trimmed)
	return nil
}

func (c *Controller) onAudioStarted(ev AudioStarted) []Command {
	if ev.ID != c.activeResponseID || c.state != StateAssistantPlanning {
		return nil
	}
	c.audioStartAt = c.clock.Now()
	c.pendingBargeIn = false
	c.transition(StateAssistantSpeaking, ev, "synthesis audio flowing")
	return nil
}

func (c *Controller) onSynthesisDone(ev SynthesisDone) []Command {
	if c.state.isReprompt() {
		return c.enterWaiting(ev, "reprompt spoken")
	}
	if c.state == StateIdle && ev.ID == "" {
		// A canned line (the greeting) finished with no model turn in
		// flight; wait for the caller.
		return c.enterWaiting(ev, "canned line spoken")
	}
	if c.state == StateAssistantPlanning {
		// Synthesis ended before any audio reached the carrier: the primary
		// voice failed, or a fallback line (empty ID) just finished. Either
		// way the assistant turn is over; parking here would leave the call
		// silent with no timer armed.
		if ev.ID == c.activeResponseID || ev.ID == "" {
			c.activeResponseID = ""
			return c.enterWaiting(ev, "synthesis ended without audio")
		}
		return nil
	}
	if ev.ID != c.activeResponseID {
		return nil
	}
	if c.state != StateAssistantSpeaking {
		return nil
	}
	c.transition(StatePostSpeechDeadzone, ev, "synthesis complete")
	return c.arm(TimerDeadzone, c.cfg.PostSpeechDeadzone)
}

func (c *Controller) onSpeechStarted(ev SpeechStarted) []Command {
	now := c.clock.Now()
	switch c.state {
	case StateIdle:
		// A canned line may still be playing here (the greeting runs with no
		// active response); stopping synthesis and clearing queued audio is
		// harmless when nothing is in flight.
		cmds := []Command{CancelResponse{ID: c.activeResponseID}, StopSynthesis{}, ClearAudio{}}
		c.activeResponseID = ""
		c.beginCallerTurn(now)
		c.transition(StateCallerSpeaking, ev, "caller spoke before response started")
		return cmds

	case StateAssistantPlanning:
		// Nothing has reached the carrier yet: nothing to barge into, but
		// the in-flight generation must stop.
		cmds := []Command{CancelResponse{ID: c.activeResponseID}, StopSynthesis{}}
		c.activeResponseID = ""
		c.beginCallerTurn(now)
		c.transition(StateCallerSpeaking, ev, "caller preempted planning")
		return cmds

	case StateAssistantSpeaking:
		c.speechActive = true
		sinceAudio := now.Sub(c.audioStartAt)
		if sinceAudio < c.cfg.EchoGuard {
			c.obs.OnBargeIn(BargeInDecision{
				Reason:          "echo guard",
				SinceAudioStart: sinceAudio,
			})
			return nil
		}
		if !c.lastBargeInAt.IsZero() {
			if since := now.Sub(c.lastBargeInAt); since < c.cfg.BargeInCooldown {
				c.obs.OnBargeIn(BargeInDecision{
					Reason:           "cooldown",
					SinceAudioStart:  sinceAudio,
					SinceLastBargeIn: since,
				})
				return nil
			}
		}
		c.pendingBargeIn = true
		c.bargeSpeechAt = now
		return c.arm(TimerBargeInConfirm, c.cfg.BargeInSustain)

	case StatePostSpeechDeadzone:
		// Possibly trailing echo of the assistant's own voice; hold until
		// the deadzone elapses.
		c.speechActive = true
		c.deadzoneSpeech = true
		c.deadzoneStartAt = now
		return nil

	case StateWaitingForCallerStart:
		cmds := c.disarm()
		c.beginCallerTurn(now)
		c.transition(StateCallerSpeaking, ev, "caller started")
		return cmds

	case StateCallerEndDebounce:
		cmds := c.disarm()
		c.speechActive = true
		c.speechStartAt = now
		c.transition(StateCallerSpeaking, ev, "speech resumed in debounce")
		return cmds

	case StateCallerFinalizing, StateWaitingForFinalTranscript:
		cmds := c.disarm()
		c.speechActive = true
		c.speechStartAt = now
		c.transition(StateCallerSpeaking, ev, "speech resumed before resolution")
		return cmds

	case StateNoInputReprompt, StateShortUtteranceReprompt, StateTranscriptMissingReprompt:
		// Caller answering over the reprompt line.
		cmds := []Command{StopSynthesis{}, ClearAudio{}}
		c.beginCallerTurn(now)
		c.transition(StateCallerSpeaking, ev, "caller interrupted reprompt")
		return cmds
	}
	return nil
}

func (c *Controller) onSpeechStopped(ev SpeechStopped) []Command {
	now := c.clock.Now()
	wasActive := c.speechActive
	c.speechActive = false

	switch c.state {
	case StateCallerSpeaking:
		if wasActive {
			c.speechDur += now.Sub(c.speechStartAt)
		}
		c.transition(StateCallerEndDebounce, ev, "speech stopped")
		return c.arm(TimerEndDebounce, c.cfg.EndDebounce)

	case StateAssistantSpeaking:
		if c.pendingBargeIn {
			c.pendingBargeIn = false
			c.obs.OnBargeIn(BargeInDecision{
				Reason:          "not sustained",
				SinceAudioStart: now.Sub(c.audioStartAt),
				SpeechFor:       now.Sub(c.bargeSpeechAt),
			})
			return c.disarm()
		}
		return nil

	case StatePostSpeechDeadzone:
		c.deadzoneSpeech = false
		return nil
	}
	return nil
}

func (c *Controller) onInterim(ev InterimTranscript) []Command {
	switch c.state {
	case StateCallerSpeaking, StateCallerEndDebounce, StateCallerFinalizing, StateWaitingForFinalTranscript:
		c.interim = ev.Text
	}
	return nil
}

func (c *Controller) onFinal(ev FinalTranscript) []Command {
	switch c.state {
	case StateCallerFinalizing, StateWaitingForFinalTranscript:
		cmds := c.disarm()
		return append(cmds, c.validate(ev, ev.Text)...)

	case StateCallerSpeaking, StateCallerEndDebounce:
		c.final = ev.Text
		return nil

	case StateAssistantPlanning, StateAssistantSpeaking, StatePostSpeechDeadzone:
		// The speech-start/stop events were missed or mis-timed, but real
		// caller input arrived. Force a barge-in rather than dropping it.
		if wordCount(ev.Text) < c.cfg.RescueMinWords {
			return nil
		}
		cmds := c.disarm()
		cmds = append(cmds, StopSynthesis{}, CancelResponse{ID: c.activeResponseID}, ClearAudio{})
		c.activeResponseID = ""
		c.lastBargeInAt = c.clock.Now()
		c.transition(StateCallerValidating, ev, "transcript rescue")
		return append(cmds, c.resolveValidation(ev, ev.Text)...)

	case StateWaitingForCallerStart:
		if wordCount(ev.Text) < c.cfg.RescueMinWords {
			return nil
		}
		cmds := c.disarm()
		return append(cmds, c.validate(ev, ev.Text)...)
	}
	return nil
}

func (c *Controller) onTimerFired(ev TimerFired) []Command {
	if !c.armed || ev.Token != c.armedToken {
		return nil // stale fire, state already moved on
	}
	c.armed = false

	now := c.clock.Now()
	switch ev.Kind {
	case TimerBargeInConfirm:
		if c.state != StateAssistantSpeaking || !c.pendingBargeIn {
			return nil
		}
		c.pendingBargeIn = false
		c.lastBargeInAt = now
		c.obs.OnBargeIn(BargeInDecision{
			Accepted:         true,
			Reason:           "sustained speech",
			SinceAudioStart:  now.Sub(c.audioStartAt),
			SinceLastBargeIn: 0,
			SpeechFor:        now.Sub(c.bargeSpeechAt),
		})
		cmds := []Command{StopSynthesis{}, CancelResponse{ID: c.activeResponseID}, ClearAudio{}}
		c.activeResponseID = ""
		speechAt := c.bargeSpeechAt
		c.beginCallerTurn(speechAt)
		c.transition(StateCallerSpeaking, ev, "barge-in confirmed")
		return cmds

	case TimerEndDebounce:
		if c.state != StateCallerEndDebounce {
			return nil
		}
		c.transition(StateCallerFinalizing, ev, "debounce elapsed")
		return c.arm(TimerFinalizeWait, c.cfg.FinalizeWait)

	case TimerFinalizeWait:
		if c.state != StateCallerFinalizing {
			return nil
		}
		if c.final != "" {
			return c.validate(ev, c.final)
		}
		if len(strings.TrimSpace(c.interim)) >= c.cfg.InterimMinChars {
			return c.validate(ev, c.interim)
		}
		c.transition(StateWaitingForFinalTranscript, ev, "no transcript yet")
		return c.arm(TimerTranscriptWait, c.cfg.TranscriptWait)

	case TimerTranscriptWait:
		if c.state != StateWaitingForFinalTranscript {
			return nil
		}
		if c.final != "" {
			return c.validate(ev, c.final)
		}
		if c.speechDur <= c.cfg.NoiseMaxDuration {
			// Negligible speech with nothing transcribed: noise. Silence is
			// never an error requiring apology.
			return c.enterWaiting(ev, "noise discarded")
		}
		if strings.TrimSpace(c.interim) != "" {
			return c.validate(ev, c.interim)
		}
		if c.speechDur < c.cfg.SubstantialDuration {
			return c.enterReprompt(StateShortUtteranceReprompt, LineSayAgain, ev, "short speech, no transcript")
		}
		return c.enterReprompt(StateTranscriptMissingReprompt, LineNotCaptured, ev, "substantial speech, no transcript")

	case TimerNoInput:
		if c.state != StateWaitingForCallerStart {
			return nil
		}
		return c.enterReprompt(StateNoInputReprompt, LineCheckIn, ev, "no input")

	case TimerDeadzone:
		if c.state != StatePostSpeechDeadzone {
			return nil
		}
		if c.speechActive && c.deadzoneSpeech {
			speechAt := c.deadzoneStartAt
			c.beginCallerTurn(speechAt)
			c.transition(StateCallerSpeaking, ev, "speech carried through deadzone")
			return nil
		}
		return c.enterWaiting(ev, "assistant turn complete")
	}
	return nil
}

// validate moves through CallerValidating and resolves the utterance.
func (c *Controller) validate(ev Event, text string) []Command {
	c.transition(StateCallerValidating, ev, "validating utterance")
	return c.resolveValidation(ev, text)
}

func (c *Controller) resolveValidation(ev Event, text string) []Command {
	trimmed := strings.TrimSpace(text)
	words := wordCount(trimmed)

	accepted := len(trimmed) >= c.cfg.MinTranscriptChars ||
		words >= c.cfg.MinTranscriptWords ||
		(c.speechDur >= c.cfg.MinSpeechForAccept && trimmed != "")

	// A single word is enough when we asked for a phone number and the
	// caller answered with digits.
	if !accepted && c.wantsPhoneNumber && containsDigit(trimmed) && trimmed != "" {
		accepted = true
	}

	if accepted {
		c.resetCallerTurn()
		c.transition(StateIdle, ev, "utterance accepted")
		return []Command{RequestResponse{CallerText: trimmed}}
	}

	if len(trimmed) <= c.cfg.TrivialMaxChars {
		// Near-empty: discard silently, no reprompt.
		c.resetCallerTurn()
		return c.enterWaiting(ev, "trivial utterance discarded")
	}
	c.resetCallerTurn()
	return c.enterReprompt(StateShortUtteranceReprompt, LineSayAgain, ev, "utterance too short")
}

// enterWaiting transitions to WaitingForCallerStart and arms the no-input
// timer, question-aware.
func (c *Controller) enterWaiting(ev Event, reason string) []Command {
	c.transition(StateWaitingForCallerStart, ev, reason)
	d := c.cfg.NoInputIdle
	if c.lastWasQuestion {
		d = c.cfg.NoInputAfterQuestion
	}
	return c.arm(TimerNoInput, d)
}

// enterReprompt transitions to a reprompt state and requests its line. The
// state is left when the line's SynthesisDone arrives (or the caller starts
// speaking over it).
func (c *Controller) enterReprompt(state State, line LineKind, ev Event, reason string) []Command {
	c.transition(state, ev, reason)
	return []Command{Speak{Line: line}}
}

// beginCallerTurn resets per-turn accumulation and marks speech active as of
// startedAt.
func (c *Controller) beginCallerTurn(startedAt time.Time) {
	c.resetCallerTurn()
	c.speechActive = true
	c.speechStartAt = startedAt
}

func (c *Controller) resetCallerTurn() {
	c.speechActive = false
	c.speechDur = 0
	c.deadzoneSpeech = false
	c.interim = ""
	c.final = ""
}

// arm cancels any armed timer and arms a new one. The returned commands must
// be executed by the actor.
func (c *Controller) arm(kind TimerKind, d time.Duration) []Command {
	cmds := c.disarm()
	c.nextToken++
	c.armed = true
	c.armedKind = kind
	c.armedToken = c.nextToken
	return append(cmds, ArmTimer{Kind: kind, Duration: d, Token: c.armedToken})
}

func (c *Controller) disarm() []Command {
	if !c.armed {
		return nil
	}
	c.armed = false
	return []Command{CancelTimer{Token: c.armedToken}}
}

func (c *Controller) transition(to State, ev Event, reason string) {
	from := c.state
	c.state = to
	c.obs.OnTransition(Transition{From: from, To: to, Event: ev.eventName(), Reason: reason})
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// detectPhoneRequest reports whether assistant text reads as a request for a
// phone number.
func detectPhoneRequest(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "number") {
		return false
	}
	return strings.Contains(lower, "phone") ||
		strings.Contains(lower, "callback") ||
		strings.Contains(lower, "call back") ||
		strings.Contains(lower, "reach")
}
