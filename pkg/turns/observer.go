package turns

import "time"

// Transition records one state change and its triggering reason. This is the
// primary debugging surface of the machine: there is no deterministic
// replay, only this record.
type Transition struct {
	From   State
	To     State
	Event  string
	Reason string
}

// BargeInDecision records every accept/reject decision about a caller
// interruption, with the measurements that produced it.
type BargeInDecision struct {
	Accepted         bool
	Reason           string
	SinceAudioStart  time.Duration
	SinceLastBargeIn time.Duration
	SpeechFor        time.Duration
}

// Observer receives typed transition and barge-in records. Tests assert on
// these directly instead of parsing log text; the bridge installs an
// slog-backed implementation.
type Observer interface {
	OnTransition(Transition)
	OnBargeIn(BargeInDecision)
}

// nopObserver is used when no observer is configured.
type nopObserver struct{}

func (nopObserver) OnTransition(Transition)   {}
func (nopObserver) OnBargeIn(BargeInDecision) {}
