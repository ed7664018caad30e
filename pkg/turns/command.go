package turns

import "time"

// Command is a side-effect request returned by the controller for the
// session actor to execute. Commands are executed in slice order.
type Command interface {
	commandName() string
}

// TimerKind names the timer categories the controller arms. At most one
// timer is armed at any moment; entering a state cancels any timer that does
// not apply to it.
type TimerKind int

const (
	TimerNoInput TimerKind = iota
	TimerEndDebounce
	TimerFinalizeWait
	TimerTranscriptWait
	TimerDeadzone
	TimerBargeInConfirm
)

// String returns the string representation of the timer kind.
func (k TimerKind) String() string {
	switch k {
	case TimerNoInput:
		return "no_input"
	case TimerEndDebounce:
		return "end_debounce"
	case TimerFinalizeWait:
		return "finalize_wait"
	case TimerTranscriptWait:
		return "transcript_wait"
	case TimerDeadzone:
		return "deadzone"
	case TimerBargeInConfirm:
		return "barge_in_confirm"
	default:
		return "unknown"
	}
}

// LineKind selects one of the canned lines the bridge can speak without
// involving the model. Wording lives in configuration, not here.
type LineKind int

const (
	// LineCheckIn is the neutral no-input check-in. It never apologizes for
	// "not hearing" anything, because nothing was said.
	LineCheckIn LineKind = iota

	// LineSayAgain asks the caller to repeat a short utterance.
	LineSayAgain

	// LineNotCaptured acknowledges the caller said something that was not
	// captured. Distinct wording from LineSayAgain.
	LineNotCaptured
)

// String returns the string representation of the line kind.
func (k LineKind) String() string {
	switch k {
	case LineCheckIn:
		return "check_in"
	case LineSayAgain:
		return "say_again"
	case LineNotCaptured:
		return "not_captured"
	default:
		return "unknown"
	}
}

// Speak requests that the bridge synthesize and play a canned line.
type Speak struct {
	Line LineKind
}

// StopSynthesis requests cancellation of the active synthesis stream.
// Idempotent: safe when nothing is being synthesized.
type StopSynthesis struct{}

// CancelResponse requests cancellation of the in-flight model response.
// An empty ID cancels whatever response is pending. Idempotent.
type CancelResponse struct {
	ID string
}

// ClearAudio requests that audio already buffered on the carrier side be
// discarded. Idempotent.
type ClearAudio struct{}

// RequestResponse hands an accepted caller utterance to the model and
// requests an assistant response.
type RequestResponse struct {
	CallerText string
}

// ArmTimer schedules a timer. The actor must deliver TimerFired with the
// same kind and token when it elapses.
type ArmTimer struct {
	Kind     TimerKind
	Duration time.Duration
	Token    uint64
}

// CancelTimer releases a previously armed timer. Firing it anyway is
// harmless: the token is stale.
type CancelTimer struct {
	Token uint64
}

func (Speak) commandName() string           { return "speak" }
func (StopSynthesis) commandName() string   { return "stop_synthesis" }
func (CancelResponse) commandName() string  { return "cancel_response" }
func (ClearAudio) commandName() string      { return "clear_audio" }
func (RequestResponse) commandName() string { return "request_response" }
func (ArmTimer) commandName() string        { return "arm_timer" }
func (CancelTimer) commandName() string     { return "cancel_timer" }
