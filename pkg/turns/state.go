// Package turns implements the turn-taking state machine that decides who
// holds the floor on a live call: the caller or the assistant.
//
// The Controller performs no I/O. It consumes events, consults a clock, and
// returns side-effect commands (speak, stop synthesis, cancel a model
// response, clear carrier audio, arm a timer) that the session actor executes
// against real sockets. Timers are owned by the actor too: the controller
// only emits ArmTimer/CancelTimer and receives TimerFired back, which keeps
// every decision synchronously testable with a virtual clock.
package turns

import "encoding/json"

// State is the floor-holding state of a call.
type State int

const (
	StateInit State = iota
	StateIdle
	StateAssistantPlanning
	StateAssistantSpeaking
	StatePostSpeechDeadzone
	StateWaitingForCallerStart
	StateCallerSpeaking
	StateCallerEndDebounce
	StateCallerFinalizing
	StateCallerValidating
	StateWaitingForFinalTranscript
	StateNoInputReprompt
	StateShortUtteranceReprompt
	StateTranscriptMissingReprompt
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateIdle:
		return "idle"
	case StateAssistantPlanning:
		return "assistant_planning"
	case StateAssistantSpeaking:
		return "assistant_speaking"
	case StatePostSpeechDeadzone:
		return "post_speech_deadzone"
	case StateWaitingForCallerStart:
		return "waiting_for_caller_start"
	case StateCallerSpeaking:
		return "caller_speaking"
	case StateCallerEndDebounce:
		return "caller_end_debounce"
	case StateCallerFinalizing:
		return "caller_finalizing"
	case StateCallerValidating:
		return "caller_validating"
	case StateWaitingForFinalTranscript:
		return "waiting_for_final_transcript"
	case StateNoInputReprompt:
		return "no_input_reprompt"
	case StateShortUtteranceReprompt:
		return "short_utterance_reprompt"
	case StateTranscriptMissingReprompt:
		return "transcript_missing_reprompt"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// isReprompt reports whether s is one of the reprompt states, all of which
// speak a canned line and then return to waiting.
func (s State) isReprompt() bool {
	switch s {
	case StateNoInputReprompt, StateShortUtteranceReprompt, StateTranscriptMissingReprompt:
		return true
	}
	return false
}
