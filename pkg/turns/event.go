package turns

// Event is an input to the controller. Events originate from the carrier
// stream, the model socket, the synthesis stream, and the actor's timers;
// the actor funnels all of them through Controller.Handle in arrival order.
type Event interface {
	eventName() string
}

// CallStarted is fed once when the carrier stream's start event arrives.
type CallStarted struct{}

// ResponseStarted reports that the model began generating a response.
type ResponseStarted struct {
	ID string
}

// ResponseDone reports that the model finished generating a response and
// carries the full assistant text.
type ResponseDone struct {
	ID   string
	Text string
}

// AudioStarted reports that synthesis audio for the given response began
// flowing to the carrier.
type AudioStarted struct {
	ID string
}

// SynthesisDone reports that the synthesis stream for the given response (or
// the canned line, with an empty ID) finished, including by error or
// cancellation. The actor always delivers this event so no state waits on
// audio forever.
type SynthesisDone struct {
	ID string
}

// SpeechStarted is the provider's voice-activity speech-start signal.
type SpeechStarted struct{}

// SpeechStopped is the provider's voice-activity speech-stop signal.
type SpeechStopped struct{}

// InterimTranscript carries a provisional transcription of caller speech.
// Interim text is diagnostic and a fallback for stalled final transcripts;
// it never drives a turn on its own.
type InterimTranscript struct {
	Text string
}

// FinalTranscript carries a provider-confirmed transcription.
type FinalTranscript struct {
	Text string
}

// TimerFired is fed back by the actor when a timer armed via ArmTimer
// elapses. A fire whose token no longer matches the controller's current arm
// is a no-op: the state that armed it has already moved on.
type TimerFired struct {
	Kind  TimerKind
	Token uint64
}

func (CallStarted) eventName() string       { return "call_started" }
func (ResponseStarted) eventName() string   { return "response_started" }
func (ResponseDone) eventName() string      { return "response_done" }
func (AudioStarted) eventName() string      { return "audio_started" }
func (SynthesisDone) eventName() string     { return "synthesis_done" }
func (SpeechStarted) eventName() string     { return "speech_started" }
func (SpeechStopped) eventName() string     { return "speech_stopped" }
func (InterimTranscript) eventName() string { return "interim_transcript" }
func (FinalTranscript) eventName() string   { return "final_transcript" }
func (TimerFired) eventName() string        { return "timer_fired" }
