package turns

import "time"

// Thresholds collects every timing and acceptance tunable of the turn
// machine. The observed production values are defaults only; deployments
// adjust them through configuration.
type Thresholds struct {
	// EchoGuard is how long after synthesis audio starts that detected
	// "speech" is assumed to be line echo of the assistant's own voice.
	EchoGuard time.Duration

	// BargeInCooldown is the minimum time between accepted barge-ins.
	BargeInCooldown time.Duration

	// BargeInSustain is how long caller speech must stay continuously
	// active before an interruption is confirmed as real.
	BargeInSustain time.Duration

	// PostSpeechDeadzone suppresses false barge-ins from trailing echo
	// after synthesis ends.
	PostSpeechDeadzone time.Duration

	// NoInputIdle is the no-input timeout when the assistant's last
	// utterance was not a question.
	NoInputIdle time.Duration

	// NoInputAfterQuestion is the longer no-input timeout after a question,
	// when the caller is expected to be formulating an answer.
	NoInputAfterQuestion time.Duration

	// EndDebounce protects against micro-pauses mid-sentence.
	EndDebounce time.Duration

	// FinalizeWait is the short wait for a provider-confirmed final
	// transcript after the debounce.
	FinalizeWait time.Duration

	// TranscriptWait is the longer secondary wait that accounts for
	// asynchronous transcription lag.
	TranscriptWait time.Duration

	// NoiseMaxDuration: accumulated speech at or below this is treated as
	// noise and discarded silently.
	NoiseMaxDuration time.Duration

	// SubstantialDuration: accumulated speech at or above this with no
	// transcript at all earns the "not captured" reprompt rather than the
	// "say again" one.
	SubstantialDuration time.Duration

	// MinSpeechForAccept: speech at or above this duration is accepted as
	// long as any non-empty transcript exists.
	MinSpeechForAccept time.Duration

	// MinTranscriptChars and MinTranscriptWords: an utterance clearing
	// either is accepted on text alone.
	MinTranscriptChars int
	MinTranscriptWords int

	// TrivialMaxChars: rejected transcripts at or below this trimmed length
	// are discarded silently instead of reprompted.
	TrivialMaxChars int

	// InterimMinChars: an interim transcript of at least this trimmed
	// length counts as substantial enough to validate when no final
	// transcript arrives in time.
	InterimMinChars int

	// RescueMinWords: a final transcript of at least this many words
	// arriving while the assistant holds the floor forces a barge-in and is
	// validated directly (missed speech-event rescue).
	RescueMinWords int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EchoGuard:            300 * time.Millisecond,
		BargeInCooldown:      2 * time.Second,
		BargeInSustain:       350 * time.Millisecond,
		PostSpeechDeadzone:   400 * time.Millisecond,
		NoInputIdle:          6 * time.Second,
		NoInputAfterQuestion: 10 * time.Second,
		EndDebounce:          250 * time.Millisecond,
		FinalizeWait:         700 * time.Millisecond,
		TranscriptWait:       2500 * time.Millisecond,
		NoiseMaxDuration:     300 * time.Millisecond,
		SubstantialDuration:  1500 * time.Millisecond,
		MinSpeechForAccept:   2 * time.Second,
		MinTranscriptChars:   6,
		MinTranscriptWords:   2,
		TrivialMaxChars:      2,
		InterimMinChars:      3,
		RescueMinWords:       4,
	}
}
