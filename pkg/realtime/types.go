package realtime

// Audio format identifiers accepted by the session configuration. The bridge
// runs everything as 8kHz G.711 mu-law so caller audio passes straight
// through without transcoding.
const (
	AudioFormatULaw  = "g711_ulaw"
	AudioFormatPCM16 = "pcm16"
)

// SessionConfig describes the desired session. Zero values leave the
// server-side default in place.
type SessionConfig struct {
	// Model selects the model; defaults to DefaultModel.
	Model string `json:"-"`

	// Modalities of generated responses. The bridge uses ["text"]: assistant
	// audio is produced by its own synthesis providers, not the model.
	Modalities []string `json:"modalities,omitzero"`

	// Instructions is the system prompt.
	Instructions string `json:"instructions,omitzero"`

	// InputAudioFormat of appended caller audio.
	InputAudioFormat string `json:"input_audio_format,omitzero"`

	// InputAudioTranscription enables caller-audio transcription.
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitzero"`

	// TurnDetection configures server-side voice activity detection.
	TurnDetection *TurnDetection `json:"turn_detection,omitzero"`

	// Temperature for response generation.
	Temperature float64 `json:"temperature,omitzero"`
}

// TranscriptionConfig selects the transcription model for caller audio.
type TranscriptionConfig struct {
	Model string `json:"model,omitzero"`
}

// TurnDetection configures voice activity detection. The bridge keeps VAD on
// for speech started/stopped events but disables the server's automatic
// response creation and interruption: the turn controller owns both.
type TurnDetection struct {
	Type              string  `json:"type,omitzero"`
	Threshold         float64 `json:"threshold,omitzero"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitzero"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitzero"`
	CreateResponse    *bool   `json:"create_response,omitzero"`
	InterruptResponse *bool   `json:"interrupt_response,omitzero"`
}

// ServerVAD returns the turn-detection block the bridge uses: server VAD
// with auto-response and auto-interrupt turned off.
func ServerVAD(silenceMs int) *TurnDetection {
	off := false
	return &TurnDetection{
		Type:              "server_vad",
		SilenceDurationMs: silenceMs,
		CreateResponse:    &off,
		InterruptResponse: &off,
	}
}

// SessionResource is the server's view of the session.
type SessionResource struct {
	ID                string `json:"id,omitzero"`
	Model             string `json:"model,omitzero"`
	ExpiresAt         int64  `json:"expires_at,omitzero"`
	InputAudioFormat  string `json:"input_audio_format,omitzero"`
	OutputAudioFormat string `json:"output_audio_format,omitzero"`
}

// ResponseResource identifies a response and its terminal status.
type ResponseResource struct {
	ID     string `json:"id,omitzero"`
	Status string `json:"status,omitzero"`
}

// EventError is the error payload of an "error" event.
type EventError struct {
	Type    string `json:"type,omitzero"`
	Code    string `json:"code,omitzero"`
	Message string `json:"message,omitzero"`
	EventID string `json:"event_id,omitzero"`
}

// Error implements the error interface.
func (e *EventError) Error() string {
	if e.Code != "" {
		return "realtime: " + e.Code + ": " + e.Message
	}
	return "realtime: " + e.Message
}
