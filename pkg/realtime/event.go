package realtime

// Client event types (sent to the server).
const (
	EventTypeSessionUpdate          = "session.update"
	EventTypeInputAudioBufferAppend = "input_audio_buffer.append"
	EventTypeInputAudioBufferClear  = "input_audio_buffer.clear"
	EventTypeConversationItemCreate = "conversation.item.create"
	EventTypeResponseCreate         = "response.create"
	EventTypeResponseCancel         = "response.cancel"
)

// Server event types (received from the server).
const (
	EventTypeError = "error"

	EventTypeSessionCreated = "session.created"
	EventTypeSessionUpdated = "session.updated"

	EventTypeSpeechStarted = "input_audio_buffer.speech_started"
	EventTypeSpeechStopped = "input_audio_buffer.speech_stopped"

	EventTypeTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
	EventTypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTypeTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"

	EventTypeResponseCreated   = "response.created"
	EventTypeResponseDone      = "response.done"
	EventTypeResponseCancelled = "response.cancelled"

	EventTypeResponseTextDelta = "response.text.delta"
	EventTypeResponseTextDone  = "response.text.done"
)

// ServerEvent is one event from the model stream. Only the fields relevant
// to Type are populated.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitzero"`

	// Session is set for session.created / session.updated.
	Session *SessionResource `json:"session,omitzero"`

	// Response is set for response.* lifecycle events.
	Response *ResponseResource `json:"response,omitzero"`

	// ResponseID tags delta events with their response.
	ResponseID string `json:"response_id,omitzero"`

	// ItemID is the conversation item for transcription events.
	ItemID string `json:"item_id,omitzero"`

	// Delta is incremental text for *.delta events.
	Delta string `json:"delta,omitzero"`

	// Text is the complete text for response.text.done.
	Text string `json:"text,omitzero"`

	// Transcript is set for transcription.completed.
	Transcript string `json:"transcript,omitzero"`

	// AudioStartMs / AudioEndMs accompany speech detection events.
	AudioStartMs int `json:"audio_start_ms,omitzero"`
	AudioEndMs   int `json:"audio_end_ms,omitzero"`

	// Err is set for error events.
	Err *EventError `json:"error,omitzero"`
}
