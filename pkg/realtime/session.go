package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Session is an established duplex model connection.
type Session struct {
	conn   *websocket.Conn
	config *SessionConfig

	sessionID string
	closeCh   chan struct{}
	eventsCh  chan eventOrError
	closeOnce sync.Once
	mu        sync.Mutex
}

type eventOrError struct {
	event *ServerEvent
	err   error
}

func newSession(conn *websocket.Conn, config *SessionConfig) *Session {
	return &Session{
		conn:     conn,
		config:   config,
		closeCh:  make(chan struct{}),
		eventsCh: make(chan eventOrError, 100),
	}
}

func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// UpdateSession pushes the session configuration to the server.
func (s *Session) UpdateSession(config *SessionConfig) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeSessionUpdate,
		"session":  config,
	})
}

// AppendAudio appends raw mu-law caller audio to the input buffer. The
// audio is base64-encoded on the wire.
func (s *Session) AppendAudio(audio []byte) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferAppend,
		"audio":    base64.StdEncoding.EncodeToString(audio),
	})
}

// ClearInput clears the input audio buffer without creating a message.
func (s *Session) ClearInput() error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeInputAudioBufferClear,
	})
}

// AddUserMessage adds a caller text message to the conversation. Used when
// an accepted utterance came from the transcript rather than a committed
// audio turn.
func (s *Session) AddUserMessage(text string) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// AddAssistantMessage records assistant text in the conversation history,
// keeping the model's context aligned with what was actually spoken (canned
// fallback and reprompt lines included).
func (s *Session) AddAssistantMessage(text string) error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeConversationItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "assistant",
			"content": []map[string]any{
				{"type": "text", "text": text},
			},
		},
	})
}

// CreateResponse asks the model to generate a text response.
func (s *Session) CreateResponse() error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeResponseCreate,
		"response": map[string]any{
			"modalities": []string{"text"},
		},
	})
}

// CancelResponse cancels the in-flight response. Safe to call when no
// response is active; the server answers with a benign error event that the
// reader surfaces as a normal event, not a failure.
func (s *Session) CancelResponse() error {
	return s.sendEvent(map[string]any{
		"event_id": generateEventID(),
		"type":     EventTypeResponseCancel,
	})
}

// Events returns an iterator over server events. Iteration ends when the
// session closes; a read error is yielded once and then iteration stops.
func (s *Session) Events() iter.Seq2[*ServerEvent, error] {
	return func(yield func(*ServerEvent, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.eventsCh:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

// SessionID returns the server-assigned session ID, or "" before
// session.created has been received.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Close closes the session. Safe to call multiple times.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) sendEvent(event map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}

func (s *Session) readLoop() {
	defer close(s.eventsCh)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
			case s.eventsCh <- eventOrError{err: fmt.Errorf("realtime: read: %w", err)}:
			}
			return
		}

		var event ServerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			select {
			case <-s.closeCh:
				return
			case s.eventsCh <- eventOrError{err: fmt.Errorf("realtime: decode event: %w", err)}:
			}
			continue
		}

		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.Debug("model event", "type", event.Type, "len", len(message))
		}

		if event.Type == EventTypeSessionCreated && event.Session != nil {
			s.mu.Lock()
			s.sessionID = event.Session.ID
			s.mu.Unlock()
		}

		select {
		case <-s.closeCh:
			return
		case s.eventsCh <- eventOrError{event: &event}:
		}
	}
}
