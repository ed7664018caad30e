// Package carrier implements the wire protocol of the telephony media
// stream: a duplex websocket carrying JSON events with base64 mu-law audio.
//
// Inbound events are "start" (call and stream identifiers, custom
// parameters), "media" (20ms audio payloads), "mark" (playback
// acknowledgements) and "stop". Outbound events are "media", "clear"
// (discard audio the carrier has buffered but not yet played) and "mark".
//
// Exit and error conditions are signaled by closing the websocket with one
// of the Close* codes below; there is no request/response surface.
package carrier

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Close codes sent when the bridge terminates the stream.
const (
	// CloseNormal: call completed normally.
	CloseNormal = websocket.CloseNormalClosure

	// CloseConfigMissing: required provider configuration absent at session
	// start. The call cannot be served at all.
	CloseConfigMissing = 4000

	// CloseUpstreamLost: the model connection was lost and reconnection
	// attempts were exhausted.
	CloseUpstreamLost = 4001
)

// Event names on the wire.
const (
	EventStart = "start"
	EventMedia = "media"
	EventStop  = "stop"
	EventMark  = "mark"
	EventClear = "clear"
)

// Message is a single carrier stream event, inbound or outbound.
// Only the section matching Event is populated.
type Message struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *MediaInfo `json:"media,omitempty"`
	Mark      *MarkInfo  `json:"mark,omitempty"`
	Stop      *StopInfo  `json:"stop,omitempty"`
}

// StartInfo carries the parameters of the "start" event. It is the sole
// source of call and stream identifiers for a session.
type StartInfo struct {
	CallSid   string `json:"callSid"`
	StreamSid string `json:"streamSid"`
	// CustomParameters carries values resolved by the webhook acceptance
	// collaborator: caller/callee numbers and the tenant identifier.
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaInfo carries one audio frame, base64-encoded mu-law.
type MediaInfo struct {
	Payload string `json:"payload"`
}

// MarkInfo names a playback position marker.
type MarkInfo struct {
	Name string `json:"name"`
}

// StopInfo carries the parameters of the "stop" event.
type StopInfo struct {
	CallSid string `json:"callSid"`
}

// DecodePayload returns the raw mu-law bytes of a media event.
func (m *MediaInfo) DecodePayload() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("carrier: decode media payload: %w", err)
	}
	return b, nil
}

// Conn wraps a carrier websocket with typed reads and serialized writes.
// Reads must stay on a single goroutine; writes may come from several.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex

	closeOnce sync.Once
}

// NewConn wraps an upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Read returns the next event from the carrier.
func (c *Conn) Read() (*Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("carrier: decode event: %w", err)
	}
	return &msg, nil
}

// SendMedia sends one audio frame to the carrier.
func (c *Conn) SendMedia(streamSid string, frame []byte) error {
	return c.write(&Message{
		Event:     EventMedia,
		StreamSid: streamSid,
		Media:     &MediaInfo{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// SendClear tells the carrier to discard any audio it has buffered but not
// yet played. Safe to send when nothing is buffered.
func (c *Conn) SendClear(streamSid string) error {
	return c.write(&Message{Event: EventClear, StreamSid: streamSid})
}

// SendMark sends a named playback marker. The pre-provisioned static
// announcement is requested this way as a last-resort fallback.
func (c *Conn) SendMark(streamSid, name string) error {
	return c.write(&Message{
		Event:     EventMark,
		StreamSid: streamSid,
		Mark:      &MarkInfo{Name: name},
	})
}

func (c *Conn) write(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("carrier: encode event: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame with the given code and closes the socket.
// Safe to call multiple times; only the first close frame is sent.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		frame := websocket.FormatCloseMessage(code, reason)
		c.mu.Lock()
		c.ws.WriteMessage(websocket.CloseMessage, frame)
		c.mu.Unlock()
		err = c.ws.Close()
	})
	return err
}
