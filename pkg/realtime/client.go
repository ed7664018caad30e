// Package realtime is a websocket client for the conversational model's
// duplex event stream.
//
// The bridge feeds caller audio up and receives four families of server
// events back: session lifecycle, response lifecycle (created, text delta,
// done, cancelled), speech detection (started/stopped), and input audio
// transcription (interim deltas and provider-confirmed finals). Responses
// are requested explicitly by the turn controller; server-side auto-response
// is disabled so the controller keeps sole ownership of turn-taking.
package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// DefaultURL is the default websocket endpoint.
const DefaultURL = "wss://api.openai.com/v1/realtime"

// DefaultModel is used when SessionConfig.Model is empty.
const DefaultModel = "gpt-4o-realtime-preview"

// Client dials model sessions.
type Client struct {
	apiKey     string
	url        string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithURL overrides the websocket endpoint.
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithHTTPClient sets the HTTP client whose timeout bounds the handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Client. The API key is required.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("realtime: API key is required")
	}
	c := &Client{
		apiKey:     apiKey,
		url:        DefaultURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Connect establishes a model session and starts its background reader.
// The returned session must be closed by the caller.
func (c *Client) Connect(ctx context.Context, config *SessionConfig) (*Session, error) {
	if config == nil {
		config = &SessionConfig{}
	}
	model := config.Model
	if model == "" {
		model = DefaultModel
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.apiKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.httpClient.Timeout,
	}
	url := fmt.Sprintf("%s?model=%s", c.url, model)
	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: connect: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	s := newSession(conn, config)
	go s.readLoop()

	if err := s.UpdateSession(config); err != nil {
		s.Close()
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}
	return s, nil
}
