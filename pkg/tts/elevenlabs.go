package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	// OutputFormatULaw8000 is the only format a carrier media stream
	// accepts, so both synthesizers request it unconditionally.
	OutputFormatULaw8000 = "ulaw_8000"

	defaultElevenLabsHost  = "api.elevenlabs.io"
	defaultElevenLabsModel = "eleven_turbo_v2_5"
)

// ElevenLabsSynthesizer synthesizes speech over the ElevenLabs
// stream-input websocket. Each Synthesize call opens its own socket so
// that cancelling one synthesis never disturbs another.
type ElevenLabsSynthesizer struct {
	apiKey  string
	voiceID string
	model   string
	host    string
	dialer  *websocket.Dialer
}

var _ Synthesizer = (*ElevenLabsSynthesizer)(nil)

// ElevenLabsOption is an option for configuring an ElevenLabs synthesizer.
type ElevenLabsOption func(*ElevenLabsSynthesizer)

// WithElevenLabsModel sets the synthesis model.
func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(s *ElevenLabsSynthesizer) {
		s.model = model
	}
}

// WithElevenLabsHost sets the API host.
func WithElevenLabsHost(host string) ElevenLabsOption {
	return func(s *ElevenLabsSynthesizer) {
		s.host = host
	}
}

// WithElevenLabsDialer sets the websocket dialer.
func WithElevenLabsDialer(dialer *websocket.Dialer) ElevenLabsOption {
	return func(s *ElevenLabsSynthesizer) {
		s.dialer = dialer
	}
}

// NewElevenLabsSynthesizer creates a streaming ElevenLabs synthesizer
// for the given voice.
func NewElevenLabsSynthesizer(apiKey, voiceID string, opts ...ElevenLabsOption) (*ElevenLabsSynthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tts: elevenlabs api key is required")
	}
	if voiceID == "" {
		return nil, fmt.Errorf("tts: elevenlabs voice id is required")
	}
	s := &ElevenLabsSynthesizer{
		apiKey:  apiKey,
		voiceID: voiceID,
		model:   defaultElevenLabsModel,
		host:    defaultElevenLabsHost,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type elevenLabsInput struct {
	Text                 string              `json:"text"`
	VoiceSettings        *elevenVoiceSetting `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool                `json:"try_trigger_generation,omitempty"`
}

type elevenVoiceSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsOutput struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize opens a stream-input socket, sends the text, and returns a
// stream of mu-law chunks as the service produces them.
func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (Stream, error) {
	u := url.URL{
		Scheme: "wss",
		Host:   s.host,
		Path:   fmt.Sprintf("/v1/text-to-speech/%s/stream-input", s.voiceID),
		RawQuery: url.Values{
			"model_id":      {s.model},
			"output_format": {OutputFormatULaw8000},
		}.Encode(),
	}
	if strings.HasPrefix(s.host, "ws://") || strings.HasPrefix(s.host, "wss://") {
		// Host override that carries its own scheme, used by tests.
		parsed, err := url.Parse(s.host)
		if err != nil {
			return nil, fmt.Errorf("tts: parse host: %w", err)
		}
		u.Scheme = parsed.Scheme
		u.Host = parsed.Host
	}

	header := http.Header{}
	header.Set("xi-api-key", s.apiKey)

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("tts: dial elevenlabs: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("tts: dial elevenlabs: %w", err)
	}

	// The protocol wants a leading space to open the context, the text
	// itself, and an empty message to flush and end the input.
	msgs := []elevenLabsInput{
		{Text: " ", VoiceSettings: &elevenVoiceSetting{Stability: 0.5, SimilarityBoost: 0.75}},
		{Text: text, TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, msg := range msgs {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tts: send text: %w", err)
		}
	}

	st := newSocketStream(conn)
	go st.readLoop()
	return st, nil
}

// socketStream adapts a stream-input websocket into a Stream.
type socketStream struct {
	conn       *websocket.Conn
	chunks     chan []byte
	err        error
	mu         sync.Mutex
	cancelOnce sync.Once
	cancelled  bool
}

func newSocketStream(conn *websocket.Conn) *socketStream {
	return &socketStream{
		conn:   conn,
		chunks: make(chan []byte, 64),
	}
}

func (st *socketStream) readLoop() {
	defer close(st.chunks)
	defer st.conn.Close()
	for {
		_, data, err := st.conn.ReadMessage()
		if err != nil {
			st.setErr(err)
			return
		}
		var out elevenLabsOutput
		if err := json.Unmarshal(data, &out); err != nil {
			st.setErr(fmt.Errorf("tts: decode message: %w", err))
			return
		}
		if out.Error != "" {
			st.setErr(fmt.Errorf("tts: elevenlabs: %s: %s", out.Error, out.Message))
			return
		}
		if out.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(out.Audio)
			if err != nil {
				st.setErr(fmt.Errorf("tts: decode audio: %w", err))
				return
			}
			st.chunks <- audio
		}
		if out.IsFinal {
			return
		}
	}
}

func (st *socketStream) setErr(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.err == nil && !st.cancelled {
		st.err = err
	}
}

// Next returns the next audio chunk, io.EOF when the synthesis is
// complete, or ErrCancelled after Cancel.
func (st *socketStream) Next() ([]byte, error) {
	chunk, ok := <-st.chunks
	if ok {
		return chunk, nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.cancelled {
		return nil, ErrCancelled
	}
	if st.err != nil {
		return nil, st.err
	}
	return nil, io.EOF
}

// Cancel closes the socket, which unblocks the read loop and drains
// pending Next callers.
func (st *socketStream) Cancel() {
	st.cancelOnce.Do(func() {
		st.mu.Lock()
		st.cancelled = true
		st.mu.Unlock()
		st.conn.Close()
	})
}

// OneShotSynthesizer synthesizes a whole utterance in a single HTTP
// request. It trades the first-chunk latency of the streaming path for
// not needing a healthy websocket, which is what the fallback voice
// wants when the streaming service is misbehaving.
type OneShotSynthesizer struct {
	apiKey     string
	voiceID    string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ Synthesizer = (*OneShotSynthesizer)(nil)

// OneShotOption is an option for configuring a one-shot synthesizer.
type OneShotOption func(*OneShotSynthesizer)

// WithOneShotModel sets the synthesis model.
func WithOneShotModel(model string) OneShotOption {
	return func(s *OneShotSynthesizer) {
		s.model = model
	}
}

// WithOneShotBaseURL sets the API base URL.
func WithOneShotBaseURL(baseURL string) OneShotOption {
	return func(s *OneShotSynthesizer) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithOneShotHTTPClient sets the HTTP client.
func WithOneShotHTTPClient(client *http.Client) OneShotOption {
	return func(s *OneShotSynthesizer) {
		s.httpClient = client
	}
}

// NewOneShotSynthesizer creates a one-shot ElevenLabs synthesizer for
// the given voice.
func NewOneShotSynthesizer(apiKey, voiceID string, opts ...OneShotOption) (*OneShotSynthesizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("tts: elevenlabs api key is required")
	}
	if voiceID == "" {
		return nil, fmt.Errorf("tts: elevenlabs voice id is required")
	}
	s := &OneShotSynthesizer{
		apiKey:     apiKey,
		voiceID:    voiceID,
		model:      defaultElevenLabsModel,
		baseURL:    "https://" + defaultElevenLabsHost,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type oneShotRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings *elevenVoiceSetting `json:"voice_settings,omitempty"`
}

// Synthesize fetches the whole utterance and returns it as a
// single-chunk stream.
func (s *OneShotSynthesizer) Synthesize(ctx context.Context, text string) (Stream, error) {
	body, err := json.Marshal(oneShotRequest{
		Text:          text,
		ModelID:       s.model,
		VoiceSettings: &elevenVoiceSetting{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, fmt.Errorf("tts: marshal request: %w", err)
	}

	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", s.baseURL, s.voiceID, OutputFormatULaw8000)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tts: create request: %w", err)
	}
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts: elevenlabs status %d: %s", resp.StatusCode, truncate(data, 200))
	}
	return NewBufferStream(data), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
