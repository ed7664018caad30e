package finalize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Extractor turns a call transcript into structured records. It is an
// external collaborator from the pipeline's point of view: the pipeline
// only cares that it either returns an Extraction or fails.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (*Extraction, error)
}

// ExtractFunc is a function that implements the Extractor interface.
type ExtractFunc func(ctx context.Context, transcript string) (*Extraction, error)

// Extract implements the Extractor interface.
func (f ExtractFunc) Extract(ctx context.Context, transcript string) (*Extraction, error) {
	return f(ctx, transcript)
}

const defaultExtractModel = "gpt-4o-mini"

const extractSystemPrompt = `You are an intake analyst for a law firm's phone desk.
Given a call transcript, extract the caller's details into JSON with exactly
this shape:

{
  "contact": {"name": "", "phone": "", "email": ""},
  "lead": {"summary": "", "case_type": ""},
  "intake": {"incident_date": "", "incident_location": "", "description": "", "injuries": ""},
  "qualification": {"qualified": false, "score": 0, "reason": ""}
}

Leave fields you cannot determine as empty strings. Score is 0-10.
Respond with JSON only, no prose.`

// OpenAIExtractor implements Extractor with a chat completion.
type OpenAIExtractor struct {
	client openai.Client
	model  string
}

var _ Extractor = (*OpenAIExtractor)(nil)

// OpenAIExtractorOption is an option for configuring an OpenAIExtractor.
type OpenAIExtractorOption func(*OpenAIExtractor)

// WithExtractModel sets the chat model.
func WithExtractModel(model string) OpenAIExtractorOption {
	return func(e *OpenAIExtractor) {
		e.model = model
	}
}

// NewOpenAIExtractor creates an extractor backed by the OpenAI chat API.
func NewOpenAIExtractor(apiKey string, opts ...OpenAIExtractorOption) (*OpenAIExtractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("finalize: openai api key is required")
	}
	e := &OpenAIExtractor{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultExtractModel,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Extract runs the extraction prompt over the transcript and parses the
// model's JSON reply, repairing it if the model wrapped or truncated it.
func (e *OpenAIExtractor) Extract(ctx context.Context, transcript string) (*Extraction, error) {
	resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractSystemPrompt),
			openai.UserMessage(transcript),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("finalize: extraction chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("finalize: extraction returned no choices")
	}

	var ext Extraction
	if err := unmarshalLenient([]byte(resp.Choices[0].Message.Content), &ext); err != nil {
		return nil, fmt.Errorf("finalize: parse extraction: %w", err)
	}
	return &ext, nil
}

// unmarshalLenient unmarshals JSON, attempting a repair pass when the
// payload is malformed (markdown fences, trailing commas, truncation).
func unmarshalLenient(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return rerr
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}
