package scoring

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig holds configuration for the OpenAI scorer.
type OpenAIConfig struct {
	APIKey  string
	Model   string // e.g., "gpt-4o-mini"
	BaseURL string // optional, for compatible gateways and tests
}

// OpenAIScorer scores transcripts with a JSON-mode chat completion.
type OpenAIScorer struct {
	client *openai.Client
	model  string
}

// NewOpenAIScorer creates a scorer backed by the OpenAI API.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai scorer: API key is missing")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIScorer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Score implements Scorer.
func (s *OpenAIScorer) Score(ctx context.Context, transcript, persona string) (*Report, error) {
	if isTooShort(transcript) {
		return tooShortReport(), nil
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(transcript, persona)},
		},
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, scoringError("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, scoringError("no choices in response")
	}

	return parseReport(resp.Choices[0].Message.Content)
}
