package scoring

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-3-flash-preview"

// GeminiConfig holds configuration for the Gemini scorer.
type GeminiConfig struct {
	APIKey     string
	Model      string // e.g., "gemini-3-flash-preview"
	BaseURL    string // optional, for proxies and tests
	HTTPClient *http.Client
}

// GeminiScorer scores transcripts with a structured-output Gemini call.
type GeminiScorer struct {
	client *genai.Client
	model  string
}

// reportSchema constrains the model output to a Report.
var reportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"overallScore": {Type: genai.TypeInteger},
		"metrics": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"category": {Type: genai.TypeString},
					"score":    {Type: genai.TypeInteger},
					"details":  {Type: genai.TypeString},
				},
				Required: []string{"category", "score", "details"},
			},
		},
		"improvementTips": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"overallScore", "metrics", "improvementTips"},
}

// NewGeminiScorer creates a scorer backed by the Gemini API.
func NewGeminiScorer(ctx context.Context, cfg GeminiConfig) (*GeminiScorer, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini scorer: API key is missing")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiScorer{client: client, model: model}, nil
}

// Score implements Scorer.
func (s *GeminiScorer) Score(ctx context.Context, transcript, persona string) (*Report, error) {
	if isTooShort(transcript) {
		return tooShortReport(), nil
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(BuildPrompt(transcript, persona)), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    reportSchema,
	})
	if err != nil {
		return nil, scoringError("Gemini API error: %w", err)
	}

	return parseReport(resp.Text())
}
