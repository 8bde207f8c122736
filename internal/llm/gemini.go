package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini-backed grader and generator.
type GeminiConfig struct {
	APIKey          string
	GradingModel    string
	GenerationModel string
	Timeout         time.Duration
}

// GeminiClient implements Grader and Generator on the Gemini API.
// The underlying genai client is created on first use.
type GeminiClient struct {
	cfg GeminiConfig

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient creates a GeminiClient. A missing API key is not an error here;
// calls fail with ErrMissingAPIKey and callers fall back.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &GeminiClient{cfg: cfg}
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(context.WithoutCancel(ctx), &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			Timeout: genai.Ptr(c.cfg.Timeout),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client
	return client, nil
}

// GradeCohort sends the whole cohort in one structured request.
func (c *GeminiClient) GradeCohort(ctx context.Context, req GradeRequest) ([]GradedEntry, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}
	prompt, err := gradingPrompt(req)
	if err != nil {
		return nil, err
	}
	config := &genai.GenerateContentConfig{
		Temperature:        genai.Ptr(float32(0.2)),
		SystemInstruction:  genai.NewContentFromText(gradingSystemPrompt, genai.RoleUser),
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: gradingSchema(),
	}
	resp, err := client.Models.GenerateContent(ctx, c.cfg.GradingModel,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, config)
	if err != nil {
		return nil, fmt.Errorf("grade cohort: %w", err)
	}
	return parseGrading(resp.Text())
}

func parseGrading(payload string) ([]GradedEntry, error) {
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyResponse
	}
	var parsed struct {
		Results []GradedEntry `json:"results"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("%w: no results", ErrMalformedResponse)
	}
	return parsed.Results, nil
}

// Generate returns synthetic participant text for one seat.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return "", err
	}
	temperature := req.Tier.Temperature
	if temperature == 0 {
		temperature = 0.9
	}
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(temperature),
		MaxOutputTokens:   int32(req.Tier.TargetWords * 3),
		SystemInstruction: genai.NewContentFromText(generationSystemPrompt, genai.RoleUser),
	}
	resp, err := client.Models.GenerateContent(ctx, c.cfg.GenerationModel,
		[]*genai.Content{genai.NewContentFromText(generationPrompt(req), genai.RoleUser)}, config)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

var (
	_ Grader    = (*GeminiClient)(nil)
	_ Generator = (*GeminiClient)(nil)
)
