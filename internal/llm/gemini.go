package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type geminiClient struct {
	api   *genai.Client
	model string
	opts  clientOptions
}

func newGeminiClient(apiKey, model string, o clientOptions) (Client, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if o.baseURL != "" {
		cfg.HTTPOptions.BaseURL = o.baseURL
	}
	api, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &geminiClient{api: api, model: model, opts: o}, nil
}

// generateConfig carries the instruction as a system instruction rather than a
// conversation turn.
func (c *geminiClient) generateConfig(instruction string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(c.opts.maxTokens)}
	if instruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(instruction, genai.RoleUser)
	}
	if c.opts.temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*c.opts.temperature))
	}
	return cfg
}

func (c *geminiClient) Complete(ctx context.Context, req Request) (Response, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Document, genai.RoleUser)}
	result, err := c.api.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(req.Instruction))
	if err != nil {
		return Response{}, fmt.Errorf("gemini %s: %w", c.model, err)
	}

	truncated := false
	if len(result.Candidates) > 0 && result.Candidates[0] != nil {
		truncated = string(result.Candidates[0].FinishReason) == "MAX_TOKENS"
	}
	return reply("gemini", result.Text(), truncated)
}
