package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openaiClient struct {
	api   *openai.Client
	model string
	opts  clientOptions
}

func newOpenAIClient(apiKey, model string, o clientOptions) (Client, error) {
	cfg := openai.DefaultConfig(apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	return &openaiClient{api: openai.NewClientWithConfig(cfg), model: model, opts: o}, nil
}

func (c *openaiClient) Complete(ctx context.Context, req Request) (Response, error) {
	var msgs []openai.ChatCompletionMessage
	if req.Instruction != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.Instruction})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Document})

	body := openai.ChatCompletionRequest{Model: c.model, Messages: msgs, MaxTokens: c.opts.maxTokens}
	if c.opts.temperature != nil {
		body.Temperature = float32(*c.opts.temperature)
	}

	resp, err := c.api.CreateChatCompletion(ctx, body)
	if err != nil {
		return Response{}, fmt.Errorf("openai %s: %w", c.model, err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	choice := resp.Choices[0]
	return reply("openai", choice.Message.Content, choice.FinishReason == openai.FinishReasonLength)
}
