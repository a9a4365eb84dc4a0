package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	api   anthropic.Client
	model string
	opts  clientOptions
}

func newAnthropicClient(apiKey, model string, o clientOptions) (Client, error) {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}
	return &anthropicClient{api: anthropic.NewClient(reqOpts...), model: model, opts: o}, nil
}

func (c *anthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.opts.maxTokens),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Document))},
	}
	if req.Instruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Instruction}}
	}
	if c.opts.temperature != nil {
		params.Temperature = anthropic.Float(*c.opts.temperature)
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic %s: %w", c.model, err)
	}

	var text strings.Builder
	for i := range msg.Content {
		if msg.Content[i].Type == "text" {
			text.WriteString(msg.Content[i].Text)
		}
	}
	return reply("anthropic", text.String(), string(msg.StopReason) == "max_tokens")
}
