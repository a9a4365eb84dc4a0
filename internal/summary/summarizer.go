// Package summary condenses transcripts into key points with an LLM.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/llm"
)

// DefaultPrompt is the system prompt used when none is configured.
const DefaultPrompt = "You are an assistant who summarizes the given text concisely into key points."

// DefaultTemperature is the sampling temperature summaries are requested with.
const DefaultTemperature = 0.5

var defaultBackoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

type Summarizer struct {
	client  llm.Client
	prompt  string
	logger  *zap.Logger
	backoff []time.Duration
	sleep   func(context.Context, time.Duration) error
}

func New(client llm.Client, prompt string, logger *zap.Logger) *Summarizer {
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{
		client:  client,
		prompt:  prompt,
		logger:  logger,
		backoff: defaultBackoff,
		sleep:   sleepContext,
	}
}

// Summarize returns an empty summary for blank text without calling the model.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	req := llm.Request{Instruction: s.prompt, Document: text}

	var lastErr error
	for attempt := range s.backoff {
		resp, err := s.client.Complete(ctx, req)
		if err == nil {
			if resp.Truncated {
				s.logger.Warn("summary hit the output token limit", zap.Int("chars", len(resp.Text)))
			}
			return resp.Text, nil
		}
		lastErr = err
		s.logger.Warn("summary attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < len(s.backoff)-1 {
			if err := s.sleep(ctx, s.backoff[attempt]); err != nil {
				return "", fmt.Errorf("summarize: %w", err)
			}
		}
	}
	return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
