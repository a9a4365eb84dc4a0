// Package llm sends one instruction and one document to a hosted model and
// returns the reply. Summary jobs are its only caller, so there is no
// conversation state.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

const defaultMaxTokens = 2048

// ErrEmptyResponse means the model answered without any text.
var ErrEmptyResponse = errors.New("model returned no text")

// Request is a single completion. Instruction may be empty.
type Request struct {
	Instruction string
	Document    string
}

// Response is the model's reply. Truncated is set when generation stopped at
// the output token limit.
type Response struct {
	Text      string
	Truncated bool
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// APIKeys holds one key per provider.
type APIKeys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

// ForProvider returns the key for provider, or "" if unknown.
func (k APIKeys) ForProvider(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return k.OpenAI
	case ProviderAnthropic:
		return k.Anthropic
	case ProviderGemini:
		return k.Gemini
	default:
		return ""
	}
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	temperature *float64
	maxTokens   int
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

func WithTemperature(t float64) Option {
	return func(o *clientOptions) { o.temperature = &t }
}

func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

type constructor func(apiKey, model string, o clientOptions) (Client, error)

var providers = map[string]constructor{
	ProviderOpenAI:    newOpenAIClient,
	ProviderAnthropic: newAnthropicClient,
	ProviderGemini:    newGeminiClient,
}

// ParseModel splits "provider/model".
func ParseModel(model string) (provider, name string, err error) {
	provider, name, ok := strings.Cut(model, "/")
	if !ok || provider == "" || name == "" {
		return "", "", fmt.Errorf("invalid model %q: want provider/model", model)
	}
	return provider, name, nil
}

// NewClientForModel parses a provider/model string and picks the matching key.
func NewClientForModel(model string, keys APIKeys, opts ...Option) (Client, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	key := keys.ForProvider(provider)
	if key == "" {
		return nil, fmt.Errorf("no api key for provider %q", provider)
	}
	return NewClient(provider, key, name, opts...)
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	build, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", provider, strings.Join(supportedProviders(), ", "))
	}
	o := clientOptions{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(&o)
	}
	return build(apiKey, model, o)
}

func supportedProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// reply trims text and rejects an empty answer.
func reply(provider, text string, truncated bool) (Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Response{}, fmt.Errorf("%s: %w", provider, ErrEmptyResponse)
	}
	return Response{Text: text, Truncated: truncated}, nil
}
