// Package transcribe turns uploaded audio into text and renders chunk
// transcripts as markdown.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the speech-to-text model used when none is configured.
const DefaultModel = openai.Whisper1

var ErrNoAPIKey = errors.New("openai api key is required for transcription")

// Transcript is the text of one audio file.
type Transcript struct {
	Text     string
	Language string
	Duration float64
}

type Transcriber interface {
	Transcribe(ctx context.Context, filename string, r io.Reader) (Transcript, error)
}

type Option func(*Whisper)

func WithModel(model string) Option {
	return func(w *Whisper) {
		if model != "" {
			w.model = model
		}
	}
}

// WithLanguage sets the ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(w *Whisper) { w.language = lang }
}

func WithBaseURL(url string) Option {
	return func(w *Whisper) { w.baseURL = url }
}

// Whisper transcribes with the OpenAI audio transcription endpoint.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
	baseURL  string
}

func NewWhisper(apiKey string, opts ...Option) (*Whisper, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	w := &Whisper{model: DefaultModel}
	for _, opt := range opts {
		opt(w)
	}

	config := openai.DefaultConfig(apiKey)
	if w.baseURL != "" {
		config.BaseURL = w.baseURL
	}
	w.client = openai.NewClientWithConfig(config)
	return w, nil
}

func (w *Whisper) Transcribe(ctx context.Context, filename string, r io.Reader) (Transcript, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filename,
		Reader:   r,
		Language: w.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper transcription of %s: %w", filename, err)
	}

	return Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}, nil
}
