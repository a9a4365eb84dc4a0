package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhisperTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "ko", r.FormValue("language"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		file, header, err := r.FormFile("file")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(file)
			assert.Equal(t, "RIFF", string(data))
			assert.Equal(t, "chunk-a.wav", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task":     "transcribe",
			"language": "korean",
			"duration": 2.5,
			"text":     "  안녕하세요 ",
		})
	}))
	defer server.Close()

	whisper, err := NewWhisper("test-key", WithLanguage("ko"), WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	got, err := whisper.Transcribe(context.Background(), "chunk-a.wav", strings.NewReader("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "안녕하세요", got.Text)
	assert.Equal(t, "korean", got.Language)
}

func TestWhisperTranscribeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Invalid file format.", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	whisper, err := NewWhisper("test-key", WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	_, err = whisper.Transcribe(context.Background(), "a.wav", strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid file format.")
}

func TestNewWhisperRequiresKey(t *testing.T) {
	_, err := NewWhisper(" ")
	require.ErrorIs(t, err, ErrNoAPIKey)
}
