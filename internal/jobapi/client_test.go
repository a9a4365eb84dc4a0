package jobapi

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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestUploadSendsMultipartFile(t *testing.T) {
	var gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/upload", r.URL.Path)
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName, gotBody = header.Filename, string(data)
		writeJSON(w, http.StatusAccepted, UploadResponse{JobID: "J1", Message: "queued"})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Upload(context.Background(), "chunk-a.wav", strings.NewReader("RIFF"))

	require.NoError(t, err)
	assert.Equal(t, "J1", resp.JobID)
	assert.Equal(t, "chunk-a.wav", gotName)
	assert.Equal(t, "RIFF", gotBody)
}

func TestUploadDefaultsFilename(t *testing.T) {
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotName = header.Filename
		writeJSON(w, http.StatusAccepted, UploadResponse{JobID: "J1"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Upload(context.Background(), "", strings.NewReader("x"))

	require.NoError(t, err)
	assert.Equal(t, DefaultFilename, gotName)
}

func TestUploadWithoutJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "ok"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Upload(context.Background(), "a.wav", strings.NewReader("x"))

	assert.ErrorIs(t, err, ErrNoJobID)
}

func TestUploadHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unsupported file type"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Upload(context.Background(), "a.txt", strings.NewReader("x"))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "unsupported file type", httpErr.Message)
}

func TestResultDecodesStatuses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/result/pending":
			writeJSON(w, http.StatusAccepted, Result{Status: StatusProcessing})
		case "/result/done":
			writeJSON(w, http.StatusOK, Result{Status: StatusCompleted, Transcription: "hello", DetectedLanguage: "en"})
		case "/result/bad":
			writeJSON(w, http.StatusOK, Result{Status: StatusFailed, Error: "bad audio"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	pending, err := c.Result(ctx, "pending")
	require.NoError(t, err)
	assert.False(t, pending.Terminal())

	done, err := c.Result(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, "hello", done.Transcription)
	assert.Equal(t, "en", done.DetectedLanguage)
	assert.True(t, done.Terminal())

	bad, err := c.Result(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, bad.Status)
	assert.Equal(t, "bad audio", bad.Error)
}

func TestResultServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Result(context.Background(), "J1")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}

func TestResultHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL).Result(ctx, "J1")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummarizePostsJSON(t *testing.T) {
	var got SummarizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/summarize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusAccepted, UploadResponse{JobID: SummaryJobID(got.JobID)})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).Summarize(context.Background(), "s1", "some text")

	require.NoError(t, err)
	assert.Equal(t, "summary:s1", resp.JobID)
	assert.Equal(t, SummarizeRequest{JobID: "s1", Text: "some text"}, got)
}

func TestSummarizeRejectsEmptyText(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:0").Summarize(context.Background(), "s1", "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL).Health(context.Background()))
}
