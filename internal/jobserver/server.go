package jobserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
	"github.com/sjawhar/chunkscribe/internal/objectstore"
	"github.com/sjawhar/chunkscribe/internal/storage"
)

const DefaultMaxUploadBytes = 100 << 20

// AllowedExtensions lists the audio formats accepted by POST /upload.
var AllowedExtensions = []string{"webm", "wav", "ogg", "mp3", "m4a"}

type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

type Option func(*api)

func WithLogger(l *zap.Logger) Option {
	return func(a *api) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(a *api) { a.origins = slices.Clone(origins) }
}

func WithMetricsHandler(h http.Handler) Option {
	return func(a *api) { a.metrics = h }
}

func WithMaxUploadBytes(n int64) Option {
	return func(a *api) {
		if n > 0 {
			a.maxUpload = n
		}
	}
}

func withIDGenerator(fn func() string) Option {
	return func(a *api) { a.newID = fn }
}

type api struct {
	objects   objectstore.Store
	results   storage.ResultStore
	queue     Enqueuer
	logger    *zap.Logger
	metrics   http.Handler
	origins   []string
	maxUpload int64
	newID     func() string
}

// Handler serves the job API routes over the given stores and queue.
func Handler(objects objectstore.Store, results storage.ResultStore, queue Enqueuer, opts ...Option) http.Handler {
	a := &api{
		objects:   objects,
		results:   results,
		queue:     queue,
		logger:    zap.NewNop(),
		maxUpload: DefaultMaxUploadBytes,
		newID:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	for _, o := range opts {
		o(a)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "job API is running"})
	})
	mux.HandleFunc("POST /upload", a.handleUpload)
	mux.HandleFunc("POST /summarize", a.handleSummarize)
	mux.HandleFunc("GET /result/{id}", a.handleResult)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}

	return cors(a.origins, mux)
}

func (a *api) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxUpload)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "uploaded file is too large")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer func() { _ = file.Close() }()

	filename := secureFilename(header.Filename)
	if filename == "" {
		writeJSONError(w, http.StatusBadRequest, "no file provided")
		return
	}
	if !allowedFile(filename) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("unsupported file type: %s", filename))
		return
	}

	contents, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("read upload: %v", err))
		return
	}
	if len(contents) == 0 {
		writeJSONError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	jobID := a.newID()
	key := objectstore.UploadKey(jobID, filename)
	log := a.logger.With(zap.String("job_id", jobID))

	if err := a.objects.Put(r.Context(), key, bytes.NewReader(contents)); err != nil {
		log.Error("stage upload", zap.String("key", key), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "failed to store uploaded file")
		return
	}

	job := Job{ID: jobID, Kind: KindTranscribe, ObjectKey: key, Filename: filename}
	if err := a.queue.Enqueue(r.Context(), job); err != nil {
		log.Error("enqueue transcription", zap.Error(err))
		if delErr := a.objects.Delete(r.Context(), key); delErr != nil {
			log.Warn("delete staged upload", zap.Error(delErr))
		}
		writeJSONError(w, enqueueStatus(err), "failed to start transcription job")
		return
	}

	log.Info("transcription job accepted", zap.String("filename", filename), zap.Int("bytes", len(contents)))
	writeJSON(w, http.StatusAccepted, jobapi.UploadResponse{JobID: jobID, Message: "transcription job started"})
}

func (a *api) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req jobapi.SummarizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSONError(w, http.StatusBadRequest, "text to summarize is empty")
		return
	}
	if req.JobID == "" {
		req.JobID = a.newID()
	}

	key := jobapi.SummaryJobID(req.JobID)
	if err := a.queue.Enqueue(r.Context(), Job{ID: key, Kind: KindSummary, Text: req.Text}); err != nil {
		a.logger.Error("enqueue summary", zap.String("job_id", key), zap.Error(err))
		writeJSONError(w, enqueueStatus(err), "failed to start summary job")
		return
	}

	writeJSON(w, http.StatusAccepted, jobapi.UploadResponse{JobID: key, Message: "summary job started"})
}

func (a *api) handleResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := a.results.GetResult(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusAccepted, jobapi.Result{
			Status:  jobapi.StatusProcessing,
			Message: "job is still processing or its result was not found",
		})
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get result: %v", err))
		return
	}

	if res.Terminal() {
		if err := a.results.DeleteResult(r.Context(), id); err != nil {
			a.logger.Warn("delete delivered result", zap.String("job_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func enqueueStatus(err error) int {
	if errors.Is(err, ErrQueueClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func allowedFile(filename string) bool {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	return ext != "" && slices.Contains(AllowedExtensions, strings.ToLower(ext))
}

// secureFilename keeps the base name and drops anything outside [A-Za-z0-9._-].
func secureFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return -1
	}, name)
	return strings.Trim(name, "._")
}

func cors(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(origins, origin) || slices.Contains(origins, "*")) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
