package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/jobs"
	"github.com/sjawhar/chunkscribe/internal/recorder"
	"github.com/sjawhar/chunkscribe/internal/segment"
	"github.com/sjawhar/chunkscribe/internal/transcribe"
)

// Recorder is the recording side of the API. *recorder.Recorder satisfies it.
type Recorder interface {
	Start(segmentDuration time.Duration) error
	Stop()
	Pause()
	Resume()
	Status() recorder.Status
	Chunks() []segment.Chunk
	Chunk(id string) (segment.Chunk, bool)
	Payload(id string) ([]byte, error)
	LastError() error
}

// Jobs is the transcription side of the API. *jobs.Orchestrator satisfies it.
type Jobs interface {
	Upload(ctx context.Context, chunkID string, payload []byte) jobs.ChunkJob
	Summarize(ctx context.Context, id, text string) jobs.ChunkJob
	Snapshot(key string) (jobs.ChunkJob, bool)
	Forget(key string)
}

type History interface {
	ChunkHistory(ctx context.Context, chunkID string) ([]jobs.ChunkJob, error)
}

type chunkView struct {
	ID        string         `json:"id"`
	StartTime float64        `json:"start_time"`
	EndTime   float64        `json:"end_time"`
	Job       *jobs.ChunkJob `json:"job,omitempty"`
}

type startRequest struct {
	SegmentDuration string `json:"segment_duration"`
}

type api struct {
	rec             Recorder
	jobs            Jobs
	history         History
	segmentDuration time.Duration
	logger          *zap.Logger

	mu         sync.Mutex
	summaryKey string
	inflight   map[string]struct{}
}

// summarySlot is the in-flight key for summary submissions. Chunk ids are
// uuids, so it cannot collide with one.
const summarySlot = "summary"

// claim marks key as submitting unless a submission for it is already under
// way or busy reports an active job. busy runs under a.mu.
func (a *api) claim(key string, busy func() bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.inflight[key]; ok || busy() {
		return false
	}
	if a.inflight == nil {
		a.inflight = make(map[string]struct{})
	}
	a.inflight[key] = struct{}{}
	return true
}

func (a *api) release(key string) {
	a.mu.Lock()
	delete(a.inflight, key)
	a.mu.Unlock()
}

func registerAPIRoutes(mux *http.ServeMux, a *api) {
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"status":           a.rec.Status(),
			"chunks":           len(a.rec.Chunks()),
			"segment_duration": a.segmentDuration.String(),
		}
		if err := a.rec.LastError(); err != nil {
			resp["last_error"] = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /api/recording/start", func(w http.ResponseWriter, r *http.Request) {
		d, err := a.parseSegmentDuration(r)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.rec.Start(d); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, recorder.ErrClosed) {
				status = http.StatusServiceUnavailable
			}
			writeJSONError(w, status, fmt.Sprintf("start recording: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": a.rec.Status()})
	})

	mux.HandleFunc("POST /api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		a.rec.Stop()
		writeJSON(w, http.StatusAccepted, map[string]any{"status": a.rec.Status()})
	})

	mux.HandleFunc("POST /api/recording/pause", func(w http.ResponseWriter, r *http.Request) {
		a.rec.Pause()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/recording/resume", func(w http.ResponseWriter, r *http.Request) {
		a.rec.Resume()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/chunks", func(w http.ResponseWriter, r *http.Request) {
		chunks := a.rec.Chunks()
		views := make([]chunkView, 0, len(chunks))
		for _, c := range chunks {
			v := chunkView{ID: c.ID, StartTime: c.Start.Seconds(), EndTime: c.End.Seconds()}
			if job, ok := a.jobs.Snapshot(c.ID); ok {
				v.Job = &job
			}
			views = append(views, v)
		}
		writeJSON(w, http.StatusOK, views)
	})

	mux.HandleFunc("GET /api/chunks/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		payload, err := a.rec.Payload(id)
		if err != nil {
			writeChunkError(w, err)
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeContent(w, r, jobs.Filename(id), time.Time{}, bytes.NewReader(payload))
	})

	mux.HandleFunc("POST /api/chunks/{id}/upload", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		status := jobs.StatusUploading
		if !a.claim(id, func() bool {
			job, ok := a.jobs.Snapshot(id)
			if ok && job.Active() {
				status = job.Status
				return true
			}
			return false
		}) {
			writeJSONError(w, http.StatusConflict, fmt.Sprintf("chunk %s is already %s", id, status))
			return
		}
		defer a.release(id)

		payload, err := a.rec.Payload(id)
		if err != nil {
			writeChunkError(w, err)
			return
		}

		// Polling outlives the request.
		job := a.jobs.Upload(context.WithoutCancel(r.Context()), id, payload)
		a.logger.Info("chunk upload requested", zap.String("chunk_id", id), zap.String("status", string(job.Status)))
		writeJSON(w, http.StatusAccepted, job)
	})

	mux.HandleFunc("DELETE /api/chunks/{id}/job", func(w http.ResponseWriter, r *http.Request) {
		a.jobs.Forget(r.PathValue("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/chunks/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := a.rec.Chunk(id); !ok {
			writeJSONError(w, http.StatusNotFound, "chunk not found")
			return
		}
		if a.history == nil {
			writeJSON(w, http.StatusOK, []jobs.ChunkJob{})
			return
		}
		events, err := a.history.ChunkHistory(r.Context(), id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("chunk history: %v", err))
			return
		}
		if events == nil {
			events = []jobs.ChunkJob{}
		}
		writeJSON(w, http.StatusOK, events)
	})

	mux.HandleFunc("GET /api/transcript.md", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := transcribe.WriteMarkdown(&buf, "Transcript", a.transcriptEntries()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="transcript.md"`)
		_, _ = w.Write(buf.Bytes())
	})

	mux.HandleFunc("POST /api/summary", func(w http.ResponseWriter, r *http.Request) {
		text := a.transcriptText()
		if text == "" {
			writeJSONError(w, http.StatusBadRequest, "no completed transcripts to summarize")
			return
		}

		if !a.claim(summarySlot, func() bool {
			prev, ok := a.jobs.Snapshot(a.summaryKey)
			return a.summaryKey != "" && ok && prev.Active()
		}) {
			writeJSONError(w, http.StatusConflict, "summary is already in progress")
			return
		}
		defer a.release(summarySlot)

		id := uuid.NewString()
		job := a.jobs.Summarize(context.WithoutCancel(r.Context()), id, text)
		a.mu.Lock()
		a.summaryKey = job.ChunkID
		a.mu.Unlock()

		writeJSON(w, http.StatusAccepted, job)
	})

	mux.HandleFunc("GET /api/summary", func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		key := a.summaryKey
		a.mu.Unlock()

		job, ok := a.jobs.Snapshot(key)
		if key == "" || !ok {
			writeJSONError(w, http.StatusNotFound, "no summary requested")
			return
		}
		writeJSON(w, http.StatusOK, job)
	})
}

func (a *api) parseSegmentDuration(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("segment_duration")
	if raw == "" && r.Body != nil {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("decode request: %w", err)
		}
		raw = req.SegmentDuration
	}
	if raw == "" {
		return a.segmentDuration, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid segment_duration %q", raw)
	}
	return d, nil
}

// transcriptEntries pairs completed jobs with their chunks in recording order.
func (a *api) transcriptEntries() []transcribe.Entry {
	chunks := a.rec.Chunks()
	entries := make([]transcribe.Entry, 0, len(chunks))
	for _, c := range chunks {
		job, ok := a.jobs.Snapshot(c.ID)
		if !ok || job.Status != jobs.StatusCompleted {
			continue
		}
		entries = append(entries, transcribe.Entry{
			ChunkID:  c.ID,
			Start:    c.Start,
			End:      c.End,
			Text:     job.Transcript,
			Language: job.DetectedLanguage,
			Warning:  job.Warning,
		})
	}
	return entries
}

func (a *api) transcriptText() string {
	var parts []string
	for _, e := range a.transcriptEntries() {
		if t := strings.TrimSpace(e.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func writeChunkError(w http.ResponseWriter, err error) {
	if errors.Is(err, recorder.ErrChunkNotFound) {
		writeJSONError(w, http.StatusNotFound, "chunk not found")
		return
	}
	writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("read chunk: %v", err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
