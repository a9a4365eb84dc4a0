package jobs

import (
	"context"
	"io"
	"time"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
)

// Status is the client-side state of one chunk's transcription job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Kind distinguishes chunk transcription jobs from summary jobs.
type Kind string

const (
	KindTranscript Kind = "transcript"
	KindSummary    Kind = "summary"
)

// Messages recorded on a failed job when the backend gives none.
const (
	MsgProcessingFailed = "processing failed"
	MsgLookupFailed     = "result lookup failed"
	MsgNoJobID          = "submission accepted without a job id"
)

// ChunkJob is a snapshot of one job. Transcript holds the summary text for
// KindSummary jobs.
type ChunkJob struct {
	ChunkID          string    `json:"chunk_id"`
	Kind             Kind      `json:"kind"`
	JobID            string    `json:"job_id,omitempty"`
	Status           Status    `json:"status"`
	Transcript       string    `json:"transcript,omitempty"`
	Error            string    `json:"error,omitempty"`
	Warning          string    `json:"warning,omitempty"`
	DetectedLanguage string    `json:"detected_language,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at,omitzero"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Active reports whether the job is between submission and a terminal state.
func (j ChunkJob) Active() bool {
	return j.Status == StatusUploading || j.Status == StatusProcessing
}

// JobAPI is the transcription backend. *jobapi.Client satisfies it.
type JobAPI interface {
	Upload(ctx context.Context, filename string, r io.Reader) (jobapi.UploadResponse, error)
	Result(ctx context.Context, jobID string) (jobapi.Result, error)
	Summarize(ctx context.Context, id, text string) (jobapi.UploadResponse, error)
}

type EventBroadcaster interface {
	BroadcastChunkJob(job ChunkJob)
}

// History records every state a job passes through.
type History interface {
	RecordChunkJob(ctx context.Context, job ChunkJob) error
}

// Filename is the upload filename for a chunk.
func Filename(chunkID string) string {
	return "chunk-" + chunkID + ".wav"
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed
}

// isValidTransition enforces the per-lifecycle edges. A new lifecycle always
// begins at uploading.
func isValidTransition(from, to Status) bool {
	if to == StatusUploading {
		return true
	}
	switch from {
	case StatusIdle:
		return false
	case StatusUploading:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
