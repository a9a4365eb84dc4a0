// Package jobapi holds the wire types of the transcription job API and an
// HTTP client for it.
package jobapi

// Status is the job state reported by GET /result/{job_id}.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

// UploadResponse answers POST /upload and POST /summarize.
type UploadResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message,omitempty"`
}

// Result answers GET /result/{job_id}. Transcript jobs carry Transcription;
// summary jobs carry Summary.
type Result struct {
	Status           Status `json:"status"`
	Transcription    string `json:"transcription,omitempty"`
	DetectedLanguage string `json:"detected_language,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDetail      string `json:"error_detail,omitempty"`
	Message          string `json:"message,omitempty"`
}

// Terminal reports whether no further polling is needed.
func (r Result) Terminal() bool {
	return r.Status != StatusProcessing
}

type SummarizeRequest struct {
	JobID string `json:"jobId"`
	Text  string `json:"text"`
}

// ErrorResponse is the body of any non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SummaryJobID is the job id under which a summary for id is tracked.
func SummaryJobID(id string) string {
	return "summary:" + id
}
