package jobapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultFilename is used when Upload is called without a filename.
const DefaultFilename = "recording.webm"

var (
	// ErrNoJobID means the server accepted a submission without naming a job.
	ErrNoJobID   = errors.New("job api response missing job_id")
	ErrEmptyText = errors.New("summary text is empty")
)

// HTTPError is a non-2xx answer from the job API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("job api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("job api: status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	http *resty.Client
}

type clientOptions struct {
	timeout    time.Duration
	httpClient *http.Client
	userAgent  string
}

type Option func(*clientOptions)

func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

func WithUserAgent(ua string) Option {
	return func(o *clientOptions) { o.userAgent = ua }
}

func NewClient(baseURL string, opts ...Option) *Client {
	o := clientOptions{timeout: 30 * time.Second, userAgent: "chunkscribe"}
	for _, opt := range opts {
		opt(&o)
	}

	var rc *resty.Client
	if o.httpClient != nil {
		rc = resty.NewWithClient(o.httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(baseURL).
		SetTimeout(o.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", o.userAgent)

	return &Client{http: rc}
}

// Upload submits an audio file as multipart field "file". The reader is
// consumed before Upload returns.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (UploadResponse, error) {
	if filename == "" {
		filename = DefaultFilename
	}

	var out UploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, r).
		SetResult(&out).
		SetError(&ErrorResponse{}).
		Post("/upload")
	if err != nil {
		return UploadResponse{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	if err := checkResponse(resp); err != nil {
		return UploadResponse{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	if out.JobID == "" {
		return out, ErrNoJobID
	}
	return out, nil
}

// Result fetches the current state of a job.
func (c *Client) Result(ctx context.Context, jobID string) (Result, error) {
	var out Result
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("jobID", jobID).
		SetResult(&out).
		SetError(&ErrorResponse{}).
		Get("/result/{jobID}")
	if err != nil {
		return Result{}, fmt.Errorf("result %s: %w", jobID, err)
	}
	if err := checkResponse(resp); err != nil {
		return Result{}, fmt.Errorf("result %s: %w", jobID, err)
	}
	return out, nil
}

// Summarize submits text for summarization under the given id. The returned
// job id is SummaryJobID(id).
func (c *Client) Summarize(ctx context.Context, id, text string) (UploadResponse, error) {
	if text == "" {
		return UploadResponse{}, ErrEmptyText
	}

	var out UploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(SummarizeRequest{JobID: id, Text: text}).
		SetResult(&out).
		SetError(&ErrorResponse{}).
		Post("/summarize")
	if err != nil {
		return UploadResponse{}, fmt.Errorf("summarize %s: %w", id, err)
	}
	if err := checkResponse(resp); err != nil {
		return UploadResponse{}, fmt.Errorf("summarize %s: %w", id, err)
	}
	if out.JobID == "" {
		return out, ErrNoJobID
	}
	return out, nil
}

// Health checks GET /.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return checkResponse(resp)
}

func checkResponse(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	httpErr := &HTTPError{StatusCode: resp.StatusCode()}
	if body, ok := resp.Error().(*ErrorResponse); ok && body.Error != "" {
		httpErr.Message = body.Error
	} else {
		httpErr.Message = resp.Status()
	}
	return httpErr
}
