// Package storage persists chunk job history for the client and job results
// for the backend.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
)

// DefaultResultTTL bounds how long an unread result is kept.
const DefaultResultTTL = time.Hour

// ErrNotFound is returned when no live result exists for a key.
var ErrNotFound = errors.New("result not found")

// ResultStore holds job results keyed by job id until they are read or
// expire.
type ResultStore interface {
	PutResult(ctx context.Context, key string, res jobapi.Result) error
	GetResult(ctx context.Context, key string) (jobapi.Result, error)
	DeleteResult(ctx context.Context, key string) error
	Close() error
}
