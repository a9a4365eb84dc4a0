// Package segment turns capture segments into addressable recording chunks.
package segment

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/chunkscribe/internal/blob"
	"github.com/sjawhar/chunkscribe/internal/capture"
)

var (
	ErrEmptySegment = errors.New("segment has no duration")
	ErrOutOfOrder   = errors.New("segment does not continue the previous chunk")
)

// Chunk is one immutable slice of a recording. Its payload lives behind
// Handle until the owner releases it.
type Chunk struct {
	ID     string        `json:"id"`
	Handle blob.Handle   `json:"-"`
	Start  time.Duration `json:"start"`
	End    time.Duration `json:"end"`
}

func (c Chunk) Duration() time.Duration { return c.End - c.Start }

// Store places a payload and returns a handle for it.
type Store interface {
	Put(data []byte) (blob.Handle, error)
}

// Segmenter assigns ids to capture segments and checks that consecutive
// chunks of one session partition the timeline.
type Segmenter struct {
	store Store
	newID func() string

	mu      sync.Mutex
	lastEnd time.Duration
}

func NewSegmenter(store Store) *Segmenter {
	return &Segmenter{store: store, newID: uuid.NewString}
}

// Reset starts a new session timeline at zero.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEnd = 0
}

// Next validates seg, stores its payload and returns the resulting chunk.
func (s *Segmenter) Next(seg capture.Segment) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seg.End <= seg.Start {
		return Chunk{}, fmt.Errorf("%w: [%s, %s]", ErrEmptySegment, seg.Start, seg.End)
	}
	if seg.Start != s.lastEnd {
		return Chunk{}, fmt.Errorf("%w: starts at %s, previous ended at %s", ErrOutOfOrder, seg.Start, s.lastEnd)
	}

	// A segment whose payload cannot be stored still consumes its interval
	// so later segments of the session are not rejected as out of order.
	s.lastEnd = seg.End
	handle, err := s.store.Put(seg.Payload)
	if err != nil {
		return Chunk{}, fmt.Errorf("store chunk payload: %w", err)
	}

	return Chunk{
		ID:     s.newID(),
		Handle: handle,
		Start:  seg.Start,
		End:    seg.End,
	}, nil
}
