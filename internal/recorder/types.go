package recorder

import (
	"github.com/sjawhar/chunkscribe/internal/blob"
	"github.com/sjawhar/chunkscribe/internal/capture"
	"github.com/sjawhar/chunkscribe/internal/segment"
)

// Status is the recorder lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
)

// Source is the capture side of a recording session. *capture.Source
// satisfies it.
type Source interface {
	Start(cfg capture.Config) error
	Stop()
	Pause()
	Resume()
	Destroy()
	OnSegmentReady(fn func(capture.Segment))
	OnStop(fn func(full []byte))
	OnError(fn func(error))
}

// SourceFactory builds a fresh Source for each session.
type SourceFactory func() Source

// BlobStore holds chunk payloads. *blob.Arena satisfies it.
type BlobStore interface {
	Put(data []byte) (blob.Handle, error)
	Read(h blob.Handle) ([]byte, error)
	Release(h blob.Handle) error
}

type EventBroadcaster interface {
	BroadcastRecorderStatus(status Status)
	BroadcastChunkReady(chunk segment.Chunk)
	BroadcastRecorderError(err error)
}
