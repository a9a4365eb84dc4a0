package server

import (
	"time"

	"github.com/sjawhar/chunkscribe/internal/jobs"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type RecorderStatusEvent struct {
	Event
	Status string `json:"status"`
}

type ChunkReadyEvent struct {
	Event
	ChunkID   string  `json:"chunk_id"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

type RecorderErrorEvent struct {
	Event
	Error string `json:"error"`
}

type ChunkJobEvent struct {
	Event
	Job jobs.ChunkJob `json:"job"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
