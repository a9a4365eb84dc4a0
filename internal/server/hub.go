package server

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/jobs"
	"github.com/sjawhar/chunkscribe/internal/recorder"
	"github.com/sjawhar/chunkscribe/internal/segment"
)

// Hub fans recorder and job events out to websocket subscribers. Slow
// subscribers drop messages rather than block publishers.
type Hub struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Subscribers is the number of connected listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastRecorderStatus(status recorder.Status) {
	h.broadcastEvent(RecorderStatusEvent{
		Event:  newEvent("recorder_status", time.Now().UTC()),
		Status: string(status),
	})
}

func (h *Hub) BroadcastChunkReady(chunk segment.Chunk) {
	h.broadcastEvent(ChunkReadyEvent{
		Event:     newEvent("chunk_ready", time.Now().UTC()),
		ChunkID:   chunk.ID,
		StartTime: chunk.Start.Seconds(),
		EndTime:   chunk.End.Seconds(),
	})
}

func (h *Hub) BroadcastRecorderError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	h.broadcastEvent(RecorderErrorEvent{
		Event: newEvent("recorder_error", time.Now().UTC()),
		Error: msg,
	})
}

func (h *Hub) BroadcastChunkJob(job jobs.ChunkJob) {
	h.broadcastEvent(ChunkJobEvent{
		Event: newEvent("chunk_job", job.UpdatedAt),
		Job:   job,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal error", zap.Error(err))
		return
	}
	h.Broadcast(payload)
}
