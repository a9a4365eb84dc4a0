// Package capture turns a microphone device into a stream of time-bounded
// audio segments.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sjawhar/chunkscribe/internal/audio"
)

var (
	// ErrUnusable is returned by Start once a Source has failed or been destroyed.
	ErrUnusable = errors.New("capture source unusable")
	// ErrAlreadyStarted is returned by a second Start on the same Source.
	ErrAlreadyStarted = errors.New("capture source already started")
)

// DeviceError reports a microphone that could not be acquired or failed
// while streaming.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("capture device %s: %v", e.Op, e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// Config controls segmenting. A zero SegmentDuration yields a single segment
// at stop.
type Config struct {
	SegmentDuration time.Duration
}

// Segment is one finalized slice of a recording, WAV encoded. Start and End
// are offsets into the recording measured in captured (unpaused) audio time.
type Segment struct {
	Payload []byte
	Start   time.Duration
	End     time.Duration
}

type state int

const (
	stateNew state = iota
	stateAcquiring
	stateRunning
	stateDone
	stateFailed
	stateDestroyed
)

// Source owns one capture device for one recording session. Each of the
// three notification channels holds at most one handler; registering a new
// handler replaces the previous one. Handlers run on the capture goroutine.
type Source struct {
	open   audio.DeviceFactory
	logger *zap.Logger

	mu            sync.Mutex
	state         state
	stopRequested bool
	paused        bool
	device        audio.Device
	streaming     bool
	errReported   bool
	closeOnce     sync.Once
	done          chan struct{}

	onSegment func(Segment)
	onStop    func([]byte)
	onError   func(error)

	sampleRate   int
	segmentBytes int
	pending      []byte
	full         []byte
	segStart     int
}

// NewSource returns an idle Source that acquires its device through open.
func NewSource(open audio.DeviceFactory, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{open: open, logger: logger, done: make(chan struct{})}
}

func (s *Source) OnSegmentReady(fn func(Segment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSegment = fn
}

func (s *Source) OnStop(fn func(full []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = fn
}

func (s *Source) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Done is closed when the capture goroutine has exited.
func (s *Source) Done() <-chan struct{} { return s.done }

// Start begins asynchronous device acquisition. Acquisition failures are
// reported through OnError, never returned.
func (s *Source) Start(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateNew:
	case stateFailed, stateDestroyed:
		return ErrUnusable
	default:
		return ErrAlreadyStarted
	}

	s.state = stateAcquiring
	go s.run(cfg)
	return nil
}

// Stop asks the device to stop. OnStop fires once the stream has drained.
func (s *Source) Stop() {
	s.mu.Lock()
	if s.state != stateAcquiring && s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.stopRequested = true
	dev := s.device
	s.mu.Unlock()

	if dev != nil {
		if err := dev.Stop(); err != nil {
			s.logger.Warn("capture device stop failed", zap.Error(err))
		}
	}
}

// Pause drops incoming audio until Resume. Paused time does not count
// towards segment offsets.
func (s *Source) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateAcquiring || s.state == stateRunning {
		s.paused = true
	}
}

func (s *Source) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateAcquiring || s.state == stateRunning {
		s.paused = false
	}
}

// Destroy releases the device. It is idempotent, safe before Start, and no
// handler is invoked after it returns.
func (s *Source) Destroy() {
	s.mu.Lock()
	if s.state == stateDestroyed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = stateDestroyed
	dev := s.device
	streaming := s.streaming
	s.pending = nil
	s.full = nil
	s.mu.Unlock()

	if prev == stateNew {
		close(s.done)
		return
	}
	if dev == nil {
		// Acquisition in flight; run releases the device when it lands.
		return
	}
	if err := dev.Stop(); err != nil {
		s.logger.Debug("capture device stop on destroy", zap.Error(err))
	}
	if !streaming {
		s.closeDevice(dev)
	}
}

func (s *Source) run(cfg Config) {
	defer close(s.done)

	dev, err := s.open()
	if err != nil {
		s.fail(&DeviceError{Op: "acquire", Err: err})
		return
	}

	s.mu.Lock()
	if s.state == stateDestroyed {
		s.mu.Unlock()
		s.closeDevice(dev)
		return
	}
	s.device = dev
	s.sampleRate = dev.SampleRate()
	if cfg.SegmentDuration > 0 {
		s.segmentBytes = audio.DurationToBytes(cfg.SegmentDuration, s.sampleRate)
	}
	stopEarly := s.stopRequested
	s.mu.Unlock()

	if stopEarly {
		s.closeDevice(dev)
		s.finish()
		return
	}

	if err := dev.Start(); err != nil {
		s.closeDevice(dev)
		s.fail(&DeviceError{Op: "start", Err: err})
		return
	}

	s.mu.Lock()
	if s.state == stateDestroyed {
		s.mu.Unlock()
		_ = dev.Stop()
		s.closeDevice(dev)
		return
	}
	s.state = stateRunning
	s.streaming = true
	stopEarly = s.stopRequested
	s.mu.Unlock()

	if stopEarly {
		_ = dev.Stop()
	}

	streamErr := dev.Stream(sink{s})

	s.mu.Lock()
	s.streaming = false
	destroyed := s.state == stateDestroyed
	stopped := s.stopRequested
	s.mu.Unlock()

	s.closeDevice(dev)
	switch {
	case destroyed:
	case streamErr != nil && !stopped:
		s.fail(&DeviceError{Op: "stream", Err: streamErr})
	default:
		s.finish()
	}
}

// finish emits the remainder as the final segment, then the full recording.
func (s *Source) finish() {
	s.mu.Lock()
	if s.state == stateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = stateDone
	var final *Segment
	if len(s.pending) > 0 {
		seg := s.cut(len(s.pending))
		final = &seg
	}
	full := audio.EncodeWAV(s.full, s.sampleRate)
	s.full = nil
	s.mu.Unlock()

	if final != nil {
		s.emitSegment(*final)
	}
	if fn := s.stopHandler(); fn != nil {
		fn(full)
	}
}

func (s *Source) fail(err error) {
	s.mu.Lock()
	if s.errReported || s.state == stateDestroyed {
		s.mu.Unlock()
		return
	}
	s.errReported = true
	s.state = stateFailed
	s.pending = nil
	s.full = nil
	fn := s.onError
	s.mu.Unlock()

	s.logger.Warn("capture failed", zap.Error(err))
	if fn != nil {
		fn(err)
	}
}

func (s *Source) write(p []byte) {
	s.mu.Lock()
	if s.state != stateRunning || s.paused || s.stopRequested {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, p...)
	s.full = append(s.full, p...)

	var ready []Segment
	for s.segmentBytes > 0 && len(s.pending) >= s.segmentBytes {
		ready = append(ready, s.cut(s.segmentBytes))
	}
	s.mu.Unlock()

	for _, seg := range ready {
		s.emitSegment(seg)
	}
}

// cut removes n bytes from the front of pending. Callers hold s.mu.
func (s *Source) cut(n int) Segment {
	pcm := make([]byte, n)
	copy(pcm, s.pending[:n])
	s.pending = append(s.pending[:0], s.pending[n:]...)

	seg := Segment{
		Payload: audio.EncodeWAV(pcm, s.sampleRate),
		Start:   audio.BytesToDuration(s.segStart, s.sampleRate),
		End:     audio.BytesToDuration(s.segStart+n, s.sampleRate),
	}
	s.segStart += n
	return seg
}

func (s *Source) emitSegment(seg Segment) {
	if fn := s.segmentHandler(); fn != nil {
		fn(seg)
	}
}

// segmentHandler and stopHandler return nil once the Source is destroyed.
func (s *Source) segmentHandler() func(Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateDestroyed {
		return nil
	}
	return s.onSegment
}

func (s *Source) stopHandler() func([]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateDestroyed {
		return nil
	}
	return s.onStop
}

func (s *Source) closeDevice(dev audio.Device) {
	s.closeOnce.Do(func() {
		if err := dev.Close(); err != nil {
			s.logger.Warn("capture device close failed", zap.Error(err))
		}
	})
}

type sink struct{ s *Source }

func (w sink) Write(p []byte) (int, error) {
	w.s.write(p)
	return len(p), nil
}
