package audio

import (
	"fmt"
	"io"
	"sync/atomic"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
)

// DeepgramDevice captures through the Deepgram SDK microphone helper.
type DeepgramDevice struct {
	mic        *microphone.Microphone
	sampleRate int
	stopped    atomic.Bool
}

// InitDeepgram initializes the SDK's audio backend.
func InitDeepgram() { microphone.Initialize() }

// TeardownDeepgram releases the SDK's audio backend.
func TeardownDeepgram() { microphone.Teardown() }

// OpenDeepgram opens a mono Deepgram microphone at sampleRate.
func OpenDeepgram(sampleRate int) (Device, error) {
	mic, err := microphone.New(microphone.AudioConfig{InputChannels: Channels, SamplingRate: float32(sampleRate)})
	if err != nil {
		return nil, fmt.Errorf("open deepgram microphone at %d Hz: %w", sampleRate, err)
	}
	return &DeepgramDevice{mic: mic, sampleRate: sampleRate}, nil
}

func (d *DeepgramDevice) SampleRate() int { return d.sampleRate }

func (d *DeepgramDevice) Start() error {
	d.stopped.Store(false)
	return d.mic.Start()
}

func (d *DeepgramDevice) Stop() error {
	if d.stopped.Swap(true) {
		return nil
	}
	return d.mic.Stop()
}

func (d *DeepgramDevice) Stream(w io.Writer) error {
	err := d.mic.Stream(w)
	if d.stopped.Load() {
		return nil
	}
	return err
}

// Close is a no-op: the SDK releases the stream in Stop.
func (d *DeepgramDevice) Close() error { return nil }
