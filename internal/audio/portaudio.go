package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const defaultFramesPerBuffer = 1024

// PortAudioDevice reads the default input device through PortAudio.
type PortAudioDevice struct {
	stream     *portaudio.Stream
	buf        []int16
	sampleRate int

	stopped   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// InitPortAudio must be called once before opening PortAudio devices.
func InitPortAudio() error { return portaudio.Initialize() }

// TerminatePortAudio releases the PortAudio library.
func TerminatePortAudio() error { return portaudio.Terminate() }

// OpenPortAudio opens a mono capture stream at sampleRate.
func OpenPortAudio(sampleRate int) (Device, error) {
	buf := make([]int16, defaultFramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(Channels, 0, float64(sampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open portaudio stream at %d Hz: %w", sampleRate, err)
	}
	return &PortAudioDevice{stream: stream, buf: buf, sampleRate: sampleRate}, nil
}

func (d *PortAudioDevice) SampleRate() int { return d.sampleRate }

func (d *PortAudioDevice) Start() error {
	d.stopped.Store(false)
	return d.stream.Start()
}

func (d *PortAudioDevice) Stop() error {
	if d.stopped.Swap(true) {
		return nil
	}
	return d.stream.Stop()
}

// Stream reads from the mic and writes PCM16-LE to w until an error or stop.
func (d *PortAudioDevice) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(d.buf) * BytesPerSample)
	for {
		if err := d.stream.Read(); err != nil {
			if d.stopped.Load() {
				return nil
			}
			return err
		}
		if d.stopped.Load() {
			return nil
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, d.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}

func (d *PortAudioDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.stream.Close()
	})
	return d.closeErr
}
