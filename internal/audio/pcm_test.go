package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationRoundTrip(t *testing.T) {
	n := DurationToBytes(time.Second, 16000)
	assert.Equal(t, 32000, n)
	assert.Equal(t, time.Second, BytesToDuration(n, 16000))
	assert.Equal(t, 250*time.Millisecond, BytesToDuration(8000, 16000))
}

func TestDurationToBytesIsFrameAligned(t *testing.T) {
	n := DurationToBytes(time.Millisecond/3, 44100)
	assert.Equal(t, 0, n%(Channels*BytesPerSample))
	assert.Positive(t, n)
	assert.Zero(t, DurationToBytes(0, 44100))
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	wav := EncodeWAV(pcm, 16000)

	require.Len(t, wav, wavHeaderSize+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, PCMFromWAV(wav))
}

type stubDevice struct{ rate int }

func (s *stubDevice) Start() error             { return nil }
func (s *stubDevice) Stop() error              { return nil }
func (s *stubDevice) Stream(_ io.Writer) error { return nil }
func (s *stubDevice) Close() error             { return nil }
func (s *stubDevice) SampleRate() int          { return s.rate }

func TestFallbackFactoryTriesRatesInOrder(t *testing.T) {
	var tried []int
	open := func(rate int) (Device, error) {
		tried = append(tried, rate)
		return nil, errors.New("unsupported")
	}

	_, err := FallbackFactory(open, []int{48000, 16000}, nil)()
	require.ErrorIs(t, err, ErrNoDevice)
	assert.Equal(t, []int{48000, 16000}, tried)
}

func TestFallbackFactoryKeepsFirstWorkingRate(t *testing.T) {
	open := func(rate int) (Device, error) {
		if rate == 48000 {
			return nil, errors.New("unsupported")
		}
		return &stubDevice{rate: rate}, nil
	}

	dev, err := FallbackFactory(open, []int{48000, 16000, 8000}, nil)()
	require.NoError(t, err)
	assert.Equal(t, 16000, dev.SampleRate())
}
