package audio

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ErrNoDevice is returned when no sample rate candidate could be opened.
var ErrNoDevice = errors.New("no capture device available")

// Device is a mono PCM16-LE capture stream. Stream blocks, writing captured
// audio to w, until Stop is called or the device fails; a Stream that ends
// because of Stop returns nil.
type Device interface {
	Start() error
	Stop() error
	Stream(w io.Writer) error
	Close() error
	SampleRate() int
}

// Opener opens a device at a specific sample rate.
type Opener func(sampleRate int) (Device, error)

// DeviceFactory acquires a ready-to-start device.
type DeviceFactory func() (Device, error)

// FallbackFactory returns a factory that tries each sample rate in order and
// keeps the first device that opens.
func FallbackFactory(open Opener, rates []int, logger *zap.Logger) DeviceFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func() (Device, error) {
		var lastErr error
		for _, rate := range rates {
			dev, err := open(rate)
			if err != nil {
				logger.Warn("microphone open failed", zap.Int("sample_rate", rate), zap.Error(err))
				lastErr = err
				continue
			}
			logger.Info("microphone opened", zap.Int("sample_rate", rate))
			return dev, nil
		}
		if lastErr == nil {
			return nil, ErrNoDevice
		}
		return nil, fmt.Errorf("%w: %w", ErrNoDevice, lastErr)
	}
}
