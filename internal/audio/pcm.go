package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

const (
	DefaultSampleRate = 16000
	Channels          = 1
	BitDepth          = 16
	BytesPerSample    = BitDepth / 8
	wavHeaderSize     = 44
)

// BytesPerSecond is the PCM byte rate for mono 16-bit audio at sampleRate.
func BytesPerSecond(sampleRate int) int {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return sampleRate * Channels * BytesPerSample
}

// BytesToDuration converts a PCM byte count to the audio time it spans.
func BytesToDuration(n, sampleRate int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(BytesPerSecond(sampleRate)))
}

// DurationToBytes converts d to a frame-aligned PCM byte count.
func DurationToBytes(d time.Duration, sampleRate int) int {
	if d <= 0 {
		return 0
	}
	raw := int(int64(d) * int64(BytesPerSecond(sampleRate)) / int64(time.Second))
	frame := Channels * BytesPerSample
	raw -= raw % frame
	if raw < frame {
		raw = frame
	}
	return raw
}

// EncodeWAV frames raw PCM16-LE mono samples as a RIFF/WAVE file.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	writeWAVHeader(buf, len(pcm), sampleRate)
	buf.Write(pcm)
	return buf.Bytes()
}

// PCMFromWAV strips the canonical 44-byte header written by EncodeWAV.
func PCMFromWAV(wav []byte) []byte {
	if len(wav) < wavHeaderSize {
		return nil
	}
	return wav[wavHeaderSize:]
}

func writeWAVHeader(buf *bytes.Buffer, dataSize, sampleRate int) {
	byteRate := sampleRate * Channels * BytesPerSample
	blockAlign := Channels * BytesPerSample

	// bytes.Buffer writes never fail.
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(BitDepth))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataSize))
}
