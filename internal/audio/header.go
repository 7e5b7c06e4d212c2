package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavHeaderSize = 44
	formatPCM     = 1
)

var (
	// ErrNotWAV is returned for payloads without a RIFF/WAVE signature.
	ErrNotWAV = errors.New("audio: not a wav payload")
	// ErrMalformedWAV is returned when a RIFF/WAVE payload has unusable chunks.
	ErrMalformedWAV = errors.New("audio: malformed wav payload")
)

// WAVHeader is the subset of the fmt and data chunks needed to time playback.
type WAVHeader struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	// DataSize is the number of audio bytes actually present, which can be
	// smaller than the declared chunk size for truncated streams.
	DataSize int
}

// BytesPerSecond is the decoded byte rate implied by the header fields.
func (h WAVHeader) BytesPerSecond() int {
	return int(h.SampleRate) * int(h.Channels) * int(h.BitsPerSample/8)
}

func IsWAV(b []byte) bool {
	return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WAVE"))
}

// ParseWAVHeader walks the RIFF chunk list until it has seen both the fmt and
// data chunks. Unknown chunks (LIST, fact, ...) are skipped.
func ParseWAVHeader(b []byte) (WAVHeader, error) {
	if !IsWAV(b) {
		return WAVHeader{}, ErrNotWAV
	}

	var (
		h       WAVHeader
		haveFmt bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if size < 0 {
			return WAVHeader{}, fmt.Errorf("%w: negative chunk size", ErrMalformedWAV)
		}

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return WAVHeader{}, fmt.Errorf("%w: short fmt chunk", ErrMalformedWAV)
			}
			h.AudioFormat = binary.LittleEndian.Uint16(b[body : body+2])
			h.Channels = binary.LittleEndian.Uint16(b[body+2 : body+4])
			h.SampleRate = binary.LittleEndian.Uint32(b[body+4 : body+8])
			h.BitsPerSample = binary.LittleEndian.Uint16(b[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVHeader{}, fmt.Errorf("%w: data chunk before fmt", ErrMalformedWAV)
			}
			h.DataSize = min(size, len(b)-body)
			if h.Channels == 0 || h.SampleRate == 0 || h.BitsPerSample < 8 {
				return WAVHeader{}, fmt.Errorf("%w: zero channels, rate or depth", ErrMalformedWAV)
			}
			return h, nil
		}

		// Chunks are word aligned.
		off = body + size + size%2
	}
	return WAVHeader{}, fmt.Errorf("%w: missing fmt or data chunk", ErrMalformedWAV)
}
