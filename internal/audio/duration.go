package audio

import (
	"errors"
	"time"
)

const (
	// DefaultSampleRate is assumed for headerless PCM16 mono payloads.
	DefaultSampleRate = 16000
	// FallbackBytesPerSecond times payloads whose header could not be parsed.
	FallbackBytesPerSecond = 32000
)

// EstimateDuration returns how long payload takes to play. It reads the WAV
// header when present, assumes PCM16 mono at DefaultSampleRate for headerless
// audio, and falls back to FallbackBytesPerSecond for malformed headers.
// Resampling done by the playback server does not change the result.
func EstimateDuration(payload []byte) time.Duration {
	if len(payload) == 0 {
		return 0
	}
	h, err := ParseWAVHeader(payload)
	switch {
	case err == nil:
		return bytesToDuration(h.DataSize, h.BytesPerSecond())
	case errors.Is(err, ErrNotWAV):
		return bytesToDuration(len(payload), DefaultSampleRate*2)
	default:
		return bytesToDuration(len(payload), FallbackBytesPerSecond)
	}
}

func bytesToDuration(n, perSecond int) time.Duration {
	if perSecond <= 0 {
		perSecond = FallbackBytesPerSecond
	}
	return time.Duration(float64(n) / float64(perSecond) * float64(time.Second)).Round(time.Millisecond)
}
