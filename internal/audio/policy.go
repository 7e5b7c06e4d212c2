package audio

import "time"

// PlaybackPolicy turns an estimated clip duration into the time the engine
// waits before advancing a call.
type PlaybackPolicy struct {
	// SafetyMargin is added after result and terminal announcements.
	SafetyMargin time.Duration
	// RetryPad is added after the short prompts that precede a new recording.
	RetryPad time.Duration
	// MaxWait caps every wait.
	MaxWait time.Duration
}

func DefaultPlaybackPolicy() PlaybackPolicy {
	return PlaybackPolicy{
		SafetyMargin: 3 * time.Second,
		RetryPad:     500 * time.Millisecond,
		MaxWait:      30 * time.Second,
	}
}

// Wait returns min(d + SafetyMargin, MaxWait).
func (p PlaybackPolicy) Wait(d time.Duration) time.Duration {
	return p.clamp(d + p.SafetyMargin)
}

// RetryWait returns min(d + RetryPad, MaxWait).
func (p PlaybackPolicy) RetryWait(d time.Duration) time.Duration {
	return p.clamp(d + p.RetryPad)
}

// WaitFor estimates payload's duration and applies Wait.
func (p PlaybackPolicy) WaitFor(payload []byte) time.Duration {
	return p.Wait(EstimateDuration(payload))
}

// RetryWaitFor estimates payload's duration and applies RetryWait.
func (p PlaybackPolicy) RetryWaitFor(payload []byte) time.Duration {
	return p.RetryWait(EstimateDuration(payload))
}

func (p PlaybackPolicy) clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxWait > 0 && d > p.MaxWait {
		return p.MaxWait
	}
	return d
}
