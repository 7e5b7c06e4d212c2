package ivr

import (
	"fmt"
	"time"

	"github.com/antoniostano/ivrsat/internal/session"
)

// RetryPolicy bounds recognition failures for every consult type. Manual
// rejections (digit 2) do not consume attempts.
type RetryPolicy struct {
	MaxAttempts int
	// PerType overrides MaxAttempts for a specific consult type.
	PerType map[session.ConsultType]int
}

func (p RetryPolicy) Limit(t session.ConsultType) int {
	if n, ok := p.PerType[t]; ok && n > 0 {
		return n
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 3
}

// Exhausted reports whether retryCount failures end the call for t.
func (p RetryPolicy) Exhausted(t session.ConsultType, retryCount int) bool {
	return retryCount >= p.Limit(t)
}

// RecordingName builds <type>_<callId>_<unixMillis>[_retry].
func RecordingName(t session.ConsultType, callID string, at time.Time, retry bool) string {
	name := fmt.Sprintf("%s_%s_%d", t, callID, at.UnixMilli())
	if retry {
		name += "_retry"
	}
	return name
}
