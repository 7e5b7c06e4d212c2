package ivr

import (
	"testing"
	"time"

	"github.com/antoniostano/ivrsat/internal/session"
)

func TestRetryPolicyLimits(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, PerType: map[session.ConsultType]int{session.ConsultTicket: 2}}
	tests := []struct {
		consult session.ConsultType
		count   int
		want    bool
	}{
		{session.ConsultPlate, 2, false},
		{session.ConsultPlate, 3, true},
		{session.ConsultTicket, 1, false},
		{session.ConsultTicket, 2, true},
	}
	for _, tc := range tests {
		if got := p.Exhausted(tc.consult, tc.count); got != tc.want {
			t.Fatalf("Exhausted(%s, %d) = %v, want %v", tc.consult, tc.count, got, tc.want)
		}
	}
	if got := (RetryPolicy{}).Limit(session.ConsultPlate); got != 3 {
		t.Fatalf("zero policy Limit() = %d, want 3", got)
	}
}

func TestRecordingName(t *testing.T) {
	at := time.UnixMilli(1709632800123)
	if got := RecordingName(session.ConsultPlate, "c1", at, false); got != "plate_c1_1709632800123" {
		t.Fatalf("RecordingName() = %q", got)
	}
	if got := RecordingName(session.ConsultTicket, "c1", at, true); got != "ticket_c1_1709632800123_retry" {
		t.Fatalf("RecordingName(retry) = %q", got)
	}
}
