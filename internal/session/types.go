package session

import "time"

// ConsultType selects which lookup flow a call runs.
type ConsultType string

const (
	ConsultUnset  ConsultType = ""
	ConsultPlate  ConsultType = "plate"
	ConsultTicket ConsultType = "ticket"
)

// ParseConsultType maps the Stasis() launch argument to a consult type. The
// Spanish names used in existing dialplans are accepted too.
func ParseConsultType(arg string) (ConsultType, bool) {
	switch arg {
	case "plate", "placa":
		return ConsultPlate, true
	case "ticket", "papeleta":
		return ConsultTicket, true
	default:
		return ConsultUnset, false
	}
}

type Phase string

const (
	PhaseInitial             Phase = "initial"
	PhaseRecording           Phase = "recording"
	PhaseWaitingConfirmation Phase = "waiting_confirmation"
	PhaseConfirmed           Phase = "confirmed"
	PhaseRejected            Phase = "rejected"
)

// Snapshot is the read-only diagnostic view of a call session.
type Snapshot struct {
	CallID          string      `json:"call_id"`
	ChannelName     string      `json:"channel_name,omitempty"`
	ConsultType     ConsultType `json:"consult_type"`
	Phase           Phase       `json:"phase"`
	ExtractedValue  string      `json:"extracted_value,omitempty"`
	RecordingHandle string      `json:"recording_handle,omitempty"`
	RetryCount      int         `json:"retry_count"`
	Awaiting        string      `json:"awaiting,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	AgeMS           int64       `json:"age_ms"`
}
