package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventType identifies ARI event payload variants.
type EventType string

const (
	TypeStasisStart         EventType = "StasisStart"
	TypeStasisEnd           EventType = "StasisEnd"
	TypeRecordingFinished   EventType = "RecordingFinished"
	TypeRecordingFailed     EventType = "RecordingFailed"
	TypeChannelDtmfReceived EventType = "ChannelDtmfReceived"
)

var ErrInvalidEvent = errors.New("invalid ari event")

// Event is the closed set of inbound call-control events. Anything that does
// not parse into one of these is rejected at the connection boundary.
type Event interface {
	Kind() EventType
}

type Envelope struct {
	Type        EventType `json:"type"`
	Application string    `json:"application"`
	Timestamp   string    `json:"timestamp"`
}

type Channel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Caller struct {
		Name   string `json:"name"`
		Number string `json:"number"`
	} `json:"caller"`
}

type LiveRecording struct {
	Name      string `json:"name"`
	Format    string `json:"format"`
	State     string `json:"state"`
	TargetURI string `json:"target_uri"`
	Duration  int    `json:"duration"`
	Cause     string `json:"cause"`
}

// CallStart is StasisStart: a channel entered the application with the
// dialplan's Stasis() arguments.
type CallStart struct {
	ChannelID   string
	ChannelName string
	CallerID    string
	Args        []string
	At          time.Time
}

// CallEnd is StasisEnd: the channel left the application (hangup or continue).
type CallEnd struct {
	ChannelID string
	At        time.Time
}

type RecordingFinished struct {
	RecordingName string
	TargetURI     string
	Duration      time.Duration
	At            time.Time
}

// RecordingFailed means Asterisk gave up on a live recording.
type RecordingFailed struct {
	RecordingName string
	Cause         string
	At            time.Time
}

type DTMFReceived struct {
	ChannelID string
	Digit     string
	At        time.Time
}

// Unhandled carries any well-formed event whose type the IVR does not act on.
type Unhandled struct {
	Type EventType
	At   time.Time
}

func (CallStart) Kind() EventType         { return TypeStasisStart }
func (CallEnd) Kind() EventType           { return TypeStasisEnd }
func (RecordingFinished) Kind() EventType { return TypeRecordingFinished }
func (RecordingFailed) Kind() EventType   { return TypeRecordingFailed }
func (DTMFReceived) Kind() EventType      { return TypeChannelDtmfReceived }
func (u Unhandled) Kind() EventType       { return u.Type }

type stasisStart struct {
	Args    []string `json:"args"`
	Channel Channel  `json:"channel"`
}

type stasisEnd struct {
	Channel Channel `json:"channel"`
}

type recordingFinished struct {
	Recording LiveRecording `json:"recording"`
}

type dtmfReceived struct {
	Digit   string  `json:"digit"`
	Channel Channel `json:"channel"`
}

// ParseEvent decodes one websocket frame from the ARI events stream.
func ParseEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	at := parseTimestamp(env.Timestamp)

	switch env.Type {
	case TypeStasisStart:
		var msg stasisStart
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Channel.ID == "" {
			return nil, fmt.Errorf("%w: StasisStart without channel id", ErrInvalidEvent)
		}
		return CallStart{
			ChannelID:   msg.Channel.ID,
			ChannelName: msg.Channel.Name,
			CallerID:    msg.Channel.Caller.Number,
			Args:        msg.Args,
			At:          at,
		}, nil
	case TypeStasisEnd:
		var msg stasisEnd
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Channel.ID == "" {
			return nil, fmt.Errorf("%w: StasisEnd without channel id", ErrInvalidEvent)
		}
		return CallEnd{ChannelID: msg.Channel.ID, At: at}, nil
	case TypeRecordingFinished:
		var msg recordingFinished
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Recording.Name == "" {
			return nil, fmt.Errorf("%w: RecordingFinished without name", ErrInvalidEvent)
		}
		return RecordingFinished{
			RecordingName: msg.Recording.Name,
			TargetURI:     msg.Recording.TargetURI,
			Duration:      time.Duration(msg.Recording.Duration) * time.Second,
			At:            at,
		}, nil
	case TypeRecordingFailed:
		var msg recordingFinished
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Recording.Name == "" {
			return nil, fmt.Errorf("%w: RecordingFailed without name", ErrInvalidEvent)
		}
		return RecordingFailed{RecordingName: msg.Recording.Name, Cause: msg.Recording.Cause, At: at}, nil
	case TypeChannelDtmfReceived:
		var msg dtmfReceived
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Channel.ID == "" || msg.Digit == "" {
			return nil, fmt.Errorf("%w: ChannelDtmfReceived without channel or digit", ErrInvalidEvent)
		}
		return DTMFReceived{ChannelID: msg.Channel.ID, Digit: msg.Digit, At: at}, nil
	default:
		return Unhandled{Type: env.Type, At: at}, nil
	}
}

func parseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	// Asterisk emits "2006-01-02T15:04:05.000-0700".
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
