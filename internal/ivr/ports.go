package ivr

import (
	"context"
	"time"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/session"
)

// CallControl issues commands against live channels. Every method returns
// once the server has accepted the command, not when it completes.
type CallControl interface {
	StartRecording(ctx context.Context, channelID, name string) error
	PlayAudio(ctx context.Context, channelID string, audio []byte) error
	ContinueInDialplan(ctx context.Context, channelID string, loc ari.Location) error
	FetchRecording(ctx context.Context, name string) ([]byte, error)
}

// Recognition is the outcome of turning a recorded utterance into a
// candidate value plus the spoken confirmation prompt for it.
type Recognition struct {
	Success           bool
	Value             string
	ConfirmationAudio []byte
}

// Facade hides the speech service and the result back end.
type Facade interface {
	RecognizeAndPromptConfirmation(ctx context.Context, audio []byte, consult session.ConsultType) (Recognition, error)
	QueryResult(ctx context.Context, value string, consult session.ConsultType) ([]byte, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Timer interface {
	Stop() bool
}

// Clock schedules the settle, retry and playback waits.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }
