// Package ivr runs the plate/ticket voice menu. A single dispatcher goroutine
// owns every call transition; slow work (ARI commands, speech, back-end
// queries) runs elsewhere and re-enters the dispatcher as a continuation
// keyed by call id and the step the call is waiting on.
package ivr

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/audio"
	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/protocol"
	"github.com/antoniostano/ivrsat/internal/session"
)

// PromptTexts are the fixed announcements synthesized on demand.
type PromptTexts struct {
	NotUnderstood string
	Retry         string
	MaxAttempts   string
}

type Config struct {
	Retry       RetryPolicy
	SettleDelay time.Duration
	Playback    audio.PlaybackPolicy
	// Exit is where finished calls resume in the dialplan.
	Exit    ari.Location
	Prompts PromptTexts
	// OpTimeout bounds each external operation.
	OpTimeout time.Duration
	InboxSize int
}

func DefaultConfig() Config {
	return Config{
		Retry:       RetryPolicy{MaxAttempts: 3},
		SettleDelay: time.Second,
		Playback:    audio.DefaultPlaybackPolicy(),
		Exit:        ari.Location{Context: "retornoivr", Extension: "s", Priority: 1},
		Prompts: PromptTexts{
			NotUnderstood: "No se pudo entender, por favor, intente de nuevo",
			Retry:         "Por favor, intente de nuevo",
			MaxAttempts:   "Se alcanzó el número máximo de intentos",
		},
		OpTimeout: 30 * time.Second,
		InboxSize: 256,
	}
}

type Deps struct {
	Control CallControl
	Facade  Facade
	Store   *session.Store
	Clock   Clock
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Spawn runs external work; nil means one goroutine per operation.
	Spawn func(func())
}

// Engine is the event dispatcher and per-call state machine.
type Engine struct {
	cfg     Config
	control CallControl
	facade  Facade
	store   *session.Store
	clock   Clock
	logger  *zap.Logger
	metrics *observability.Metrics
	spawn   func(func())

	inbox    chan any
	stopped  chan struct{}
	stopOnce sync.Once

	// timers holds each call's pending wait; owned by the dispatcher.
	timers map[string]pendingTimer

	ctxMu   sync.RWMutex
	baseCtx context.Context
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Control == nil || deps.Facade == nil || deps.Store == nil {
		return nil, errors.New("ivr engine requires call control, facade and session store")
	}
	def := DefaultConfig()
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.Playback.MaxWait <= 0 {
		cfg.Playback = def.Playback
	}
	if cfg.Exit.IsZero() {
		cfg.Exit = def.Exit
	}
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Spawn == nil {
		deps.Spawn = func(f func()) { go f() }
	}
	return &Engine{
		cfg:     cfg,
		control: deps.Control,
		facade:  deps.Facade,
		store:   deps.Store,
		clock:   deps.Clock,
		logger:  deps.Logger.With(zap.String("component", "ivr_engine")),
		metrics: deps.Metrics,
		spawn:   deps.Spawn,
		inbox:   make(chan any, cfg.InboxSize),
		stopped: make(chan struct{}),
		timers:  make(map[string]pendingTimer),
		baseCtx: context.Background(),
	}, nil
}

// HandleEvent queues an inbound ARI event. It satisfies ari.Handler.
func (e *Engine) HandleEvent(ev protocol.Event) {
	e.post(ev)
}

// Run dispatches queued events and continuations until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.ctxMu.Lock()
	e.baseCtx = ctx
	e.ctxMu.Unlock()
	defer e.stopOnce.Do(func() { close(e.stopped) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-e.inbox:
			e.dispatch(msg)
		}
	}
}

func (e *Engine) post(msg any) {
	select {
	case e.inbox <- msg:
	case <-e.stopped:
	}
}

func (e *Engine) opContext() (context.Context, context.CancelFunc) {
	e.ctxMu.RLock()
	base := e.baseCtx
	e.ctxMu.RUnlock()
	return context.WithTimeout(base, e.cfg.OpTimeout)
}

func (e *Engine) dispatch(msg any) {
	switch m := msg.(type) {
	case continuation:
		e.resume(m)
	case protocol.CallStart:
		e.onCallStart(m)
	case protocol.CallEnd:
		e.onCallEnd(m)
	case protocol.RecordingFinished:
		e.onRecordingFinished(m)
	case protocol.RecordingFailed:
		e.onRecordingFailed(m)
	case protocol.DTMFReceived:
		e.onDigit(m)
	case protocol.Event:
		e.logger.Debug("ignoring ari event", zap.String("type", string(m.Kind())))
	default:
		e.logger.Warn("unknown dispatcher message")
	}
}
