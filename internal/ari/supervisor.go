package ari

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/protocol"
	"github.com/antoniostano/ivrsat/internal/redact"
	"github.com/antoniostano/ivrsat/internal/reliability"
)

// Handler receives every event parsed off the control connection, in order.
type Handler interface {
	HandleEvent(protocol.Event)
}

type HandlerFunc func(protocol.Event)

func (f HandlerFunc) HandleEvent(ev protocol.Event) { f(ev) }

// ConnectionState is a snapshot of the control connection.
type ConnectionState struct {
	Connected      bool      `json:"connected"`
	Attempts       int       `json:"attempts"`
	Reconnects     int64     `json:"reconnects"`
	ConnectedAt    time.Time `json:"connected_at,omitempty"`
	DisconnectedAt time.Time `json:"disconnected_at,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
}

type SupervisorConfig struct {
	Dial              DialFunc
	Handler           Handler
	Backoff           *reliability.ReconnectBackoff
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
	Metrics           *observability.Metrics
	// Sleep waits between reconnect attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Supervisor owns the events connection: it dials, pings, parses and
// forwards frames, and reconnects with backoff whenever the stream drops.
type Supervisor struct {
	dial      DialFunc
	handler   Handler
	backoff   *reliability.ReconnectBackoff
	heartbeat time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	sleep     func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	state ConnectionState
}

func NewSupervisor(cfg SupervisorConfig) (*Supervisor, error) {
	if cfg.Dial == nil {
		return nil, errors.New("supervisor dial func is required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("supervisor handler is required")
	}
	if cfg.Backoff == nil {
		cfg.Backoff = reliability.NewReconnectBackoff(0, 0, 0)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Supervisor{
		dial:      cfg.Dial,
		handler:   cfg.Handler,
		backoff:   cfg.Backoff,
		heartbeat: cfg.HeartbeatInterval,
		logger:    cfg.Logger.With(zap.String("component", "ari_supervisor")),
		metrics:   cfg.Metrics,
		sleep:     cfg.Sleep,
	}, nil
}

func (s *Supervisor) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Run keeps the connection alive until ctx is cancelled. It never gives up.
func (s *Supervisor) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		stream, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.markDown(err)
			if !s.waitReconnect(ctx) {
				break
			}
			continue
		}

		s.markUp()
		err = s.serve(ctx, stream)
		s.markDown(err)
		if ctx.Err() != nil || !s.waitReconnect(ctx) {
			break
		}
	}
	s.mu.Lock()
	s.state.Connected = false
	s.mu.Unlock()
	s.metrics.SetARIConnected(false)
	return nil
}

func (s *Supervisor) serve(ctx context.Context, stream EventStream) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()
	go s.keepAlive(stream, done)

	for {
		raw, err := stream.ReadMessage()
		if err != nil {
			_ = stream.Close()
			return err
		}
		ev, err := protocol.ParseEvent(raw)
		if err != nil {
			s.logger.Warn("dropping unparseable ari event", zap.Error(err), zap.Int("bytes", len(raw)))
			continue
		}
		s.metrics.ARIEvent(string(ev.Kind()))
		s.handler.HandleEvent(ev)
	}
}

// keepAlive pings on every heartbeat tick. A failed ping, or a peer that has
// stayed silent for two heartbeats, closes the stream, which ends serve and
// triggers a reconnect.
func (s *Supervisor) keepAlive(stream EventStream, done <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if silent := time.Since(stream.LastActivity()); silent > 2*s.heartbeat {
				s.logger.Warn("ari peer stopped answering heartbeats", zap.Duration("silent", silent))
				_ = stream.Close()
				return
			}
			if err := stream.Ping(5 * time.Second); err != nil {
				s.logger.Warn("ari heartbeat failed", zap.Error(err))
				_ = stream.Close()
				return
			}
		}
	}
}

func (s *Supervisor) waitReconnect(ctx context.Context) bool {
	delay := s.backoff.Next()

	s.mu.Lock()
	s.state.Attempts = s.backoff.Attempts()
	s.state.Reconnects++
	s.mu.Unlock()
	s.metrics.ARIReconnect()

	s.logger.Info("ari reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", s.backoff.Attempts()),
	)
	return s.sleep(ctx, delay) == nil
}

func (s *Supervisor) markUp() {
	s.backoff.Reset()
	s.mu.Lock()
	s.state.Connected = true
	s.state.Attempts = 0
	s.state.ConnectedAt = time.Now().UTC()
	s.state.LastError = ""
	s.mu.Unlock()
	s.metrics.SetARIConnected(true)
	s.logger.Info("ari events connected")
}

func (s *Supervisor) markDown(err error) {
	s.mu.Lock()
	wasUp := s.state.Connected
	s.state.Connected = false
	s.state.DisconnectedAt = time.Now().UTC()
	reason := redact.Error(err)
	if err != nil {
		s.state.LastError = reason
	}
	s.mu.Unlock()
	s.metrics.SetARIConnected(false)
	if wasUp {
		s.logger.Warn("ari events disconnected", zap.String("error", reason))
	} else {
		s.logger.Warn("ari events dial failed", zap.String("error", reason))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
