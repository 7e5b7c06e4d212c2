package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/ivr"
	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/protocol"
	"github.com/antoniostano/ivrsat/internal/session"
	"github.com/antoniostano/ivrsat/internal/speech"
)

// ARI is the subset of the Asterisk REST client exposed for diagnostics.
type ARI interface {
	Channels(ctx context.Context) ([]protocol.Channel, error)
	Bridges(ctx context.Context) ([]ari.Bridge, error)
	Endpoints(ctx context.Context) ([]ari.Endpoint, error)
	AsteriskInfo(ctx context.Context) (json.RawMessage, error)
	Record(ctx context.Context, channelID string, p ari.RecordParams) (protocol.LiveRecording, error)
	Play(ctx context.Context, channelID, media string) (ari.Playback, error)
	Snoop(ctx context.Context, channelID, spy, whisper string) (protocol.Channel, error)
	Hangup(ctx context.Context, channelID string) error
}

type Connection interface {
	State() ari.ConnectionState
}

// IVR is the recognition and announcement service behind the /v1/ivr routes.
type IVR interface {
	RecognizeAndPromptConfirmation(ctx context.Context, audio []byte, consult session.ConsultType) (ivr.Recognition, error)
	PlateSummary(ctx context.Context, plate string) ([]byte, error)
	TicketSummary(ctx context.Context, number string) ([]byte, error)
	DebtSummary(ctx context.Context, code, kind string) ([]byte, error)
	ConfirmCode(ctx context.Context, code string) ([]byte, error)
	ClassifyAnswer(ctx context.Context, audio []byte) (speech.Answer, error)
}

type Options struct {
	Sessions   *session.Store
	ARI        ARI
	Connection Connection
	IVR        IVR
	Metrics    *observability.Metrics
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// RequestTimeout bounds each upstream call made by a handler.
	RequestTimeout time.Duration
}

type Server struct {
	sessions   *session.Store
	ari        ARI
	connection Connection
	ivr        IVR
	metrics    *observability.Metrics
	metricsH   http.Handler
	logger     *zap.Logger
	timeout    time.Duration
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metricsH := observability.MetricsHandler()
	if opts.Gatherer != nil {
		metricsH = observability.MetricsHandlerFor(opts.Gatherer)
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		sessions:   opts.Sessions,
		ari:        opts.ARI,
		connection: opts.Connection,
		ivr:        opts.IVR,
		metrics:    opts.Metrics,
		metricsH:   metricsH,
		logger:     logger.With(zap.String("component", "httpapi")),
		timeout:    timeout,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", s.metricsH)

	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/ivr/stats", s.handleStats)

	r.Route("/v1/ari", func(r chi.Router) {
		r.Use(s.requireARI)
		r.Get("/info", s.handleAsteriskInfo)
		r.Get("/channels", s.handleListChannels)
		r.Get("/bridges", s.handleListBridges)
		r.Get("/endpoints", s.handleListEndpoints)
		r.Post("/channels/{id}/record", s.handleRecordChannel)
		r.Post("/channels/{id}/play", s.handlePlayChannel)
		r.Post("/channels/{id}/snoop", s.handleSnoopChannel)
		r.Delete("/channels/{id}", s.handleHangupChannel)
	})

	r.Route("/v1/ivr", func(r chi.Router) {
		r.Use(s.requireIVR)
		r.Post("/recognize/{consult}", s.handleRecognize)
		r.Post("/answer", s.handleClassifyAnswer)
		r.Get("/plates/{plate}/result", s.handlePlateResult)
		r.Get("/tickets/{ticket}/result", s.handleTicketResult)
		r.Get("/debts/{code}/type/{kind}", s.handleDebtResult)
		r.Get("/debts/{code}/type/{kind}/confirm", s.handleDebtConfirm)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	active := 0
	if s.sessions != nil {
		active = s.sessions.Len()
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_calls": active,
	})
}

// handleReady reports ready only while the events websocket is up; without
// it no call can be driven.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.connection == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	state := s.connection.State()
	status, code := "ready", http.StatusOK
	if !state.Connected {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status": status,
		"ari":    state,
	})
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	calls := []session.Snapshot{}
	if s.sessions != nil {
		calls = append(calls, s.sessions.Snapshots()...)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count": len(calls),
		"calls": calls,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

func (s *Server) requireARI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ari == nil {
			respondError(w, http.StatusNotImplemented, "unavailable", "ari client not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireIVR(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ivr == nil {
			respondError(w, http.StatusNotImplemented, "unavailable", "ivr services not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) upstreamContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// respondUpstreamError maps a failed ARI or provider call onto an HTTP answer.
func (s *Server) respondUpstreamError(w http.ResponseWriter, op string, err error) {
	var se *ari.StatusError
	switch {
	case ari.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500:
		respondError(w, se.StatusCode, "ari_rejected", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "upstream_timeout", err.Error())
	default:
		s.logger.Warn("upstream call failed", zap.String("op", op), zap.Error(err))
		respondError(w, http.StatusBadGateway, "upstream_failed", err.Error())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty request body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondAudio(w http.ResponseWriter, filename string, audio []byte) {
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}
