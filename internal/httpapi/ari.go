package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/antoniostano/ivrsat/internal/ari"
)

type recordRequest struct {
	Name               string `json:"name"`
	Format             string `json:"format"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
	MaxSilenceSeconds  int    `json:"max_silence_seconds"`
	Beep               bool   `json:"beep"`
	IfExists           string `json:"if_exists"`
	TerminateOn        string `json:"terminate_on"`
}

type playRequest struct {
	Media string `json:"media"`
}

type snoopRequest struct {
	Spy     string `json:"spy"`
	Whisper string `json:"whisper"`
}

func (s *Server) handleAsteriskInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	info, err := s.ari.AsteriskInfo(ctx)
	if err != nil {
		s.respondUpstreamError(w, "asterisk_info", err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	channels, err := s.ari.Channels(ctx)
	if err != nil {
		s.respondUpstreamError(w, "channels", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": len(channels), "channels": channels})
}

func (s *Server) handleListBridges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	bridges, err := s.ari.Bridges(ctx)
	if err != nil {
		s.respondUpstreamError(w, "bridges", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": len(bridges), "bridges": bridges})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	endpoints, err := s.ari.Endpoints(ctx)
	if err != nil {
		s.respondUpstreamError(w, "endpoints", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"count": len(endpoints), "endpoints": endpoints})
}

func (s *Server) handleRecordChannel(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "diag_" + uuid.NewString()
	}
	if req.MaxDurationSeconds <= 0 {
		req.MaxDurationSeconds = 10
	}
	params := ari.RecordParams{
		Name:        req.Name,
		Format:      req.Format,
		MaxDuration: time.Duration(req.MaxDurationSeconds) * time.Second,
		MaxSilence:  time.Duration(req.MaxSilenceSeconds) * time.Second,
		Beep:        req.Beep,
		IfExists:    req.IfExists,
		TerminateOn: req.TerminateOn,
	}

	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	rec, err := s.ari.Record(ctx, chi.URLParam(r, "id"), params)
	if err != nil {
		s.respondUpstreamError(w, "record", err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePlayChannel(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	media := strings.TrimSpace(req.Media)
	if media == "" {
		respondError(w, http.StatusBadRequest, "missing_media", "media is required")
		return
	}
	if !strings.Contains(media, ":") {
		media = "sound:" + media
	}

	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	pb, err := s.ari.Play(ctx, chi.URLParam(r, "id"), media)
	if err != nil {
		s.respondUpstreamError(w, "play", err)
		return
	}
	respondJSON(w, http.StatusCreated, pb)
}

func (s *Server) handleSnoopChannel(w http.ResponseWriter, r *http.Request) {
	var req snoopRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Spy == "" {
		req.Spy = "both"
	}

	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	ch, err := s.ari.Snoop(ctx, chi.URLParam(r, "id"), req.Spy, req.Whisper)
	if err != nil {
		s.respondUpstreamError(w, "snoop", err)
		return
	}
	respondJSON(w, http.StatusCreated, ch)
}

func (s *Server) handleHangupChannel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	if err := s.ari.Hangup(ctx, chi.URLParam(r, "id")); err != nil {
		s.respondUpstreamError(w, "hangup", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
