package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/ivrsat/internal/session"
)

const maxUploadBytes = 8 << 20

var errMissingAudio = errors.New("multipart field audio is required")

func (s *Server) handleRecognize(w http.ResponseWriter, r *http.Request) {
	consult, ok := session.ParseConsultType(chi.URLParam(r, "consult"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown_consult", "consult must be plate or ticket")
		return
	}
	audio, err := readUpload(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}

	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	rec, err := s.ivr.RecognizeAndPromptConfirmation(ctx, audio, consult)
	if err != nil {
		s.respondUpstreamError(w, "recognize", err)
		return
	}
	if !rec.Success {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success":      false,
			"consult_type": consult,
		})
		return
	}
	w.Header().Set("X-Recognized-Value", rec.Value)
	respondAudio(w, "confirmacion.wav", rec.ConfirmationAudio)
}

func (s *Server) handleClassifyAnswer(w http.ResponseWriter, r *http.Request) {
	audio, err := readUpload(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	ans, err := s.ivr.ClassifyAnswer(ctx, audio)
	if err != nil {
		s.respondUpstreamError(w, "classify_answer", err)
		return
	}
	if !ans.Success {
		respondAudio(w, "respuesta.wav", ans.Audio)
		return
	}
	respondJSON(w, http.StatusOK, ans)
}

func (s *Server) handlePlateResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	clip, err := s.ivr.PlateSummary(ctx, chi.URLParam(r, "plate"))
	if err != nil {
		s.respondUpstreamError(w, "plate_summary", err)
		return
	}
	respondAudio(w, "resultado.wav", clip)
}

func (s *Server) handleTicketResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	clip, err := s.ivr.TicketSummary(ctx, chi.URLParam(r, "ticket"))
	if err != nil {
		s.respondUpstreamError(w, "ticket_summary", err)
		return
	}
	respondAudio(w, "resultado.wav", clip)
}

func (s *Server) handleDebtResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	clip, err := s.ivr.DebtSummary(ctx, chi.URLParam(r, "code"), chi.URLParam(r, "kind"))
	if err != nil {
		s.respondUpstreamError(w, "debt_summary", err)
		return
	}
	respondAudio(w, "resultado.wav", clip)
}

func (s *Server) handleDebtConfirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.upstreamContext(r)
	defer cancel()
	clip, err := s.ivr.ConfirmCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		s.respondUpstreamError(w, "confirm_code", err)
		return
	}
	respondAudio(w, "resultadoDeuda.wav", clip)
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("parse upload: %w", err)
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		return nil, errMissingAudio
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(audio) == 0 {
		return nil, errMissingAudio
	}
	return audio, nil
}
