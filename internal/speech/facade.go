// Package speech turns recordings into plate or ticket numbers and turns
// back-end answers into spoken Spanish audio.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/ivr"
	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/promptcache"
	"github.com/antoniostano/ivrsat/internal/redact"
	"github.com/antoniostano/ivrsat/internal/sat"
	"github.com/antoniostano/ivrsat/internal/session"
	"github.com/antoniostano/ivrsat/internal/voiceapi"
)

// Tax concepts summed in a debt summary.
const (
	ConceptPropertyTax = "Imp. Predial"
	ConceptFees        = "Arbitrios"
)

const minPlateLen = 3

// SpeechService is the speech-to-text and text-to-speech provider.
type SpeechService interface {
	STT(ctx context.Context, wav []byte) (voiceapi.PlateTranscript, error)
	Transcribe(ctx context.Context, wav []byte) (voiceapi.Transcript, error)
	TTS(ctx context.Context, text string) ([]byte, error)
}

// Backend answers ticket and debt lookups.
type Backend interface {
	TicketsByPlate(ctx context.Context, plate string) ([]sat.Ticket, error)
	Ticket(ctx context.Context, number string) (sat.Ticket, error)
	Debt(ctx context.Context, code, kind string) ([]sat.DebtItem, error)
}

// Answer is the outcome of a spoken yes/no classification.
type Answer struct {
	Success      bool   `json:"success"`
	Confirmation *bool  `json:"confirmation,omitempty"`
	Audio        []byte `json:"-"`
}

type Facade struct {
	speech  SpeechService
	backend Backend
	cache   promptcache.Store
	prompts Prompts
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ ivr.Facade = (*Facade)(nil)

// NewFacade wires the providers. cache may be nil to disable caching.
func NewFacade(speech SpeechService, backend Backend, cache promptcache.Store, prompts Prompts, logger *zap.Logger, metrics *observability.Metrics) (*Facade, error) {
	if speech == nil || backend == nil {
		return nil, errors.New("speech facade requires a speech service and a backend")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Facade{
		speech:  speech,
		backend: backend,
		cache:   cache,
		prompts: prompts,
		logger:  logger.With(zap.String("component", "speech")),
		metrics: metrics,
	}, nil
}

func (f *Facade) Prompts() Prompts { return f.prompts }

// RecognizeAndPromptConfirmation extracts the value for consult from audio.
// A recording that yields nothing usable is reported as Success=false with
// no error; errors are reserved for provider failures.
func (f *Facade) RecognizeAndPromptConfirmation(ctx context.Context, audio []byte, consult session.ConsultType) (ivr.Recognition, error) {
	var (
		value string
		noun  string
		err   error
	)
	switch consult {
	case session.ConsultPlate:
		value, err = f.recognizePlate(ctx, audio)
		noun = "placa"
	case session.ConsultTicket:
		value, err = f.recognizeTicket(ctx, audio)
		noun = "papeleta"
	default:
		return ivr.Recognition{}, fmt.Errorf("unsupported consult type %q", consult)
	}
	if err != nil || value == "" {
		return ivr.Recognition{}, err
	}
	clip, err := f.tts(ctx, f.prompts.confirmValue(noun, value))
	if err != nil {
		return ivr.Recognition{}, err
	}
	return ivr.Recognition{Success: true, Value: value, ConfirmationAudio: clip}, nil
}

func (f *Facade) recognizePlate(ctx context.Context, audio []byte) (string, error) {
	res, err := f.speech.STT(ctx, audio)
	if err != nil {
		f.providerError("voiceapi", err)
		return "", fmt.Errorf("stt: %w", err)
	}
	var candidate string
	switch {
	case res.Success && usable(res.Plate):
		candidate = res.RawText
		if strings.TrimSpace(candidate) == "" {
			candidate = res.Plate
		}
	case usable(res.RawText):
		f.logger.Debug("plate recovered from raw text", zap.String("raw", redact.Text(res.RawText)))
		candidate = res.RawText
	default:
		f.logger.Info("plate not recognized", zap.String("raw", redact.Text(res.RawText)), zap.String("plate", res.Plate))
		return "", nil
	}
	plate := FormatText(candidate)
	if len(plate) < minPlateLen {
		f.logger.Info("plate too short", zap.String("raw", redact.Text(candidate)), zap.String("plate", plate))
		return "", nil
	}
	return plate, nil
}

func (f *Facade) recognizeTicket(ctx context.Context, audio []byte) (string, error) {
	res, err := f.speech.Transcribe(ctx, audio)
	if err != nil {
		f.providerError("voiceapi", err)
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if !res.Success {
		f.logger.Info("ticket not recognized", zap.String("raw", redact.Text(res.Raw)))
		return "", nil
	}
	return FormatText(res.Raw), nil
}

func usable(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "N/A"
}

// QueryResult looks the confirmed value up and speaks the answer.
func (f *Facade) QueryResult(ctx context.Context, value string, consult session.ConsultType) ([]byte, error) {
	switch consult {
	case session.ConsultPlate:
		return f.PlateSummary(ctx, value)
	case session.ConsultTicket:
		return f.TicketSummary(ctx, value)
	default:
		return nil, fmt.Errorf("unsupported consult type %q", consult)
	}
}

func (f *Facade) PlateSummary(ctx context.Context, plate string) ([]byte, error) {
	plate = FormatText(plate)
	tickets, err := f.backend.TicketsByPlate(ctx, plate)
	if err != nil {
		f.providerError("sat", err)
		return nil, fmt.Errorf("tickets by plate: %w", err)
	}
	var total float64
	for _, t := range tickets {
		total += t.Amount
	}
	return f.tts(ctx, plateResult(plate, len(tickets), total))
}

func (f *Facade) TicketSummary(ctx context.Context, number string) ([]byte, error) {
	ticket, err := f.backend.Ticket(ctx, FormatText(number))
	if errors.Is(err, sat.ErrNotFound) {
		return f.Synthesize(ctx, f.prompts.TicketNotFound)
	}
	if err != nil {
		f.providerError("sat", err)
		return nil, fmt.Errorf("ticket: %w", err)
	}
	return f.tts(ctx, ticketResult(ticket.Document, ticket.Amount, ticket.InfractionDate))
}

// DebtSummary speaks the property-tax and fee totals for a taxpayer.
func (f *Facade) DebtSummary(ctx context.Context, code, kind string) ([]byte, error) {
	items, err := f.backend.Debt(ctx, code, kind)
	if errors.Is(err, sat.ErrNotFound) {
		return f.Synthesize(ctx, f.prompts.DebtNotFound)
	}
	if err != nil {
		f.providerError("sat", err)
		return nil, fmt.Errorf("debt: %w", err)
	}
	var propertyTax, fees float64
	for _, it := range items {
		switch it.Concept {
		case ConceptPropertyTax:
			propertyTax += it.Amount
		case ConceptFees:
			fees += it.Amount
		}
	}
	f.logger.Debug("debt lookup", zap.String("kind", kind), zap.Int("items", len(items)))
	return f.tts(ctx, debtResult(propertyTax, fees))
}

// ConfirmCode reads a keyed-in code back to the caller.
func (f *Facade) ConfirmCode(ctx context.Context, code string) ([]byte, error) {
	return f.tts(ctx, f.prompts.confirmCode(code))
}

// ClassifyAnswer transcribes a spoken yes/no. When no answer can be read the
// returned Audio carries the announcement to play.
func (f *Facade) ClassifyAnswer(ctx context.Context, audio []byte) (Answer, error) {
	res, err := f.speech.Transcribe(ctx, audio)
	if err != nil {
		f.providerError("voiceapi", err)
		return Answer{}, fmt.Errorf("transcribe: %w", err)
	}
	if !res.Success || res.Confirmation == nil {
		clip, err := f.Synthesize(ctx, f.prompts.NoAnswer)
		if err != nil {
			return Answer{}, err
		}
		return Answer{Audio: clip}, nil
	}
	return Answer{Success: true, Confirmation: res.Confirmation}, nil
}

// Synthesize speaks a fixed text, going through the prompt cache.
func (f *Facade) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.cache == nil {
		return f.tts(ctx, text)
	}
	key := promptcache.Key(text)
	if clip, ok, err := f.cache.Get(ctx, key); err != nil {
		f.logger.Warn("prompt cache read failed", zap.Error(err))
	} else if ok {
		return clip, nil
	}
	clip, err := f.tts(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Put(ctx, key, text, clip); err != nil {
		f.logger.Warn("prompt cache write failed", zap.Error(err))
	}
	return clip, nil
}

// Warm synthesizes every fixed prompt into the cache. Failures are logged
// and skipped; the prompt is synthesized again on first use.
func (f *Facade) Warm(ctx context.Context) int {
	if f.cache == nil {
		return 0
	}
	warmed := 0
	for _, text := range f.prompts.Fixed() {
		if _, err := f.Synthesize(ctx, text); err != nil {
			f.logger.Warn("prompt warm-up failed", zap.String("text", text), zap.Error(err))
			continue
		}
		warmed++
	}
	return warmed
}

func (f *Facade) tts(ctx context.Context, text string) ([]byte, error) {
	clip, err := f.speech.TTS(ctx, text)
	if err != nil {
		f.providerError("voiceapi", err)
		return nil, fmt.Errorf("tts: %w", err)
	}
	return clip, nil
}

func (f *Facade) providerError(provider string, err error) {
	code := "error"
	var vs *voiceapi.StatusError
	var ss *sat.StatusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case errors.As(err, &vs):
		code = fmt.Sprintf("http_%d", vs.StatusCode)
	case errors.As(err, &ss):
		code = fmt.Sprintf("http_%d", ss.StatusCode)
	}
	f.metrics.ProviderError(provider, code)
}
