package ivr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/protocol"
	"github.com/antoniostano/ivrsat/internal/session"
)

// Steps a session can be suspended on, stored in CallSession.Awaiting.
const (
	awaitRecordAck       = "record_ack"
	awaitRecording       = "recording"
	awaitSettle          = "settle"
	awaitRecognition     = "recognition"
	awaitConfirmPlayback = "confirm_playback"
	awaitDigit           = "digit"
	awaitRetryPrompt     = "retry_prompt"
	awaitRetryWait       = "retry_wait"
	awaitResultQuery     = "result_query"
	awaitFinalPlayback   = "final_playback"
	awaitFinalWait       = "final_wait"
)

// continuation re-enters the dispatcher once an external operation or timer
// finishes. It is applied only if the call still exists and is still waiting
// on the same step.
type continuation struct {
	callID   string
	awaiting string

	recognition Recognition
	audio       []byte
	wait        time.Duration
	err         error
}

func (e *Engine) onCallStart(ev protocol.CallStart) {
	log := e.logger.With(zap.String("call_id", ev.ChannelID))
	sess, err := e.store.Create(ev.ChannelID, ev.ChannelName)
	if err != nil {
		log.Warn("duplicate call start ignored", zap.Error(err))
		return
	}
	e.metrics.CallEvent("call_start")
	e.metrics.SetActiveCalls(e.store.Len())

	var arg string
	if len(ev.Args) > 0 {
		arg = ev.Args[0]
	}
	consult, ok := session.ParseConsultType(arg)
	if !ok {
		log.Warn("unknown consult type, returning call to dialplan", zap.String("arg", arg))
		e.metrics.CallEvent("unknown_consult")
		e.exit(sess.CallID, ari.Location{}, "")
		return
	}
	sess.ConsultType = consult
	log.Info("call started", zap.String("consult_type", string(consult)), zap.String("caller", ev.CallerID))
	e.startRecording(sess, false)
}

func (e *Engine) onCallEnd(ev protocol.CallEnd) {
	e.stopTimer(ev.ChannelID)
	if !e.store.Delete(ev.ChannelID) {
		return
	}
	e.logger.Info("call ended", zap.String("call_id", ev.ChannelID))
	e.metrics.CallEvent("call_end")
	e.metrics.SetActiveCalls(e.store.Len())
}

func (e *Engine) onRecordingFinished(ev protocol.RecordingFinished) {
	sess, err := e.store.FindByRecording(ev.RecordingName)
	if err != nil {
		e.logger.Debug("recording finished for unknown call", zap.String("recording", ev.RecordingName))
		return
	}
	if sess.Awaiting != awaitRecording && sess.Awaiting != awaitRecordAck {
		e.logger.Debug("recording finished out of step",
			zap.String("call_id", sess.CallID),
			zap.String("awaiting", sess.Awaiting),
		)
		return
	}
	e.after(sess, awaitSettle, e.cfg.SettleDelay)
}

// onRecordingFailed treats a recording Asterisk could not complete like an
// utterance that was not understood.
func (e *Engine) onRecordingFailed(ev protocol.RecordingFailed) {
	sess, err := e.store.FindByRecording(ev.RecordingName)
	if err != nil {
		e.logger.Debug("recording failed for unknown call", zap.String("recording", ev.RecordingName))
		return
	}
	if sess.Awaiting != awaitRecording && sess.Awaiting != awaitRecordAck {
		return
	}
	e.logger.Warn("recording failed",
		zap.String("call_id", sess.CallID),
		zap.String("recording", ev.RecordingName),
		zap.String("cause", ev.Cause),
	)
	e.recognitionFailed(sess)
}

func (e *Engine) onDigit(ev protocol.DTMFReceived) {
	sess, err := e.store.Get(ev.ChannelID)
	if err != nil {
		return
	}
	log := e.logger.With(zap.String("call_id", sess.CallID), zap.String("digit", ev.Digit))
	if sess.Phase != session.PhaseWaitingConfirmation {
		log.Debug("digit ignored", zap.String("phase", string(sess.Phase)))
		return
	}

	switch ev.Digit {
	case "1":
		log.Info("value confirmed", zap.String("value", sess.ExtractedValue))
		e.metrics.CallEvent("confirmed")
		sess.Phase = session.PhaseConfirmed
		value, consult := sess.ExtractedValue, sess.ConsultType
		e.launch(sess, awaitResultQuery, func(ctx context.Context) continuation {
			started := time.Now()
			result, err := e.facade.QueryResult(ctx, value, consult)
			if err == nil {
				e.metrics.ObserveStage(observability.StageResultQuery, time.Since(started))
			}
			return continuation{audio: result, err: err}
		})
	case "2":
		log.Info("value rejected", zap.String("value", sess.ExtractedValue))
		e.metrics.CallEvent("rejected")
		sess.Phase = session.PhaseRejected
		sess.ExtractedValue = ""
		sess.ConfirmationAudio = nil
		e.playRetryPrompt(sess, e.cfg.Prompts.Retry)
	default:
		e.playConfirmation(sess)
	}
}

// resume applies a continuation to its call.
func (e *Engine) resume(c continuation) {
	if p, ok := e.timers[c.callID]; ok && p.step == c.awaiting {
		delete(e.timers, c.callID)
	}
	sess, err := e.store.Get(c.callID)
	if err != nil || sess.Awaiting != c.awaiting {
		e.metrics.CallEvent("stale_continuation")
		e.logger.Debug("dropping stale continuation",
			zap.String("call_id", c.callID),
			zap.String("awaiting", c.awaiting),
		)
		return
	}
	log := e.logger.With(zap.String("call_id", sess.CallID), zap.String("step", c.awaiting))

	switch c.awaiting {
	case awaitRecordAck:
		if c.err != nil {
			e.commandFailed(sess, "record", c.err)
			return
		}
		sess.Awaiting = awaitRecording
		e.save(sess)

	case awaitSettle:
		name, consult := sess.RecordingHandle, sess.ConsultType
		e.launch(sess, awaitRecognition, func(ctx context.Context) continuation {
			payload, err := e.control.FetchRecording(ctx, name)
			if err != nil {
				return continuation{err: fmt.Errorf("fetch recording %s: %w", name, err)}
			}
			started := time.Now()
			rec, err := e.facade.RecognizeAndPromptConfirmation(ctx, payload, consult)
			if err == nil {
				e.metrics.ObserveStage(observability.StageRecognition, time.Since(started))
			}
			return continuation{recognition: rec, err: err}
		})

	case awaitRecognition:
		if c.err != nil || !c.recognition.Success || c.recognition.Value == "" {
			log.Info("recognition failed", zap.Error(c.err), zap.Int("retry_count", sess.RetryCount+1))
			e.recognitionFailed(sess)
			return
		}
		log.Info("recognized value", zap.String("value", c.recognition.Value))
		e.metrics.CallEvent("recognition_ok")
		sess.ExtractedValue = c.recognition.Value
		sess.ConfirmationAudio = c.recognition.ConfirmationAudio
		sess.Phase = session.PhaseWaitingConfirmation
		e.playConfirmation(sess)

	case awaitConfirmPlayback:
		if c.err != nil {
			e.commandFailed(sess, "play", c.err)
			return
		}
		sess.Awaiting = awaitDigit
		e.save(sess)

	case awaitRetryPrompt:
		if c.err != nil {
			e.commandFailed(sess, "play", c.err)
			return
		}
		e.metrics.ObservePlaybackWait(c.wait)
		e.after(sess, awaitRetryWait, c.wait)

	case awaitRetryWait:
		e.startRecording(sess, true)

	case awaitResultQuery:
		if c.err != nil {
			log.Error("result query failed, returning call to dialplan", zap.Error(c.err))
			e.metrics.ProviderError("result", "query_failed")
			e.exit(sess.CallID, ari.Location{}, "dialplan_fallback")
			return
		}
		e.playFinal(sess, c.audio)

	case awaitFinalPlayback:
		if c.err != nil {
			e.commandFailed(sess, "play", c.err)
			return
		}
		e.metrics.ObservePlaybackWait(c.wait)
		e.after(sess, awaitFinalWait, c.wait)

	case awaitFinalWait:
		log.Info("returning call to dialplan", zap.String("location", e.cfg.Exit.String()))
		e.metrics.CallEvent("completed")
		e.exit(sess.CallID, e.cfg.Exit, "")
	}
}

func (e *Engine) startRecording(sess *session.CallSession, retry bool) {
	sess.RecordingHandle = RecordingName(sess.ConsultType, sess.CallID, e.clock.Now(), retry)
	sess.Phase = session.PhaseRecording
	name := sess.RecordingHandle
	e.logger.Info("starting recording",
		zap.String("call_id", sess.CallID),
		zap.String("recording", name),
		zap.Bool("retry", retry),
	)
	id := sess.CallID
	e.launch(sess, awaitRecordAck, func(ctx context.Context) continuation {
		return continuation{err: e.control.StartRecording(ctx, id, name)}
	})
}

func (e *Engine) recognitionFailed(sess *session.CallSession) {
	e.metrics.CallEvent("recognition_failed")
	sess.RetryCount++
	if !e.cfg.Retry.Exhausted(sess.ConsultType, sess.RetryCount) {
		e.playRetryPrompt(sess, e.cfg.Prompts.NotUnderstood)
		return
	}

	e.logger.Info("max attempts reached",
		zap.String("call_id", sess.CallID),
		zap.Int("retry_count", sess.RetryCount),
	)
	e.metrics.CallEvent("max_attempts")
	text, id := e.cfg.Prompts.MaxAttempts, sess.CallID
	e.launch(sess, awaitFinalPlayback, func(ctx context.Context) continuation {
		clip, err := e.synthesize(ctx, text)
		if err != nil {
			return continuation{err: err}
		}
		if err := e.control.PlayAudio(ctx, id, clip); err != nil {
			return continuation{err: err}
		}
		return continuation{wait: e.cfg.Playback.WaitFor(clip)}
	})
}

// playRetryPrompt plays text, then waits for it to finish plus the retry pad
// before the next recording starts.
func (e *Engine) playRetryPrompt(sess *session.CallSession, text string) {
	id := sess.CallID
	e.launch(sess, awaitRetryPrompt, func(ctx context.Context) continuation {
		clip, err := e.synthesize(ctx, text)
		if err != nil {
			return continuation{err: err}
		}
		if err := e.control.PlayAudio(ctx, id, clip); err != nil {
			return continuation{err: err}
		}
		return continuation{wait: e.cfg.Playback.RetryWaitFor(clip)}
	})
}

func (e *Engine) playConfirmation(sess *session.CallSession) {
	id, clip := sess.CallID, sess.ConfirmationAudio
	e.launch(sess, awaitConfirmPlayback, func(ctx context.Context) continuation {
		if len(clip) == 0 {
			return continuation{err: errors.New("no confirmation audio")}
		}
		return continuation{err: e.control.PlayAudio(ctx, id, clip)}
	})
}

func (e *Engine) playFinal(sess *session.CallSession, clip []byte) {
	id := sess.CallID
	e.launch(sess, awaitFinalPlayback, func(ctx context.Context) continuation {
		if err := e.control.PlayAudio(ctx, id, clip); err != nil {
			return continuation{err: err}
		}
		return continuation{wait: e.cfg.Playback.WaitFor(clip)}
	})
}

func (e *Engine) synthesize(ctx context.Context, text string) ([]byte, error) {
	started := time.Now()
	clip, err := e.facade.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize prompt: %w", err)
	}
	e.metrics.ObserveStage(observability.StageSynthesis, time.Since(started))
	return clip, nil
}

// commandFailed handles a rejected call-control command: the call goes back
// to the dialplan and is forgotten. Commands are never retried.
func (e *Engine) commandFailed(sess *session.CallSession, command string, err error) {
	e.logger.Error("call control command failed, returning call to dialplan",
		zap.String("call_id", sess.CallID),
		zap.String("command", command),
		zap.String("phase", string(sess.Phase)),
		zap.Error(err),
	)
	e.exit(sess.CallID, ari.Location{}, "dialplan_fallback")
}

// exit deletes the session and hands the channel back to the dialplan. If
// continuing at loc fails, a plain continue is attempted once.
func (e *Engine) exit(callID string, loc ari.Location, event string) {
	e.stopTimer(callID)
	e.store.Delete(callID)
	e.metrics.SetActiveCalls(e.store.Len())
	if event != "" {
		e.metrics.CallEvent(event)
	}
	e.spawn(func() {
		ctx, cancel := e.opContext()
		defer cancel()
		err := e.control.ContinueInDialplan(ctx, callID, loc)
		if err != nil && !loc.IsZero() {
			e.logger.Warn("continue at location failed, trying plain continue",
				zap.String("call_id", callID),
				zap.String("location", loc.String()),
				zap.Error(err),
			)
			err = e.control.ContinueInDialplan(ctx, callID, ari.Location{})
		}
		if err != nil {
			e.logger.Error("continue in dialplan failed", zap.String("call_id", callID), zap.Error(err))
		}
	})
}

// launch suspends sess on step and runs op off the dispatcher. The result
// comes back as a continuation for the same step.
func (e *Engine) launch(sess *session.CallSession, step string, op func(ctx context.Context) continuation) {
	sess.Awaiting = step
	if !e.save(sess) {
		return
	}
	id := sess.CallID
	e.spawn(func() {
		ctx, cancel := e.opContext()
		defer cancel()
		c := op(ctx)
		c.callID, c.awaiting = id, step
		e.post(c)
	})
}

// after suspends sess on step until d has elapsed.
func (e *Engine) after(sess *session.CallSession, step string, d time.Duration) {
	sess.Awaiting = step
	if !e.save(sess) {
		return
	}
	id := sess.CallID
	e.stopTimer(id)
	e.timers[id] = pendingTimer{
		step: step,
		timer: e.clock.AfterFunc(d, func() {
			e.post(continuation{callID: id, awaiting: step})
		}),
	}
}

type pendingTimer struct {
	step  string
	timer Timer
}

func (e *Engine) stopTimer(callID string) {
	if p, ok := e.timers[callID]; ok {
		p.timer.Stop()
		delete(e.timers, callID)
	}
}

// save writes sess back. A false return means the call is gone, e.g. it was
// evicted by the expiry sweep while this transition ran.
func (e *Engine) save(sess *session.CallSession) bool {
	if err := e.store.Save(sess); err != nil {
		e.logger.Debug("session vanished mid-transition", zap.String("call_id", sess.CallID), zap.Error(err))
		return false
	}
	return true
}
