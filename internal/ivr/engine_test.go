package ivr

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/observability"
	"github.com/antoniostano/ivrsat/internal/protocol"
	"github.com/antoniostano/ivrsat/internal/session"
)

var exitLocation = ari.Location{Context: "retornoivr", Extension: "s", Priority: 1}

func TestPlateCallEndToEnd(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.CallStart{ChannelID: "c1", ChannelName: "PJSIP/100-1", Args: []string{"plate"}})
	wantName := fmt.Sprintf("plate_c1_%d", h.start.UnixMilli())
	if len(h.control.recordings) != 1 || h.control.recordings[0] != wantName {
		t.Fatalf("recordings = %v, want [%s]", h.control.recordings, wantName)
	}
	s := h.session("c1")
	if s.Phase != session.PhaseRecording || s.ConsultType != session.ConsultPlate || s.Awaiting != awaitRecording {
		t.Fatalf("after start: %+v", s)
	}

	h.send(protocol.RecordingFinished{RecordingName: wantName})
	if _, _, _, fetches := h.control.counts(); fetches != 0 {
		t.Fatalf("recording fetched before settle delay")
	}
	h.advance(999 * time.Millisecond)
	if _, _, _, fetches := h.control.counts(); fetches != 0 {
		t.Fatalf("recording fetched before settle delay elapsed")
	}
	h.advance(time.Millisecond)
	if len(h.control.fetches) != 1 || h.control.fetches[0] != wantName {
		t.Fatalf("fetches = %v", h.control.fetches)
	}

	s = h.session("c1")
	if s.Phase != session.PhaseWaitingConfirmation || s.ExtractedValue != "ABC123" || s.Awaiting != awaitDigit {
		t.Fatalf("after recognition: %+v", s)
	}
	if len(h.control.plays) != 1 {
		t.Fatalf("confirmation not played: %d plays", len(h.control.plays))
	}

	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "1"})
	if len(h.facade.queries) != 1 || h.facade.queries[0] != (queryCall{value: "ABC123", consult: session.ConsultPlate}) {
		t.Fatalf("queries = %+v", h.facade.queries)
	}
	if len(h.control.plays) != 2 {
		t.Fatalf("result not played: %d plays", len(h.control.plays))
	}
	if got := h.session("c1").Phase; got != session.PhaseConfirmed {
		t.Fatalf("phase = %s, want confirmed", got)
	}

	// 4.2 s result plus 3 s margin.
	h.advance(7199 * time.Millisecond)
	if len(h.control.continues) != 0 {
		t.Fatalf("continued before playback wait elapsed")
	}
	h.advance(time.Millisecond)
	if len(h.control.continues) != 1 || h.control.continues[0] != (continueCall{channel: "c1", loc: exitLocation}) {
		t.Fatalf("continues = %+v", h.control.continues)
	}
	if h.store.Len() != 0 {
		t.Fatalf("session not removed after exit")
	}

	// Asterisk reports the channel leaving Stasis; this is a no-op now.
	h.send(protocol.CallEnd{ChannelID: "c1"})
	if h.store.Len() != 0 {
		t.Fatalf("store not empty")
	}
}

func TestTicketFlowUsesTicketConsult(t *testing.T) {
	h := newHarness(t)
	h.startAndRecognize("c7", "papeleta")
	h.send(protocol.DTMFReceived{ChannelID: "c7", Digit: "1"})
	if len(h.facade.queries) != 1 || h.facade.queries[0].consult != session.ConsultTicket {
		t.Fatalf("queries = %+v", h.facade.queries)
	}
	if !strings.HasPrefix(h.control.recordings[0], "ticket_c7_") {
		t.Fatalf("recording name = %q", h.control.recordings[0])
	}
}

func TestUnknownConsultReturnsToDialplan(t *testing.T) {
	for _, args := range [][]string{{"tributo"}, nil} {
		h := newHarness(t)
		h.send(protocol.CallStart{ChannelID: "c1", Args: args})

		if len(h.control.recordings) != 0 {
			t.Fatalf("args %v: recording started", args)
		}
		if len(h.control.continues) != 1 || !h.control.continues[0].loc.IsZero() {
			t.Fatalf("args %v: continues = %+v, want one plain continue", args, h.control.continues)
		}
		if h.store.Len() != 0 {
			t.Fatalf("args %v: session kept", args)
		}
	}
}

func TestUnmatchedRecordingIsNoop(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})
	before := h.session("c1").Snapshot(h.start)
	rec, play, cont, fetch := h.control.counts()

	h.send(protocol.RecordingFinished{RecordingName: "plate_zz_1"})
	h.advance(5 * time.Second)

	rec2, play2, cont2, fetch2 := h.control.counts()
	if rec != rec2 || play != play2 || cont != cont2 || fetch != fetch2 || h.facade.recognized != 0 {
		t.Fatalf("unmatched recording caused external calls")
	}
	after := h.session("c1").Snapshot(h.start)
	if after != before {
		t.Fatalf("session changed: %+v -> %+v", before, after)
	}
}

func TestRecognitionFailuresRetryThenGiveUp(t *testing.T) {
	h := newHarness(t)
	h.facade.recognitions = []Recognition{{Success: false}}

	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})
	for k := 1; k <= 2; k++ {
		s := h.session("c1")
		h.send(protocol.RecordingFinished{RecordingName: s.RecordingHandle})
		h.advance(time.Second)

		s = h.session("c1")
		if s.RetryCount != k {
			t.Fatalf("after %d failures RetryCount = %d", k, s.RetryCount)
		}
		if s.Awaiting != awaitRetryWait {
			t.Fatalf("after %d failures awaiting %q", k, s.Awaiting)
		}
		// 2 s prompt plus 500 ms pad.
		h.advance(2499 * time.Millisecond)
		if len(h.control.recordings) != k {
			t.Fatalf("re-recorded before retry wait elapsed")
		}
		h.advance(time.Millisecond)
		if len(h.control.recordings) != k+1 || !strings.HasSuffix(h.control.recordings[k], "_retry") {
			t.Fatalf("recordings = %v", h.control.recordings)
		}
	}

	s := h.session("c1")
	h.send(protocol.RecordingFinished{RecordingName: s.RecordingHandle})
	h.advance(time.Second)

	maxPrompts := 0
	for _, text := range h.facade.synthesized {
		if text == DefaultConfig().Prompts.MaxAttempts {
			maxPrompts++
		}
	}
	if maxPrompts != 1 {
		t.Fatalf("max attempts prompt synthesized %d times, want 1 (%v)", maxPrompts, h.facade.synthesized)
	}
	if got := h.session("c1").RetryCount; got != 3 {
		t.Fatalf("RetryCount = %d, want 3", got)
	}

	// 2 s prompt plus 3 s margin, then exit.
	h.advance(5 * time.Second)
	if len(h.control.continues) != 1 || h.control.continues[0].loc != exitLocation {
		t.Fatalf("continues = %+v", h.control.continues)
	}
	if len(h.control.recordings) != 3 {
		t.Fatalf("recordings = %d, want 3", len(h.control.recordings))
	}
	if h.store.Len() != 0 {
		t.Fatalf("session not removed")
	}

	h.advance(time.Minute)
	if len(h.control.continues) != 1 {
		t.Fatalf("terminal path ran more than once")
	}
}

func TestRecognitionErrorCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.facade.recognizeErr = errBoom
	h.startAndRecognize("c1", "plate")
	if got := h.session("c1").RetryCount; got != 1 {
		t.Fatalf("RetryCount = %d, want 1", got)
	}
	if len(h.control.continues) != 0 {
		t.Fatalf("recognition error ended the call")
	}
}

func TestRejectClearsValueAndRecordsAgain(t *testing.T) {
	h := newHarness(t)
	h.startAndRecognize("c1", "plate")

	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "2"})
	s := h.session("c1")
	if s.Phase != session.PhaseRejected || s.ExtractedValue != "" {
		t.Fatalf("after reject: %+v", s)
	}
	if got := h.facade.synthesized[len(h.facade.synthesized)-1]; got != DefaultConfig().Prompts.Retry {
		t.Fatalf("prompt = %q, want retry prompt", got)
	}

	h.advance(2500 * time.Millisecond)
	if len(h.control.recordings) != 2 || !strings.HasSuffix(h.control.recordings[1], "_retry") {
		t.Fatalf("recordings = %v, want one new _retry recording", h.control.recordings)
	}
	if len(h.facade.queries) != 0 {
		t.Fatalf("reject issued a result query")
	}
	s = h.session("c1")
	if s.Phase != session.PhaseRecording || s.RetryCount != 0 {
		t.Fatalf("after re-record: %+v", s)
	}
}

func TestRejectIsNotBoundedByRetryLimit(t *testing.T) {
	h := newHarness(t)
	h.startAndRecognize("c1", "plate")
	for i := 0; i < 5; i++ {
		h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "2"})
		h.advance(2500 * time.Millisecond)
		h.send(protocol.RecordingFinished{RecordingName: h.session("c1").RecordingHandle})
		h.advance(time.Second)
	}
	if got := len(h.control.recordings); got != 6 {
		t.Fatalf("recordings = %d, want 6", got)
	}
	if len(h.control.continues) != 0 {
		t.Fatalf("call ended after manual rejections")
	}
}

func TestOtherDigitReplaysConfirmation(t *testing.T) {
	h := newHarness(t)
	h.startAndRecognize("c1", "plate")
	confirmation := h.control.plays[0].audio

	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "5"})
	if len(h.control.plays) != 2 || string(h.control.plays[1].audio) != string(confirmation) {
		t.Fatalf("confirmation not replayed")
	}
	s := h.session("c1")
	if s.Phase != session.PhaseWaitingConfirmation || s.ExtractedValue != "ABC123" {
		t.Fatalf("phase changed: %+v", s)
	}
}

func TestDigitOutsideConfirmationIgnored(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})
	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "1"})
	if len(h.facade.queries) != 0 || len(h.control.plays) != 0 {
		t.Fatalf("digit acted on during recording")
	}
	h.send(protocol.DTMFReceived{ChannelID: "nobody", Digit: "1"})
}

func TestRecordCommandFailureReturnsToDialplan(t *testing.T) {
	h := newHarness(t)
	h.control.recordErr = errBoom
	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})

	if len(h.control.continues) != 1 || !h.control.continues[0].loc.IsZero() {
		t.Fatalf("continues = %+v, want plain continue", h.control.continues)
	}
	if h.store.Len() != 0 {
		t.Fatalf("session kept after command failure")
	}
	if len(h.control.recordings) != 1 {
		t.Fatalf("record command retried")
	}
}

func TestPlayFailureReturnsToDialplan(t *testing.T) {
	h := newHarness(t)
	h.control.playErr = errBoom
	h.startAndRecognize("c1", "plate")
	if len(h.control.continues) != 1 || !h.control.continues[0].loc.IsZero() || h.store.Len() != 0 {
		t.Fatalf("continues = %+v, sessions = %d", h.control.continues, h.store.Len())
	}
}

func TestResultQueryFailureReturnsToDialplan(t *testing.T) {
	h := newHarness(t)
	h.facade.queryErr = errBoom
	h.startAndRecognize("c1", "plate")
	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "1"})

	if len(h.facade.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(h.facade.queries))
	}
	if len(h.control.continues) != 1 || !h.control.continues[0].loc.IsZero() {
		t.Fatalf("continues = %+v, want plain continue", h.control.continues)
	}
	if h.store.Len() != 0 {
		t.Fatalf("session kept after query failure")
	}
}

func TestExitFallsBackToPlainContinue(t *testing.T) {
	h := newHarness(t)
	h.control.continueErr = errBoom
	h.startAndRecognize("c1", "plate")
	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "1"})
	h.advance(8 * time.Second)

	if len(h.control.continues) != 2 || h.control.continues[0].loc != exitLocation || !h.control.continues[1].loc.IsZero() {
		t.Fatalf("continues = %+v", h.control.continues)
	}
}

func TestHangupDuringSettleDropsTimer(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})
	h.send(protocol.RecordingFinished{RecordingName: h.session("c1").RecordingHandle})
	h.send(protocol.CallEnd{ChannelID: "c1"})
	h.advance(2 * time.Second)

	if _, _, _, fetches := h.control.counts(); fetches != 0 {
		t.Fatalf("recording fetched for ended call")
	}
	if h.store.Len() != 0 {
		t.Fatalf("session resurrected")
	}
	settle := h.clock.timers[len(h.clock.timers)-1]
	if !settle.stopped || settle.fired {
		t.Fatalf("settle timer stopped=%v fired=%v, want stopped", settle.stopped, settle.fired)
	}
	if len(h.engine.timers) != 0 {
		t.Fatalf("engine still tracks %d timers", len(h.engine.timers))
	}
}

func TestExitStopsPendingTimer(t *testing.T) {
	h := newHarness(t)
	h.facade.recognitions = []Recognition{{Success: false}}
	h.startAndRecognize("c1", "plate")
	if got := h.session("c1").Awaiting; got != awaitRetryWait {
		t.Fatalf("awaiting %q, want %q", got, awaitRetryWait)
	}
	retry := h.clock.timers[len(h.clock.timers)-1]

	h.engine.exit("c1", ari.Location{}, "")
	if !retry.stopped {
		t.Fatalf("retry wait timer not stopped on exit")
	}
	h.advance(time.Minute)
	if len(h.control.recordings) != 1 {
		t.Fatalf("recordings = %v, want no retry after exit", h.control.recordings)
	}
}

func TestRecordingFailedRetries(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})
	h.send(protocol.RecordingFailed{RecordingName: h.session("c1").RecordingHandle, Cause: "disk full"})

	s := h.session("c1")
	if s.RetryCount != 1 || s.Awaiting != awaitRetryWait {
		t.Fatalf("RetryCount = %d awaiting %q, want 1 and %q", s.RetryCount, s.Awaiting, awaitRetryWait)
	}
	if h.facade.recognized != 0 {
		t.Fatalf("failed recording was sent to recognition")
	}
	h.advance(2500 * time.Millisecond)
	if len(h.control.recordings) != 2 || !strings.HasSuffix(h.control.recordings[1], "_retry") {
		t.Fatalf("recordings = %v", h.control.recordings)
	}

	// A failure for a recording no call owns is ignored.
	h.send(protocol.RecordingFailed{RecordingName: "plate_zz_1"})
	if got := h.session("c1").RetryCount; got != 1 {
		t.Fatalf("unmatched failure changed RetryCount to %d", got)
	}
}

func TestCallEndCountsOnlyLiveCalls(t *testing.T) {
	h := newHarness(t)
	reg := prometheus.NewRegistry()
	h.engine.metrics = observability.NewMetricsWithRegistry("ivr_test", reg)

	h.send(protocol.CallEnd{ChannelID: "ghost"})
	h.send(protocol.CallStart{ChannelID: "c1", Args: []string{"plate"}})
	h.send(protocol.CallEnd{ChannelID: "c1"})
	h.send(protocol.CallEnd{ChannelID: "c1"})

	rec := httptest.NewRecorder()
	observability.MetricsHandlerFor(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if want := `ivr_test_call_events_total{event="call_end"} 1`; !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("metrics output missing %q", want)
	}
}

func TestEvictedCallStopsProgressing(t *testing.T) {
	h := newHarness(t)
	h.startAndRecognize("c1", "plate")
	h.store.Sweep(h.clock.Now().Add(11 * time.Minute))
	h.send(protocol.DTMFReceived{ChannelID: "c1", Digit: "1"})
	if len(h.facade.queries) != 0 {
		t.Fatalf("evicted call still progressed")
	}
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.CallStart{ChannelID: "a", Args: []string{"plate"}})
	h.send(protocol.CallStart{ChannelID: "b", Args: []string{"ticket"}})
	h.send(protocol.CallStart{ChannelID: "a", Args: []string{"plate"}}) // duplicate

	if h.store.Len() != 2 || len(h.control.recordings) != 2 {
		t.Fatalf("sessions = %d, recordings = %v", h.store.Len(), h.control.recordings)
	}

	h.send(protocol.RecordingFinished{RecordingName: h.session("b").RecordingHandle})
	h.advance(time.Second)
	if h.session("b").Phase != session.PhaseWaitingConfirmation {
		t.Fatalf("b did not progress")
	}
	if h.session("a").Phase != session.PhaseRecording {
		t.Fatalf("a moved with b")
	}

	h.send(protocol.CallEnd{ChannelID: "b"})
	if _, err := h.store.Get("a"); err != nil {
		t.Fatalf("ending b removed a: %v", err)
	}
}

func TestRunDispatchesConcurrently(t *testing.T) {
	control := &fakeControl{}
	store := session.NewStore(time.Minute)
	e, err := New(DefaultConfig(), Deps{
		Control: control,
		Facade:  &fakeFacade{},
		Store:   store,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	for i := 0; i < 20; i++ {
		e.HandleEvent(protocol.CallStart{ChannelID: fmt.Sprintf("c%d", i), Args: []string{"plate"}})
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _, _, _ := control.counts()
		if rec == 20 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("recordings = %d, want 20", rec)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	// Posting after shutdown must not block.
	e.HandleEvent(protocol.CallEnd{ChannelID: "c0"})
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(DefaultConfig(), Deps{}); err == nil {
		t.Fatalf("New() without deps expected error")
	}
}
