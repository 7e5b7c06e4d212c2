package ivr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/ivrsat/internal/ari"
	"github.com/antoniostano/ivrsat/internal/audio"
	"github.com/antoniostano/ivrsat/internal/protocol"
	"github.com/antoniostano/ivrsat/internal/session"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type playCall struct {
	channel string
	audio   []byte
}

type continueCall struct {
	channel string
	loc     ari.Location
}

type fakeControl struct {
	mu          sync.Mutex
	recordings  []string
	plays       []playCall
	continues   []continueCall
	fetches     []string
	recordErr   error
	playErr     error
	continueErr error
}

func (f *fakeControl) StartRecording(_ context.Context, channelID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordings = append(f.recordings, name)
	return f.recordErr
}

func (f *fakeControl) PlayAudio(_ context.Context, channelID string, clip []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, playCall{channel: channelID, audio: clip})
	return f.playErr
}

func (f *fakeControl) ContinueInDialplan(_ context.Context, channelID string, loc ari.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continues = append(f.continues, continueCall{channel: channelID, loc: loc})
	if !loc.IsZero() {
		return f.continueErr
	}
	return nil
}

func (f *fakeControl) FetchRecording(_ context.Context, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, name)
	return []byte("RIFF-recording-" + name), nil
}

func (f *fakeControl) counts() (rec, play, cont, fetch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recordings), len(f.plays), len(f.continues), len(f.fetches)
}

type queryCall struct {
	value   string
	consult session.ConsultType
}

type fakeFacade struct {
	mu           sync.Mutex
	recognitions []Recognition
	recognizeErr error
	recognized   int
	queries      []queryCall
	result       []byte
	queryErr     error
	synthesized  []string
}

func (f *fakeFacade) RecognizeAndPromptConfirmation(context.Context, []byte, session.ConsultType) (Recognition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recognized++
	if f.recognizeErr != nil {
		return Recognition{}, f.recognizeErr
	}
	if len(f.recognitions) == 0 {
		return Recognition{}, nil
	}
	r := f.recognitions[0]
	if len(f.recognitions) > 1 {
		f.recognitions = f.recognitions[1:]
	}
	return r, nil
}

func (f *fakeFacade) QueryResult(_ context.Context, value string, consult session.ConsultType) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, queryCall{value: value, consult: consult})
	return f.result, f.queryErr
}

func (f *fakeFacade) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synthesized = append(f.synthesized, text)
	return clipOf(2 * time.Second), nil
}

// clipOf returns a 16 kHz mono PCM16 WAV lasting d.
func clipOf(d time.Duration) []byte {
	samples := int(d / time.Millisecond * 16)
	wav, _ := audio.EncodeWAVPCM16LE(make([]byte, samples*2), 16000)
	return wav
}

var errBoom = errors.New("boom")

type harness struct {
	t       *testing.T
	engine  *Engine
	control *fakeControl
	facade  *fakeFacade
	clock   *fakeClock
	store   *session.Store
	start   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	start := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	store := session.NewStore(10 * time.Minute)
	store.SetClock(clock.Now)
	h := &harness{
		t:       t,
		control: &fakeControl{},
		facade: &fakeFacade{
			recognitions: []Recognition{{Success: true, Value: "ABC123", ConfirmationAudio: clipOf(3 * time.Second)}},
			result:       clipOf(4200 * time.Millisecond),
		},
		clock: clock,
		store: store,
		start: start,
	}
	e, err := New(DefaultConfig(), Deps{
		Control: h.control,
		Facade:  h.facade,
		Store:   store,
		Clock:   clock,
		Spawn:   func(f func()) { f() },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.engine = e
	return h
}

// drain dispatches everything queued, including continuations queued while
// dispatching.
func (h *harness) drain() {
	for {
		select {
		case msg := <-h.engine.inbox:
			h.engine.dispatch(msg)
		default:
			return
		}
	}
}

func (h *harness) send(ev protocol.Event) {
	h.engine.HandleEvent(ev)
	h.drain()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}

func (h *harness) session(id string) *session.CallSession {
	h.t.Helper()
	s, err := h.store.Get(id)
	if err != nil {
		h.t.Fatalf("session %s: %v", id, err)
	}
	return s
}

// startAndRecognize drives a call up to waitingConfirmation.
func (h *harness) startAndRecognize(id string, consult string) {
	h.t.Helper()
	h.send(protocol.CallStart{ChannelID: id, Args: []string{consult}})
	s := h.session(id)
	h.send(protocol.RecordingFinished{RecordingName: s.RecordingHandle})
	h.advance(time.Second)
}
