package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestStoreCreateGetDelete(t *testing.T) {
	m := NewStore(time.Minute)
	s, err := m.Create("c1", "PJSIP/100-0001")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Phase != PhaseInitial || s.ConsultType != ConsultUnset {
		t.Fatalf("unexpected new session: %+v", s)
	}

	if _, err := m.Create("c1", ""); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create() error = %v, want ErrExists", err)
	}

	got, err := m.Get("c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ChannelName != "PJSIP/100-0001" {
		t.Fatalf("ChannelName = %q", got.ChannelName)
	}

	if !m.Delete("c1") {
		t.Fatalf("Delete() = false, want true")
	}
	if m.Delete("c1") {
		t.Fatalf("second Delete() = true, want false")
	}
	if _, err := m.Get("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStoreSaveDoesNotResurrect(t *testing.T) {
	m := NewStore(time.Minute)
	s, _ := m.Create("c1", "")
	s.Phase = PhaseRecording
	if err := m.Save(s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	m.Delete("c1")
	if err := m.Save(s); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save() after delete error = %v, want ErrNotFound", err)
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	m := NewStore(time.Minute)
	s, _ := m.Create("c1", "")
	s.ExtractedValue = "ABC123"

	got, _ := m.Get("c1")
	if got.ExtractedValue != "" {
		t.Fatalf("store mutated through returned copy: %+v", got)
	}
}

func TestStoreFindByRecording(t *testing.T) {
	m := NewStore(time.Minute)
	a, _ := m.Create("a", "")
	a.RecordingHandle = "plate_a_1"
	_ = m.Save(a)
	b, _ := m.Create("b", "")
	b.RecordingHandle = "ticket_b_2"
	_ = m.Save(b)

	got, err := m.FindByRecording("ticket_b_2")
	if err != nil {
		t.Fatalf("FindByRecording() error = %v", err)
	}
	if got.CallID != "b" {
		t.Fatalf("FindByRecording() = %q, want b", got.CallID)
	}
	if _, err := m.FindByRecording("plate_zz_9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByRecording(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := m.FindByRecording(""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByRecording(empty) error = %v, want ErrNotFound", err)
	}
}

func TestStoreSweepBoundary(t *testing.T) {
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	m := NewStore(600000 * time.Millisecond)
	m.SetClock(func() time.Time { return created })
	if _, err := m.Create("c1", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if evicted := m.Sweep(created.Add(599999 * time.Millisecond)); len(evicted) != 0 {
		t.Fatalf("Sweep(T+599999ms) evicted %d sessions, want 0", len(evicted))
	}
	if _, err := m.Get("c1"); err != nil {
		t.Fatalf("session should be retained: %v", err)
	}

	var hooked []string
	m.SetExpireHook(func(s *CallSession) { hooked = append(hooked, s.CallID) })
	evicted := m.Sweep(created.Add(600001 * time.Millisecond))
	if len(evicted) != 1 || evicted[0].CallID != "c1" {
		t.Fatalf("Sweep(T+600001ms) = %+v, want c1 evicted", evicted)
	}
	if len(hooked) != 1 {
		t.Fatalf("expire hook calls = %d, want 1", len(hooked))
	}
	if _, err := m.Get("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after sweep error = %v, want ErrNotFound", err)
	}
}

func TestStoreSweepIgnoresPhase(t *testing.T) {
	created := time.Now()
	m := NewStore(time.Minute)
	m.SetClock(func() time.Time { return created })
	s, _ := m.Create("c1", "")
	s.Phase = PhaseWaitingConfirmation
	_ = m.Save(s)

	if evicted := m.Sweep(created.Add(2 * time.Minute)); len(evicted) != 1 {
		t.Fatalf("Sweep() evicted %d, want 1", len(evicted))
	}
}

func TestStoreConcurrentCallsAreIndependent(t *testing.T) {
	m := NewStore(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			s, err := m.Create(id, "")
			if err != nil {
				t.Errorf("Create(%s) error = %v", id, err)
				return
			}
			s.RetryCount = i
			if err := m.Save(s); err != nil {
				t.Errorf("Save(%s) error = %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if m.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", m.Len())
	}
	for i := 0; i < 50; i++ {
		s, err := m.Get(fmt.Sprintf("c%d", i))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if s.RetryCount != i {
			t.Fatalf("c%d RetryCount = %d, want %d", i, s.RetryCount, i)
		}
	}
}

func TestStoreJanitorEvictsExpired(t *testing.T) {
	m := NewStore(30 * time.Millisecond)
	if _, err := m.Create("c1", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	if _, err := m.Get("c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound after janitor sweep", err)
	}
}

func TestParseConsultType(t *testing.T) {
	cases := []struct {
		arg  string
		want ConsultType
		ok   bool
	}{
		{"plate", ConsultPlate, true},
		{"placa", ConsultPlate, true},
		{"ticket", ConsultTicket, true},
		{"papeleta", ConsultTicket, true},
		{"", ConsultUnset, false},
		{"tributo", ConsultUnset, false},
	}
	for _, tc := range cases {
		got, ok := ParseConsultType(tc.arg)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseConsultType(%q) = %q,%v want %q,%v", tc.arg, got, ok, tc.want, tc.ok)
		}
	}
}
