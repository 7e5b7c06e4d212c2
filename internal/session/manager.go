package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// CallSession is the per-call state owned by the store. Callers only ever see
// copies; changes are written back with Save.
type CallSession struct {
	CallID          string
	ChannelName     string
	ConsultType     ConsultType
	Phase           Phase
	ExtractedValue  string
	RecordingHandle string
	RetryCount      int
	CreatedAt       time.Time

	// Awaiting names the continuation the session is currently suspended on.
	Awaiting string
	// ConfirmationAudio is replayed when the caller presses an unexpected key.
	ConfirmationAudio []byte
}

// Expired reports whether the session is older than window at now. A session
// exactly window old is still retained.
func (s *CallSession) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(s.CreatedAt) > window
}

func (s *CallSession) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		CallID:          s.CallID,
		ChannelName:     s.ChannelName,
		ConsultType:     s.ConsultType,
		Phase:           s.Phase,
		ExtractedValue:  s.ExtractedValue,
		RecordingHandle: s.RecordingHandle,
		RetryCount:      s.RetryCount,
		Awaiting:        s.Awaiting,
		CreatedAt:       s.CreatedAt,
		AgeMS:           now.Sub(s.CreatedAt).Milliseconds(),
	}
}

// Store is the registry of active calls keyed by channel id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
	expiry   time.Duration
	now      func() time.Time
	onExpire func(*CallSession)
}

func NewStore(expiry time.Duration) *Store {
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}
	return &Store{
		sessions: make(map[string]*CallSession),
		expiry:   expiry,
		now:      time.Now,
	}
}

// SetClock replaces the time source used for creation stamps and sweeps.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Store) SetExpireHook(hook func(*CallSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Store) Create(callID, channelName string) (*CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; ok {
		return nil, ErrExists
	}
	s := &CallSession{
		CallID:      callID,
		ChannelName: channelName,
		Phase:       PhaseInitial,
		CreatedAt:   m.now(),
	}
	m.sessions[callID] = s
	return clone(s), nil
}

func (m *Store) Get(callID string) (*CallSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Save replaces the stored session. It never resurrects a deleted or evicted
// call: saving an unknown id returns ErrNotFound.
func (m *Store) Save(s *CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.CallID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.CallID] = clone(s)
	return nil
}

// Delete removes the session and reports whether it existed.
func (m *Store) Delete(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[callID]
	delete(m.sessions, callID)
	return ok
}

// FindByRecording scans active sessions for the one waiting on handle.
func (m *Store) FindByRecording(handle string) (*CallSession, error) {
	if handle == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.RecordingHandle == handle {
			return clone(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Store) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Snapshots returns every active session ordered by creation time.
func (m *Store) Snapshots() []Snapshot {
	m.mu.RLock()
	now := m.now()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Snapshot(now))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep evicts every session older than the expiry window at now, regardless
// of phase, and returns the evicted sessions.
func (m *Store) Sweep(now time.Time) []*CallSession {
	var expired []*CallSession

	m.mu.Lock()
	for id, s := range m.sessions {
		if !s.Expired(now, m.expiry) {
			continue
		}
		expired = append(expired, clone(s))
		delete(m.sessions, id)
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
	return expired
}

func (m *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.RLock()
				now := m.now()
				m.mu.RUnlock()
				m.Sweep(now)
			}
		}
	}()
}

func clone(s *CallSession) *CallSession {
	c := *s
	if s.ConfirmationAudio != nil {
		c.ConfirmationAudio = append([]byte(nil), s.ConfirmationAudio...)
	}
	return &c
}
