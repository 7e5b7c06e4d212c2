package ari

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/ivrsat/internal/audio"
)

// MediaStore publishes synthesized audio where Asterisk can play it. Files
// are written into a directory under the Asterisk sounds path and addressed
// as sound:<prefix>/<name> without the extension.
type MediaStore struct {
	dir    string
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func NewMediaStore(dir, prefix string, ttl time.Duration) (*MediaStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("media dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MediaStore{
		dir:    dir,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Put writes payload as a WAV file and returns its media URI.
func (m *MediaStore) Put(payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", errors.New("media payload is empty")
	}
	wav, err := audio.EnsureWAV(payload)
	if err != nil {
		return "", fmt.Errorf("wrap media: %w", err)
	}
	name := uuid.NewString()
	tmp := filepath.Join(m.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, wav, 0o644); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	// Rename so Asterisk never opens a half-written file.
	if err := os.Rename(tmp, filepath.Join(m.dir, name+".wav")); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish media: %w", err)
	}
	return "sound:" + path.Join(m.prefix, name), nil
}

// Prune removes published files older than the TTL and returns how many were
// deleted.
func (m *MediaStore) Prune() (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-m.ttl)
	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Run prunes on every tick until ctx is done.
func (m *MediaStore) Run(ctx context.Context, interval time.Duration, onPrune func(int, error)) error {
	if interval <= 0 {
		interval = m.ttl / 4
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.Prune()
			if onPrune != nil {
				onPrune(n, err)
			}
		}
	}
}
