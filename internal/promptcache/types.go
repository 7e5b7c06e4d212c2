package promptcache

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Store caches synthesized audio for fixed prompt texts.
type Store interface {
	// Get returns the cached audio for key; ok is false on a miss.
	Get(ctx context.Context, key string) (audio []byte, ok bool, err error)
	Put(ctx context.Context, key, text string, audio []byte) error
	Close() error
}

var keyNamespace = uuid.MustParse("5b0e3f8a-4c1d-4b6e-9a57-3f1d2c7e8b90")

// Key derives a stable cache key from prompt text. Texts differing only in
// surrounding whitespace share a key.
func Key(text string) string {
	return uuid.NewSHA1(keyNamespace, []byte(strings.TrimSpace(text))).String()
}
