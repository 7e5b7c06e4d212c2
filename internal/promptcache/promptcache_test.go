package promptcache

import (
	"context"
	"os"
	"testing"
)

func TestKeyIsStable(t *testing.T) {
	if Key("Por favor, intente de nuevo") != Key("  Por favor, intente de nuevo\n") {
		t.Fatalf("Key() differs on surrounding whitespace")
	}
	if Key("uno") == Key("dos") {
		t.Fatalf("Key() collides for different texts")
	}
}

func TestInMemoryStoreEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(2)
	_ = s.Put(ctx, "a", "A", []byte("1"))
	_ = s.Put(ctx, "b", "B", []byte("2"))
	_ = s.Put(ctx, "a", "A", []byte("3"))
	_ = s.Put(ctx, "c", "C", []byte("4"))

	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatalf("oldest entry not evicted")
	}
	got, ok, err := s.Get(ctx, "c")
	if err != nil || !ok || string(got) != "4" {
		t.Fatalf("Get(c) = %q, %v, %v", got, ok, err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
}

func TestNewStoreWithoutDatabaseIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\") = %T, want *InMemoryStore", s)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("IVRSAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("IVRSAT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()

	key := Key("prueba de cache")
	if err := s.Put(ctx, key, "prueba de cache", []byte("RIFF")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok, err := s.Get(ctx, key)
	if err != nil || !ok || string(got) != "RIFF" {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}
	if _, ok, _ := s.Get(ctx, Key("no existe")); ok {
		t.Fatalf("Get(missing) reported a hit")
	}
}
