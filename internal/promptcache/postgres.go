package promptcache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore shares synthesized prompts across service instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS prompt_audio (
			key TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			audio BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var audio []byte
	err := s.pool.QueryRow(ctx, `SELECT audio FROM prompt_audio WHERE key=$1`, key).Scan(&audio)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get prompt audio: %w", err)
	}
	return audio, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, text string, audio []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompt_audio (key, text, audio) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET text = EXCLUDED.text, audio = EXCLUDED.audio, created_at = now()`,
		key, text, audio,
	)
	if err != nil {
		return fmt.Errorf("put prompt audio: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
