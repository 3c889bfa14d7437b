package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AudioCacheRepo stores synthesized audio for static content keyed by
// (voice, text). Entries are overwritten idempotently and never expire.
type AudioCacheRepo struct {
	db *DB
}

// NewAudioCacheRepo creates an AudioCacheRepo backed by db.
func NewAudioCacheRepo(db *DB) *AudioCacheRepo {
	return &AudioCacheRepo{db: db}
}

// Put stores or replaces the audio for one (voice, text) pair.
func (r *AudioCacheRepo) Put(ctx context.Context, voice, text string, audio []byte) error {
	const query = `INSERT OR REPLACE INTO audio_cache (voice, text, audio, created_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)`

	if _, err := r.db.Writer.ExecContext(ctx, query, voice, text, audio); err != nil {
		return fmt.Errorf("store cached audio: %w", err)
	}
	return nil
}

// Get fetches the cached audio for one (voice, text) pair.
// The second return value is false on a cache miss.
func (r *AudioCacheRepo) Get(ctx context.Context, voice, text string) ([]byte, bool, error) {
	const query = `SELECT audio FROM audio_cache WHERE voice = ? AND text = ?`

	var audio []byte
	err := r.db.Reader.QueryRowContext(ctx, query, voice, text).Scan(&audio)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cached audio: %w", err)
	}
	return audio, true, nil
}

// Count returns the number of cached entries.
func (r *AudioCacheRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM audio_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count cached audio: %w", err)
	}
	return n, nil
}
