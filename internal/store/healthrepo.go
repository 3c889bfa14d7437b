package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dannyai/assistant-gateway/internal/keypool"
)

// Compile-time interface satisfaction check.
var _ keypool.HealthStore = (*HealthRepo)(nil)

// HealthRepo persists per-credential health snapshots keyed by the literal
// credential value, so pool state survives a process restart.
type HealthRepo struct {
	db *DB
}

// NewHealthRepo creates a HealthRepo backed by db.
func NewHealthRepo(db *DB) *HealthRepo {
	return &HealthRepo{db: db}
}

// SaveCredentialHealth stores or replaces the snapshot for one credential.
func (r *HealthRepo) SaveCredentialHealth(ctx context.Context, secret string, snap keypool.Snapshot) error {
	const query = `INSERT OR REPLACE INTO credential_health
		(secret, healthy, consecutive_failures, last_failure, last_used, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`

	healthy := 0
	if snap.Healthy {
		healthy = 1
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		secret, healthy, snap.ConsecutiveFailures,
		formatTime(snap.LastFailure), formatTime(snap.LastUsed))
	if err != nil {
		return fmt.Errorf("save credential health: %w", err)
	}
	return nil
}

// LoadCredentialHealth fetches the snapshot for one credential.
// The second return value is false when no snapshot exists.
func (r *HealthRepo) LoadCredentialHealth(ctx context.Context, secret string) (keypool.Snapshot, bool, error) {
	const query = `SELECT healthy, consecutive_failures, last_failure, last_used
		FROM credential_health WHERE secret = ?`

	var (
		snap              keypool.Snapshot
		healthy           int
		lastFail, lastUse sql.NullString
	)
	err := r.db.Reader.QueryRowContext(ctx, query, secret).
		Scan(&healthy, &snap.ConsecutiveFailures, &lastFail, &lastUse)
	if errors.Is(err, sql.ErrNoRows) {
		return keypool.Snapshot{}, false, nil
	}
	if err != nil {
		return keypool.Snapshot{}, false, fmt.Errorf("load credential health: %w", err)
	}

	snap.Healthy = healthy == 1
	if snap.LastFailure, err = parseTime(lastFail); err != nil {
		return keypool.Snapshot{}, false, fmt.Errorf("parse last_failure: %w", err)
	}
	if snap.LastUsed, err = parseTime(lastUse); err != nil {
		return keypool.Snapshot{}, false, fmt.Errorf("parse last_used: %w", err)
	}
	return snap, true, nil
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}
