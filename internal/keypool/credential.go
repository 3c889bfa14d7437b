package keypool

import (
	"context"
	"sync"
	"time"
)

// Credential is one upstream API key together with its health state.
// All mutation goes through the owning Pool, whose lock mu points at; the
// getters take a read lock so they are safe against concurrent pool writes
// (the background prober reads while foreground requests record outcomes).
type Credential struct {
	mu *sync.RWMutex

	secret              string
	healthy             bool
	consecutiveFailures int
	lastFailure         time.Time
	lastUsed            time.Time
}

// Secret returns the opaque credential value used for upstream auth.
// The secret is immutable, so no lock is needed.
func (c *Credential) Secret() string {
	return c.secret
}

// Healthy reports whether the credential is currently marked healthy.
func (c *Credential) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

// ConsecutiveFailures returns the current failure streak.
func (c *Credential) ConsecutiveFailures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.consecutiveFailures
}

// Snapshot is the persistable health state of one credential.
type Snapshot struct {
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
	LastUsed            time.Time `json:"last_used"`
}

// HealthStore persists credential health snapshots so that pool state
// survives a process restart. Snapshots are keyed by the literal credential
// value.
type HealthStore interface {
	SaveCredentialHealth(ctx context.Context, secret string, snap Snapshot) error
	LoadCredentialHealth(ctx context.Context, secret string) (Snapshot, bool, error)
}

func (c *Credential) snapshot() Snapshot {
	return Snapshot{
		Healthy:             c.healthy,
		ConsecutiveFailures: c.consecutiveFailures,
		LastFailure:         c.lastFailure,
		LastUsed:            c.lastUsed,
	}
}

func (c *Credential) restore(snap Snapshot) {
	c.healthy = snap.Healthy
	c.consecutiveFailures = snap.ConsecutiveFailures
	c.lastFailure = snap.LastFailure
	c.lastUsed = snap.LastUsed
	// A healthy credential never carries a failure streak.
	if c.healthy {
		c.consecutiveFailures = 0
		c.lastFailure = time.Time{}
	}
}
