package keypool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dannyai/assistant-gateway/internal/observability"
)

// ErrNoCredentials is returned when a pool is constructed without any keys.
// A service without credentials is a fatal configuration error.
var ErrNoCredentials = errors.New("credential pool is empty")

const (
	// DefaultCooldownBase is the cooldown after the first failure.
	DefaultCooldownBase = 60 * time.Second
	// DefaultCooldownMax caps the exponential cooldown growth.
	DefaultCooldownMax = 30 * time.Minute
)

// Pool is an ordered set of credentials for one upstream service. It tracks
// per-credential health and produces a ranked candidate list for the next
// request attempt. Health mutations are persisted through the optional
// HealthStore so state survives restarts.
type Pool struct {
	service      string
	cooldownBase time.Duration
	cooldownMax  time.Duration

	mu    sync.RWMutex
	creds []*Credential

	store  HealthStore
	logger zerolog.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithHealthStore attaches a durable snapshot store. Previously persisted
// health state is restored for matching credential values.
func WithHealthStore(store HealthStore) Option {
	return func(p *Pool) { p.store = store }
}

// WithCooldown overrides the backoff policy constants.
func WithCooldown(base, max time.Duration) Option {
	return func(p *Pool) {
		if base > 0 {
			p.cooldownBase = base
		}
		if max > 0 {
			p.cooldownMax = max
		}
	}
}

// New creates a pool for the named service from the configured secrets,
// in priority order. Returns ErrNoCredentials when secrets is empty.
func New(service string, secrets []string, opts ...Option) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, fmt.Errorf("%w for service %q", ErrNoCredentials, service)
	}

	p := &Pool{
		service:      service,
		cooldownBase: DefaultCooldownBase,
		cooldownMax:  DefaultCooldownMax,
		logger:       observability.GetLogger().With().Str("service", service).Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, secret := range secrets {
		cred := &Credential{mu: &p.mu, secret: secret, healthy: true}
		if p.store != nil {
			snap, ok, err := p.store.LoadCredentialHealth(context.Background(), secret)
			if err != nil {
				p.logger.Warn().Err(err).Msg("Failed to load credential health snapshot")
			} else if ok {
				cred.restore(snap)
			}
		}
		p.creds = append(p.creds, cred)
	}

	p.publishHealthGauge()
	return p, nil
}

// Service returns the upstream service name this pool belongs to.
func (p *Pool) Service() string {
	return p.service
}

// Size returns the number of credentials in the pool.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.creds)
}

// HealthyCount returns the number of credentials currently marked healthy.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthyCountLocked()
}

func (p *Pool) healthyCountLocked() int {
	n := 0
	for _, c := range p.creds {
		if c.healthy {
			n++
		}
	}
	return n
}

// RecordSuccess marks a request success: the credential becomes healthy, its
// failure streak resets, and its last-use stamp advances.
func (p *Pool) RecordSuccess(cred *Credential) {
	p.mu.Lock()
	cred.healthy = true
	cred.consecutiveFailures = 0
	cred.lastFailure = time.Time{}
	cred.lastUsed = time.Now()
	snap := cred.snapshot()
	p.publishHealthGaugeLocked()
	p.mu.Unlock()

	p.persist(cred.secret, snap)
}

// RecordFailure marks a request failure: the credential becomes unhealthy,
// its failure streak grows, and the failure time is stamped.
func (p *Pool) RecordFailure(cred *Credential) {
	p.mu.Lock()
	cred.healthy = false
	cred.consecutiveFailures++
	cred.lastFailure = time.Now()
	failures := cred.consecutiveFailures
	snap := cred.snapshot()
	p.publishHealthGaugeLocked()
	p.mu.Unlock()

	p.logger.Warn().
		Int("consecutive_failures", failures).
		Dur("cooldown", p.Cooldown(failures)).
		Msg("Credential marked unhealthy")

	p.persist(cred.secret, snap)
}

// RecordRecovery marks a credential healthy again after a successful
// background probe. Unlike RecordSuccess it leaves lastUsed alone: the
// credential served no request, so its least-recently-used rank must not
// advance.
func (p *Pool) RecordRecovery(cred *Credential) {
	p.mu.Lock()
	cred.healthy = true
	cred.consecutiveFailures = 0
	cred.lastFailure = time.Time{}
	snap := cred.snapshot()
	p.publishHealthGaugeLocked()
	p.mu.Unlock()

	p.persist(cred.secret, snap)
}

// MarkUsed stamps the credential as just used, without changing health.
func (p *Pool) MarkUsed(cred *Credential) {
	p.mu.Lock()
	cred.lastUsed = time.Now()
	p.mu.Unlock()
}

// RankCandidates returns the credentials that are ready for an attempt at
// the given instant, best first. A credential is ready when it is healthy or
// its cooldown has elapsed since the last failure. Healthy credentials rank
// before cooled-down unhealthy ones; ties break least-recently-used so load
// spreads round-robin under equal health. An empty result means the pool is
// exhausted.
func (p *Pool) RankCandidates(now time.Time) []*Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ready := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.healthy || now.Sub(c.lastFailure) > p.Cooldown(c.consecutiveFailures) {
			ready = append(ready, c)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.healthy != b.healthy {
			return a.healthy
		}
		return a.lastUsed.Before(b.lastUsed)
	})

	return ready
}

// Cooldown returns the minimum wait before retrying a credential with the
// given failure streak: the base period doubled per failure beyond the first,
// capped at the maximum.
func (p *Pool) Cooldown(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := p.cooldownBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= p.cooldownMax {
			return p.cooldownMax
		}
	}
	if d > p.cooldownMax {
		return p.cooldownMax
	}
	return d
}

// Credentials returns the pool's credentials in configuration order.
// Intended for the background prober.
func (p *Pool) Credentials() []*Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Credential, len(p.creds))
	copy(out, p.creds)
	return out
}

func (p *Pool) persist(secret string, snap Snapshot) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SaveCredentialHealth(ctx, secret, snap); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to persist credential health snapshot")
	}
}

func (p *Pool) publishHealthGauge() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	p.publishHealthGaugeLocked()
}

func (p *Pool) publishHealthGaugeLocked() {
	observability.SetHealthyCredentials(p.service, p.healthyCountLocked())
}
