package keypool

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dannyai/assistant-gateway/internal/observability"
)

// Authenticator applies one credential's secret to an outgoing request.
type Authenticator func(req *http.Request, secret string)

// Prober periodically checks unhealthy credentials against a lightweight
// upstream endpoint and flips them healthy on success, so recovery does not
// have to wait for a live request. Probes are fire-and-forget: they only
// touch shared health state and never block foreground traffic.
type Prober struct {
	pool       *Pool
	probeURL   string
	auth       Authenticator
	interval   time.Duration
	httpClient *http.Client
	kick       chan struct{}
	logger     zerolog.Logger
}

// NewProber creates a prober for the given pool. probeURL should be a cheap
// authenticated GET endpoint on the same upstream (a model list works well).
func NewProber(pool *Pool, probeURL string, auth Authenticator, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Prober{
		pool:       pool,
		probeURL:   probeURL,
		auth:       auth,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		kick:       make(chan struct{}, 1),
		logger:     observability.GetLogger().With().Str("service", pool.Service()).Logger(),
	}
}

// Start runs the probe loop until ctx is cancelled.
func (pr *Prober) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(pr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pr.ProbeOnce(ctx)
			case <-pr.kick:
				pr.ProbeOnce(ctx)
			}
		}
	}()
}

// Kick requests an out-of-cycle probe run, typically after a request found
// the pool exhausted. Non-blocking; concurrent kicks coalesce.
func (pr *Prober) Kick() {
	select {
	case pr.kick <- struct{}{}:
	default:
	}
}

// ProbeOnce probes every unhealthy credential once. Successful probes mark
// the credential healthy through the normal pool accounting.
func (pr *Prober) ProbeOnce(ctx context.Context) {
	for _, cred := range pr.pool.Credentials() {
		if cred.Healthy() {
			continue
		}
		if pr.probe(ctx, cred) {
			pr.logger.Info().Msg("Credential recovered by background probe")
			pr.pool.RecordRecovery(cred)
			observability.RecordCredentialProbe(pr.pool.Service(), true)
		} else {
			observability.RecordCredentialProbe(pr.pool.Service(), false)
		}
	}
}

func (pr *Prober) probe(ctx context.Context, cred *Credential) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pr.probeURL, nil)
	if err != nil {
		return false
	}
	if pr.auth != nil {
		pr.auth(req, cred.Secret())
	}

	resp, err := pr.httpClient.Do(req)
	if err != nil {
		pr.logger.Debug().Err(err).Msg("Credential probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
