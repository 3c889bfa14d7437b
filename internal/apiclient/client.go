package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/dannyai/assistant-gateway/internal/keypool"
	"github.com/dannyai/assistant-gateway/internal/observability"
)

// Notifier receives a user-facing signal that the client moved on to the
// next credential after a failed attempt ("switching providers" feedback).
type Notifier func(service string, attempt int, err error)

// Client performs HTTP POSTs against one upstream service, transparently
// retrying across the credentials of its pool until one succeeds or every
// ready candidate is exhausted.
type Client struct {
	service    string
	pool       *keypool.Pool
	auth       keypool.Authenticator
	httpClient *http.Client
	prober     *keypool.Prober
	notifiers  []Notifier
	logger     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithProber attaches a background prober that gets kicked when the pool is
// found exhausted, to speed recovery for the next call.
func WithProber(p *keypool.Prober) ClientOption {
	return func(c *Client) { c.prober = p }
}

// WithNotifier registers a credential-switch observer.
func WithNotifier(n Notifier) ClientOption {
	return func(c *Client) { c.notifiers = append(c.notifiers, n) }
}

// WithTimeout sets the per-attempt request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a resilient client for the named service.
func New(service string, pool *keypool.Pool, auth keypool.Authenticator, opts ...ClientOption) *Client {
	c := &Client{
		service:    service,
		pool:       pool,
		auth:       auth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     observability.GetLogger().With().Str("service", service).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post marshals body as JSON and POSTs it to url, trying the pool's ready
// credentials in rank order. The first 2xx response wins and its body is
// returned. Every non-2xx status or transport error counts as a failure for
// that credential and the next candidate is tried. When no candidate
// succeeds the call fails with an AllCredentialsFailedError.
func (c *Client) Post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	candidates := c.pool.RankCandidates(time.Now())
	if len(candidates) == 0 {
		observability.RecordPoolExhaustion(c.service)
		if c.prober != nil {
			c.prober.Kick()
		}
		return nil, &AllCredentialsFailedError{
			Service: c.service,
			LastErr: fmt.Errorf("no ready credentials in pool"),
		}
	}

	var lastErr error
	for attempt, cred := range candidates {
		c.pool.MarkUsed(cred)
		start := time.Now()

		data, err := c.attempt(ctx, url, payload, cred.Secret())
		if err == nil {
			c.pool.RecordSuccess(cred)
			observability.RecordUpstreamRequest(c.service, true)
			observability.ObserveUpstreamLatency(c.service, time.Since(start).Seconds())
			return data, nil
		}

		// Context cancellation is not a credential's fault: stop without
		// poisoning its health state.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.pool.RecordFailure(cred)
		observability.RecordUpstreamRequest(c.service, false)
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("candidates", len(candidates)).
			Msg("Upstream attempt failed, trying next credential")

		if attempt < len(candidates)-1 {
			observability.RecordCredentialSwitch(c.service)
			for _, notify := range c.notifiers {
				notify(c.service, attempt+1, err)
			}
		}
	}

	observability.RecordPoolExhaustion(c.service)
	if c.prober != nil {
		c.prober.Kick()
	}
	return nil, &AllCredentialsFailedError{
		Service:  c.service,
		Attempts: len(candidates),
		LastErr:  lastErr,
	}
}

func (c *Client) attempt(ctx context.Context, url string, payload []byte, secret string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		c.auth(req, secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the error carries upstream detail.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}
