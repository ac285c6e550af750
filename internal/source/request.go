package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

// HTTPConfig carries the retry and transport settings shared by all providers.
type HTTPConfig struct {
	Timeout        time.Duration
	RateLimitDelay time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	Proxy          string
}

// Option configures a provider client.
type Option func(*Requester)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Requester) {
		r.client = hc
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(r *Requester) {
		if value != "" {
			r.header.Set(key, value)
		}
	}
}

// Requester performs GET requests with the rate-limit and backoff discipline of one provider.
type Requester struct {
	provider       string
	client         *http.Client
	header         http.Header
	rateLimitCodes map[int]bool
	rateLimitDelay time.Duration
	retryBackoff   time.Duration
	maxRetries     int
}

// NewRequester builds a Requester for provider. HTTP 429 and any of rateLimitCodes
// count as rate limiting.
func NewRequester(provider string, cfg HTTPConfig, rateLimitCodes []int, opts ...Option) *Requester {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if cfg.Proxy != "" {
		if u, err := url.Parse(cfg.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Requester{
		provider: provider,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		header:         http.Header{},
		rateLimitCodes: map[int]bool{http.StatusTooManyRequests: true},
		rateLimitDelay: cfg.RateLimitDelay,
		retryBackoff:   cfg.RetryBackoff,
		maxRetries:     cfg.MaxRetries,
	}
	for _, code := range rateLimitCodes {
		r.rateLimitCodes[code] = true
	}
	r.header.Set("User-Agent", "Mozilla/5.0")
	r.header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the body of a 2xx response. Rate-limit responses wait the fixed
// rate-limit delay; transport errors and 5xx back off exponentially. Both are
// bounded by maxRetries. Other statuses fail immediately with KindStatus.
func (r *Requester) Get(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	fullURL := endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr *FetchError
	backoff := r.retryBackoff
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if lastErr.Kind == KindRateLimited {
				wait = r.rateLimitDelay
			} else {
				backoff *= 2
			}
			log.Debug().
				Str("provider", r.provider).
				Int("attempt", attempt).
				Dur("wait", wait).
				Str("reason", lastErr.Kind.String()).
				Msg("retrying request")
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		body, ferr := r.do(ctx, fullURL)
		if ferr == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = ferr
		if ferr.Kind == KindStatus && ferr.StatusCode < 500 {
			return nil, ferr
		}
	}
	return nil, lastErr
}

func (r *Requester) do(ctx context.Context, fullURL string) ([]byte, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, &FetchError{Provider: r.provider, Kind: KindTransport, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header = r.header.Clone()

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: r.provider, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Provider: r.provider, Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
	}

	if r.rateLimitCodes[resp.StatusCode] {
		return nil, &FetchError{Provider: r.provider, Kind: KindRateLimited, StatusCode: resp.StatusCode, Body: body, Err: ErrRateLimited}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Provider: r.provider, Kind: KindStatus, StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
