// Package fetch performs blocking HTTP retrievals against the upstream
// knowledge services, retrying transient failures a bounded number of times.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultMaxAttempts is the attempt budget used when Config.MaxAttempts is unset.
const DefaultMaxAttempts = 5

var (
	// ErrNotFound reports that the upstream has no content for the query.
	// It is a legitimate empty result and is never retried.
	ErrNotFound = errors.New("no content for query")

	// ErrExhausted reports that every attempt failed.
	ErrExhausted = errors.New("fetch attempts exhausted")
)

// FetchError is returned once the attempt budget is spent.
// It matches both ErrExhausted and the last underlying cause.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: gave up after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrExhausted, e.Err}
}

// IsNotFound reports whether err signals a legitimate empty upstream result.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// HTTPClient is the subset of *http.Client used by the Fetcher.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds retry and pacing settings.
type Config struct {
	MaxAttempts       int     // attempts per URL before giving up
	RequestsPerSecond float64 // 0 disables pacing
	UserAgent         string
}

// DefaultConfig returns the settings used by the command-line tool.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		UserAgent:   "vibe-gsea",
	}
}

// Fetcher retrieves text documents over HTTP GET.
// Failed attempts are retried immediately; there is no backoff and no
// timeout beyond what the HTTP client itself applies.
type Fetcher struct {
	client  HTTPClient
	cfg     Config
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics
}

// New creates a Fetcher backed by http.DefaultClient.
func New(cfg Config) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	f := &Fetcher{
		client:  http.DefaultClient,
		cfg:     cfg,
		logger:  zap.NewNop(),
		metrics: newMetrics(),
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return f
}

// SetHTTPClient replaces the underlying HTTP client.
func (f *Fetcher) SetHTTPClient(c HTTPClient) {
	f.client = c
}

// SetLogger sets the logger for retry and failure messages.
func (f *Fetcher) SetLogger(l *zap.Logger) {
	f.logger = l
}

// Fetch retrieves url and returns the response body as text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	body, err := f.FetchBytes(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// FetchBytes retrieves url and returns the raw response body.
func (f *Fetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", url, err)
			}
		}

		body, err := f.attempt(ctx, url)
		if err == nil {
			f.metrics.observe(outcomeOK)
			return body, nil
		}
		if IsNotFound(err) {
			f.metrics.observe(outcomeNotFound)
			f.logger.Warn("no upstream data", zap.String("url", url), zap.Error(err))
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
		}

		lastErr = err
		if attempt < f.cfg.MaxAttempts {
			f.metrics.observe(outcomeRetry)
			f.logger.Debug("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	}

	f.metrics.observe(outcomeExhausted)
	f.logger.Error("fetch failed",
		zap.String("url", url),
		zap.Int("attempts", f.cfg.MaxAttempts),
		zap.Error(lastErr))
	return nil, &FetchError{URL: url, Attempts: f.cfg.MaxAttempts, Err: lastErr}
}

// attempt performs a single GET.
func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: HTTP %s", ErrNotFound, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
