package scrape

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/outagelens/internal/cache"
	"github.com/ppiankov/outagelens/internal/model"
	"github.com/ppiankov/outagelens/internal/util"
	"github.com/ppiankov/outagelens/internal/worker"
	"go.uber.org/zap"
)

// ErrDisallowed is returned when robots.txt forbids fetching a URL
var ErrDisallowed = errors.New("disallowed by robots.txt")

const maxFetchAttempts = 3

// fetchSleepFunc is replaced in tests to skip backoff
var fetchSleepFunc = time.Sleep

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}

// Page is a fetched HTML document
type Page struct {
	URL       string
	FinalURL  string
	HTML      string
	FetchedAt time.Time
	FromCache bool
}

// PageFetcher retrieves pages with retries
type PageFetcher interface {
	FetchWithRetry(ctx context.Context, rawURL string) (*Page, error)
}

// Fetcher fetches HTML content from URLs, honouring robots.txt, per-host rate
// limits and the page cache when configured
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	limiter    *worker.Limiter
	robots     *util.RobotsChecker
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// FetcherOption configures a Fetcher
type FetcherOption func(*Fetcher)

// WithLimiter throttles requests per host
func WithLimiter(l *worker.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = l }
}

// WithRobots enables robots.txt checks using the fetcher's own HTTP client
func WithRobots(ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.robots = util.NewRobotsChecker(f.httpClient, f.userAgent, ttl)
	}
}

// WithCache stores successful pages for ttl
func WithCache(c cache.Cache, ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.cache = c
		f.cacheTTL = ttl
	}
}

// WithFetchLogger sets the logger
func WithFetchLogger(logger *zap.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = logger }
}

// NewFetcher creates a new Fetcher with the given configuration
func NewFetcher(cfg model.HTTPConfig, opts ...FetcherOption) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy)
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for intercepting proxies
	}

	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}

	f := &Fetcher{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
		maxBytes:  maxBytes,
		cache:     cache.Nop{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves HTML content from the given URL in a single attempt
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	key := cache.PageKey(rawURL)
	if data, ok := f.cache.Get(key); ok {
		return &Page{URL: rawURL, FinalURL: rawURL, HTML: string(data), FetchedAt: time.Now(), FromCache: true}, nil
	}

	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
		if delay > 0 && f.limiter != nil {
			if host, err := hostOf(rawURL); err == nil && f.limiter.ApplyCrawlDelay(host, delay) {
				f.logger.Debug("crawl-delay applied", zap.String("host", host), zap.Duration("delay", delay))
			}
		}
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-CA,en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	// Read body with size limit
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if err := f.cache.Set(key, body, f.cacheTTL); err != nil {
		f.logger.Debug("page cache write failed", zap.String("url", rawURL), zap.Error(err))
	}

	return &Page{
		URL:       rawURL,
		FinalURL:  resp.Request.URL.String(),
		HTML:      string(body),
		FetchedAt: time.Now(),
	}, nil
}

// FetchWithRetry fetches with exponential backoff on transient failures
func (f *Fetcher) FetchWithRetry(ctx context.Context, rawURL string) (*Page, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		if attempt > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			f.logger.Debug("retrying fetch",
				zap.String("url", rawURL),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			fetchSleepFunc(backoff)
		}

		page, err := f.Fetch(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !isRetryableFetchError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// isRetryableFetchError reports whether a fetch failure is worth another attempt:
// transport errors, 429 and 5xx responses
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusTooManyRequests || status.Code >= 500
	}
	return strings.HasPrefix(err.Error(), "fetch: ")
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", rawURL)
	}
	return u.Host, nil
}
