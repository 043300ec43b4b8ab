package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
)

// maxBodySize bounds a single index or archive download.
const maxBodySize = 256 << 20

// statusError is an HTTP answer that is neither success nor a known sentinel.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// HTTPFetcher downloads indexes and archives from HTTP repositories.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	retry     *RetryConfig
	breakers  *breakerSet
	etags     ETagStore
	verifier  Verifier
	logger    *slog.Logger
	resolver  *dnscache.Resolver
	stop      chan struct{}
	stopOnce  sync.Once
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithHTTPClient sets a custom HTTP client. The DNS cache is not used with a custom client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) {
		f.userAgent = ua
	}
}

// WithRetry sets the retry policy.
func WithRetry(cfg *RetryConfig) Option {
	return func(f *HTTPFetcher) {
		if cfg != nil {
			f.retry = cfg
		}
	}
}

// WithTimeout sets the overall timeout of a single request.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithETagStore enables conditional requests backed by store.
func WithETagStore(store ETagStore) Option {
	return func(f *HTTPFetcher) {
		f.etags = store
	}
}

// WithVerifier sets the index verifier used when FetchIndex is asked to verify.
func WithVerifier(v Verifier) Option {
	return func(f *HTTPFetcher) {
		f.verifier = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *HTTPFetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithBreakerThreshold sets the consecutive failures after which a host is cut off.
func WithBreakerThreshold(n int64) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.breakers = newBreakerSet(n)
		}
	}
}

// NewHTTPFetcher creates an HTTPFetcher with a DNS-caching transport.
// Close stops the DNS refresh loop.
func NewHTTPFetcher(opts ...Option) *HTTPFetcher {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	f := &HTTPFetcher{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					var lastErr error
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
						lastErr = err
					}
					if lastErr == nil {
						lastErr = fmt.Errorf("no addresses for %s", host)
					}
					return nil, lastErr
				},
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		userAgent: "apkdb/1.0",
		retry:     DefaultRetryConfig(),
		breakers:  newBreakerSet(5),
		logger:    slog.New(slog.DiscardHandler),
		resolver:  resolver,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resolver.Refresh(true)
			case <-f.stop:
				return
			}
		}
	}()
	return f
}

// Close stops background DNS refreshing.
func (f *HTTPFetcher) Close() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// FetchIndex downloads an index. With an ETag store configured the request is
// conditional and ErrNotModified reports an unchanged index. The ETag is only
// recorded after the index passed verification.
func (f *HTTPFetcher) FetchIndex(ctx context.Context, url string, verify bool) ([]byte, error) {
	var etag string
	if f.etags != nil {
		var err error
		if etag, err = f.etags.GetETag(url); err != nil {
			f.logger.Warn("read etag", "url", url, "error", err)
			etag = ""
		}
	}

	data, newTag, err := f.get(ctx, url, etag)
	if err != nil {
		return nil, err
	}

	if verify && f.verifier != nil {
		if err := f.verifier.VerifyIndex(ctx, data); err != nil {
			return nil, fmt.Errorf("verify %s: %w", url, err)
		}
	}

	if f.etags != nil && newTag != "" {
		if err := f.etags.SetETag(url, newTag); err != nil {
			f.logger.Warn("store etag", "url", url, "error", err)
		}
	}
	return data, nil
}

// FetchArchive downloads a package archive.
func (f *HTTPFetcher) FetchArchive(ctx context.Context, url string) ([]byte, error) {
	data, _, err := f.get(ctx, url, "")
	return data, err
}

// BreakerStates returns the circuit breaker state per repository host.
func (f *HTTPFetcher) BreakerStates() map[string]string {
	return f.breakers.states()
}

func (f *HTTPFetcher) get(ctx context.Context, url, etag string) (data []byte, newTag string, err error) {
	start := time.Now()
	err = f.breakers.call(url, func() error {
		return f.retry.retry(ctx, "fetch "+url, func() error {
			data, newTag, err = f.doGet(ctx, url, etag)
			return err
		})
	})
	f.logger.Debug("fetch", "url", url, "bytes", len(data), "duration", time.Since(start), "error", err)
	if err != nil {
		return nil, "", err
	}
	return data, newTag, nil
}

func (f *HTTPFetcher) doGet(ctx context.Context, url, etag string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %v: %w", err, ErrBadURL)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", url, err)
		}
		if len(body) > maxBodySize {
			return nil, "", &statusError{Status: resp.StatusCode, Body: "response too large"}
		}
		return body, resp.Header.Get("ETag"), nil

	case resp.StatusCode == http.StatusNotModified:
		return nil, "", ErrNotModified

	case resp.StatusCode == http.StatusNotFound:
		return nil, "", ErrNotFound

	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", ErrRateLimited

	case resp.StatusCode >= 500:
		return nil, "", ErrUpstreamDown

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", &statusError{Status: resp.StatusCode, Body: string(body)}
	}
}
