package fetcher

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"stamp-price-tracker/internal/config"
	"stamp-price-tracker/internal/observability"
)

// Request одна страница раздела
type Request struct {
	URL      string
	Referer  string
	Encoding string
}

type FetchResponse struct {
	StatusCode int
	Body       []byte
	URL        string
	Headers    http.Header
}

// Fetcher один запрос страницы; повторы выполняет вызывающий код
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*FetchResponse, error)
}

type HTTPFetcher struct {
	client      *http.Client
	cfg         *config.Config
	logger      *observability.Logger
	metrics     *observability.Metrics
	robotsCache *RobotsCache
	rateLimiter *RateLimiter
}

type Option func(*HTTPFetcher)

// WithHTTPClient подменяет HTTP клиент (в тестах транспорт httpmock)
func WithHTTPClient(client *http.Client) Option {
	return func(f *HTTPFetcher) {
		f.client = client
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(f *HTTPFetcher) {
		f.metrics = m
	}
}

func NewHTTPFetcher(cfg *config.Config, logger *observability.Logger, opts ...Option) *HTTPFetcher {
	client := &http.Client{
		Timeout: cfg.GetTotalTimeout(),
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.HTTP.MaxIdleConnections,
			MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnectionsPerHost,
			IdleConnTimeout:     cfg.GetIdleConnectionTimeout(),
		},
	}

	f := &HTTPFetcher{
		client:      client,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: NewRateLimiter(cfg.RateLimit.MaxConcurrentPerHost, cfg.RateLimit.RPM),
	}
	if cfg.Robots.Respect {
		f.robotsCache = NewRobotsCache(cfg.GetRobotsCacheTTL(), cfg.Robots.Agent, logger)
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*FetchResponse, error) {
	parsedURL, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", req.URL, err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: missing host", req.URL)
	}

	if f.robotsCache != nil && !f.robotsCache.IsAllowed(ctx, parsedURL, f.client) {
		return nil, fmt.Errorf("%s: %w", req.URL, ErrDisallowed)
	}

	if err := f.rateLimiter.Wait(ctx, parsedURL.Host); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	resp, err := f.fetchOnce(ctx, req)
	f.metrics.ObserveFetch(time.Since(start))
	if err != nil {
		f.metrics.IncFetchError(ErrorKind(err))
		return nil, err
	}

	return resp, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, r Request) (*FetchResponse, error) {
	// Отдельный таймаут на попытку
	ctx, cancel := context.WithTimeout(ctx, f.cfg.GetConnectTimeout()+f.cfg.GetTotalTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", f.cfg.HTTP.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Connection", "keep-alive")
	if f.cfg.HTTP.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", f.cfg.HTTP.AcceptLanguage)
	}
	if r.Referer != "" {
		req.Header.Set("Referer", r.Referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, requestError(r.URL, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Warn("Failed to close response body", "url", r.URL, "error", err.Error())
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, statusError(r.URL, resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &TransportError{Kind: KindConnection, URL: r.URL, Err: err}
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, requestError(r.URL, err)
	}

	body, err := Decode(raw, r.Encoding, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &TransportError{Kind: KindDecode, URL: r.URL, Err: err}
	}

	f.logger.Debug("Page fetched",
		"url", r.URL,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
		"raw_bytes", len(raw),
		"body_bytes", len(body),
	)

	finalURL := r.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &FetchResponse{
		StatusCode: resp.StatusCode,
		Body:       body,
		URL:        finalURL,
		Headers:    resp.Header,
	}, nil
}
