package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"stamp-price-tracker/internal/observability"
)

type RobotsCache struct {
	cache  map[string]*robotsEntry
	ttl    time.Duration
	agent  string
	mu     sync.RWMutex
	logger *observability.Logger
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	expiresAt time.Time
}

func NewRobotsCache(ttl time.Duration, agent string, logger *observability.Logger) *RobotsCache {
	return &RobotsCache{
		cache:  make(map[string]*robotsEntry),
		ttl:    ttl,
		agent:  agent,
		logger: logger,
	}
}

// IsAllowed проверяет URL по robots.txt хоста. Если robots.txt недоступен
// по сети, запрос разрешается.
func (rc *RobotsCache) IsAllowed(ctx context.Context, target *url.URL, client *http.Client) bool {
	origin := target.Scheme + "://" + target.Host

	rc.mu.RLock()
	cached, exists := rc.cache[origin]
	rc.mu.RUnlock()

	if !exists || time.Now().After(cached.expiresAt) {
		data, ok := rc.fetch(ctx, origin, client)
		if !ok {
			return true
		}
		cached = &robotsEntry{data: data, expiresAt: time.Now().Add(rc.ttl)}

		rc.mu.Lock()
		rc.cache[origin] = cached
		rc.mu.Unlock()
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	if target.RawQuery != "" {
		path += "?" + target.RawQuery
	}

	return cached.data.TestAgent(path, rc.agent)
}

func (rc *RobotsCache) fetch(ctx context.Context, origin string, client *http.Client) (*robotstxt.RobotsData, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, false
	}

	resp, err := client.Do(req)
	if err != nil {
		rc.logger.Debug("robots.txt unavailable, allowing", "origin", origin, "error", err.Error())
		return nil, false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			rc.logger.Warn("Failed to close robots.txt body", "error", err.Error())
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, false
	}

	// 4xx разрешает всё, 5xx запрещает всё
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		rc.logger.Warn("Failed to parse robots.txt, allowing", "origin", origin, "error", err.Error())
		return nil, false
	}

	return data, true
}
