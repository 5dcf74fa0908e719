package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stamp-price-tracker/internal/catalog"
	"stamp-price-tracker/internal/config"
	"stamp-price-tracker/internal/fetcher"
	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/scraper"
)

// Причины остановки обхода раздела
const (
	StopMaxPages    = "max_pages"
	StopNoResults   = "no_results"
	StopFetchFailed = "fetch_failed"
	StopParseFailed = "parse_failed"
	StopEmptyPages  = "empty_pages"
	StopCancelled   = "cancelled"
)

// CrawlStats итог обхода одного раздела
type CrawlStats struct {
	SectionID     string
	Pages         int
	Listings      int
	Records       int
	Retries       int
	Rejections    map[string]int
	StoppedReason string
	// LastError последняя ошибка загрузки или разбора, если обход прерван ею
	LastError error
}

// SleepFunc пауза, прерываемая контекстом
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type PageCrawler struct {
	cfg       *config.Config
	fetcher   fetcher.Fetcher
	scraper   *scraper.Scraper
	extractor *scraper.Extractor
	logger    *observability.Logger
	metrics   *observability.Metrics

	sleep SleepFunc
	randN func(n int64) int64
}

func NewPageCrawler(
	cfg *config.Config,
	f fetcher.Fetcher,
	s *scraper.Scraper,
	e *scraper.Extractor,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *PageCrawler {
	return &PageCrawler{
		cfg:       cfg,
		fetcher:   f,
		scraper:   s,
		extractor: e,
		logger:    logger,
		metrics:   metrics,
		sleep:     sleepContext,
		randN:     rand.Int64N,
	}
}

// WithSleep подменяет паузы (для тестов)
func (c *PageCrawler) WithSleep(sleep SleepFunc) *PageCrawler {
	c.sleep = sleep
	return c
}

// PageURL адрес страницы раздела: первая страница = base_url,
// остальные = base_url + page_pattern с подставленным номером
func PageURL(section config.SectionConfig, page int) (string, error) {
	raw := section.BaseURL
	if page > 1 {
		if !strings.HasSuffix(raw, "/") {
			raw += "/"
		}
		raw += strings.ReplaceAll(section.PagePattern, "{page}", strconv.Itoa(page))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid page URL %q: %w", raw, err)
	}

	if section.PageSizeParam != "" {
		k, v, _ := strings.Cut(section.PageSizeParam, "=")
		q := u.Query()
		q.Set(k, v)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

// Crawl обходит страницы раздела. Ошибки не поднимаются наверх: обход
// останавливается, уже собранные записи возвращаются.
func (c *PageCrawler) Crawl(ctx context.Context, section config.SectionConfig) ([]*catalog.Record, *CrawlStats) {
	stats := &CrawlStats{SectionID: section.ID, Rejections: make(map[string]int)}
	logger := c.logger.With("section", section.ID)

	logger.Info("Starting section crawl",
		"base_url", section.BaseURL,
		"max_pages", c.cfg.Crawl.MaxPages,
		"allowed_prefixes", section.AllowedPrefixes,
	)

	var records []*catalog.Record
	referer := ""
	emptyPages := 0

	for page := 1; page <= c.cfg.Crawl.MaxPages; page++ {
		if ctx.Err() != nil {
			stats.StoppedReason = StopCancelled
			break
		}

		if page > 1 {
			if err := c.sleep(ctx, c.pageDelay()); err != nil {
				stats.StoppedReason = StopCancelled
				break
			}
		}

		pageURL, err := PageURL(section, page)
		if err != nil {
			stats.StoppedReason = StopFetchFailed
			stats.LastError = err
			break
		}

		logger.Info("Processing page", "page", page, "url", pageURL)

		resp, err := c.fetchWithRetry(ctx, fetcher.Request{
			URL:      pageURL,
			Referer:  referer,
			Encoding: section.Encoding,
		}, stats, logger)
		if err != nil {
			if ctx.Err() != nil {
				stats.StoppedReason = StopCancelled
				break
			}
			logger.Error("Fetch failed, stopping section",
				"page", page,
				"url", pageURL,
				"kind", fetcher.ErrorKind(err),
				"error", err.Error(),
			)
			stats.StoppedReason = StopFetchFailed
			stats.LastError = err
			break
		}

		parsed, err := c.scraper.ParseListing(string(resp.Body))
		if err != nil {
			logger.Error("Parse listing failed", "page", page, "error", err.Error())
			stats.StoppedReason = StopParseFailed
			stats.LastError = err
			break
		}

		stats.Pages++
		stats.Listings += len(parsed.Listings)
		c.metrics.IncPage(section.ID)
		c.metrics.AddListings(section.ID, len(parsed.Listings))

		if parsed.NoResults {
			logger.Info("No-results marker found, section complete", "page", page)
			stats.StoppedReason = StopNoResults
			break
		}

		scope := scraper.Scope{
			SectionID:       section.ID,
			AllowedPrefixes: section.AllowedPrefixes,
			PageURL:         resp.URL,
		}
		pageRecords, rejections := c.extractor.ExtractPage(parsed.Listings, scope)
		for _, r := range rejections {
			stats.Rejections[r.Reason]++
			c.metrics.IncRejection(r.Reason)
			logger.Debug("Listing rejected",
				"page", page,
				"listing", r.SequenceNum,
				"reason", r.Reason,
				"detail", r.Detail,
			)
		}

		records = append(records, pageRecords...)
		stats.Records += len(pageRecords)
		c.metrics.AddRecords(section.ID, len(pageRecords))

		logger.Info("Page analysis",
			"page", page,
			"listings", len(parsed.Listings),
			"records", len(pageRecords),
			"rejected", len(rejections),
		)

		if len(pageRecords) == 0 {
			emptyPages++
			if emptyPages > c.cfg.Crawl.EmptyPageTolerance {
				logger.Info("Stopping: consecutive empty pages",
					"page", page,
					"empty_pages", emptyPages,
				)
				stats.StoppedReason = StopEmptyPages
				break
			}
			logger.Warn("Empty page tolerated", "page", page)
		} else {
			emptyPages = 0
		}

		referer = pageURL
	}

	if stats.StoppedReason == "" {
		stats.StoppedReason = StopMaxPages
	}

	logger.Info("Section crawl completed",
		"pages", stats.Pages,
		"listings", stats.Listings,
		"records", stats.Records,
		"retries", stats.Retries,
		"reason", stats.StoppedReason,
	)

	return records, stats
}

// fetchWithRetry до MaxAttempts попыток, пауза перед повтором растёт с номером попытки
func (c *PageCrawler) fetchWithRetry(ctx context.Context, req fetcher.Request, stats *CrawlStats, logger *observability.Logger) (*fetcher.FetchResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.Crawl.MaxAttempts; attempt++ {
		if attempt > 1 {
			stats.Retries++
			c.metrics.IncRetries()
			delay := c.retryDelay(attempt - 1)
			logger.Warn("Retrying page fetch",
				"url", req.URL,
				"attempt", attempt,
				"delay", delay.String(),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		logger.Warn("Fetch attempt failed",
			"url", req.URL,
			"attempt", attempt,
			"kind", fetcher.ErrorKind(err),
			"error", err.Error(),
		)

		if !fetcher.IsRetryable(err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no fetch attempts configured")
	}
	return nil, lastErr
}

// retryDelay RetryStep * n, ограничено Backoff.MaxMS, с разбросом JitterPct
func (c *PageCrawler) retryDelay(n int) time.Duration {
	delay := c.cfg.GetRetryStep() * time.Duration(n)
	if limit := c.cfg.GetBackoffMax(); limit > 0 && delay > limit {
		delay = limit
	}
	if pct := c.cfg.Backoff.JitterPct; pct > 0 && delay > 0 {
		spread := int64(delay) * int64(pct) / 100
		if spread > 0 {
			delay += time.Duration(c.randN(2*spread+1) - spread)
		}
	}
	return delay
}

// pageDelay случайная пауза в [PageDelayMin, PageDelayMax]
func (c *PageCrawler) pageDelay() time.Duration {
	lo, hi := c.cfg.GetPageDelayMin(), c.cfg.GetPageDelayMax()
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.randN(int64(hi-lo)+1))
}
