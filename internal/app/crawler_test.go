package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stamp-price-tracker/internal/config"
	"stamp-price-tracker/internal/fetcher"
	"stamp-price-tracker/internal/normalize"
	"stamp-price-tracker/internal/observability"
	"stamp-price-tracker/internal/scraper"
)

var fixedNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

const (
	jtBase  = "http://www.518yp.com/JTxilie/"
	jtPage2 = "http://www.518yp.com/JTxilie/index_2.html"
	jtPage3 = "http://www.518yp.com/JTxilie/index_3.html"
	jtPage4 = "http://www.518yp.com/JTxilie/index_4.html"
	jtPage5 = "http://www.518yp.com/JTxilie/index_5.html"
)

type fakeReply struct {
	body string
	err  error
}

// fakeFetcher отдаёт ответы по URL по очереди; последний ответ повторяется
type fakeFetcher struct {
	mu       sync.Mutex
	replies  map[string][]fakeReply
	requests []fetcher.Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{replies: make(map[string][]fakeReply)}
}

func (f *fakeFetcher) on(url string, replies ...fakeReply) *fakeFetcher {
	f.replies[url] = append(f.replies[url], replies...)
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, req fetcher.Request) (*fetcher.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	queue := f.replies[req.URL]
	if len(queue) == 0 {
		return nil, &fetcher.TransportError{Kind: fetcher.KindNotFound, URL: req.URL, StatusCode: 404}
	}
	reply := queue[0]
	if len(queue) > 1 {
		f.replies[req.URL] = queue[1:]
	}
	if reply.err != nil {
		return nil, reply.err
	}
	return &fetcher.FetchResponse{StatusCode: 200, Body: []byte(reply.body), URL: req.URL}, nil
}

func (f *fakeFetcher) calls(url string) int {
	n := 0
	for _, r := range f.requests {
		if r.URL == url {
			n++
		}
	}
	return n
}

// sleepRecorder запоминает паузы и не ждёт
type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func listingPage(items ...string) fakeReply {
	var b strings.Builder
	b.WriteString(`<html><body><div class="list">`)
	for _, item := range items {
		title, price, _ := strings.Cut(item, "|")
		b.WriteString(`<div class="item"><strong>` + title + `</strong>`)
		if price != "" {
			b.WriteString(`<span class="price">￥` + price + `</span>`)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</div></body></html>`)
	return fakeReply{body: b.String()}
}

func noResultsPage() fakeReply {
	return fakeReply{body: `<html><body><div class="empty">抱歉，没有找到相关邮票</div></body></html>`}
}

func emptyPage() fakeReply {
	return fakeReply{body: `<html><body><div class="list"></div></body></html>`}
}

func serverError(url string) fakeReply {
	return fakeReply{err: &fetcher.TransportError{Kind: fetcher.KindServer, URL: url, StatusCode: 500}}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Sections = []config.SectionConfig{{
		ID:              "JT",
		BaseURL:         jtBase,
		PagePattern:     "index_{page}.html",
		AllowedPrefixes: []string{"J", "T"},
	}}
	cfg.Crawl.PageDelayMinMS = 2000
	cfg.Crawl.PageDelayMaxMS = 2000
	return cfg
}

func newTestCrawler(t *testing.T, cfg *config.Config, f fetcher.Fetcher, rec *sleepRecorder) *PageCrawler {
	t.Helper()
	n, err := normalize.NewNormalizer(cfg.Normalize.Options())
	require.NoError(t, err)
	e := scraper.NewExtractor(n).WithClock(func() time.Time { return fixedNow })
	c := NewPageCrawler(cfg, f, scraper.NewScraper(scraper.DefaultSelectors()), e, observability.NewNopLogger(), nil)
	return c.WithSleep(rec.sleep)
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		name    string
		section config.SectionConfig
		page    int
		want    string
	}{
		{
			name:    "first page is base",
			section: config.SectionConfig{BaseURL: jtBase, PagePattern: "index_{page}.html"},
			page:    1,
			want:    jtBase,
		},
		{
			name:    "pattern substituted",
			section: config.SectionConfig{BaseURL: jtBase, PagePattern: "index_{page}.html"},
			page:    3,
			want:    jtPage3,
		},
		{
			name:    "base without trailing slash",
			section: config.SectionConfig{BaseURL: "http://www.518yp.com/ljt", PagePattern: "index_{page}.html"},
			page:    2,
			want:    "http://www.518yp.com/ljt/index_2.html",
		},
		{
			name:    "page size parameter",
			section: config.SectionConfig{BaseURL: jtBase, PagePattern: "index_{page}.html", PageSizeParam: "pagesize=100"},
			page:    2,
			want:    jtPage2 + "?pagesize=100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PageURL(tt.section, tt.page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCrawlStopsOnNoResultsMarker(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5", "J120 孙中山|12")).
		on(jtPage2, listingPage("T46 庚申年|9000")).
		on(jtPage3, noResultsPage())
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	require.Len(t, records, 3)
	assert.Equal(t, "T50", records[0].Identifier)
	assert.Equal(t, "J120", records[1].Identifier)
	assert.Equal(t, "T46", records[2].Identifier)
	assert.Equal(t, StopNoResults, stats.StoppedReason)
	assert.Equal(t, 3, stats.Pages)
	assert.Equal(t, 3, stats.Records)
	assert.Len(t, f.requests, 3)

	// Referer = предыдущая страница, пауза перед каждой страницей кроме первой
	assert.Equal(t, "", f.requests[0].Referer)
	assert.Equal(t, jtBase, f.requests[1].Referer)
	assert.Equal(t, jtPage2, f.requests[2].Referer)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, rec.delays)
}

func TestCrawlMarkerPageWithCardsYieldsNothing(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5")).
		on(jtPage2, fakeReply{body: `<html><body><p>没有找到相关结果</p>
<div class="item"><strong>T99 推荐商品</strong><span class="price">￥1</span></div></body></html>`})
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	require.Len(t, records, 1)
	assert.Equal(t, "T50", records[0].Identifier)
	assert.Equal(t, StopNoResults, stats.StoppedReason)
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 0, f.calls(jtPage3))
}

func TestCrawlRetryExhaustionKeepsEarlierPages(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5")).
		on(jtPage2, serverError(jtPage2))
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	require.Len(t, records, 1)
	assert.Equal(t, "T50", records[0].Identifier)
	assert.Equal(t, StopFetchFailed, stats.StoppedReason)
	assert.Equal(t, 3, f.calls(jtPage2))
	assert.Equal(t, 2, stats.Retries)
	assert.Equal(t, fetcher.KindServer, fetcher.ErrorKind(stats.LastError))

	// Пауза страницы, затем 5 с и 10 с перед повторами
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}, rec.delays)
}

func TestCrawlRetrySucceeds(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase,
			fakeReply{err: &fetcher.TransportError{Kind: fetcher.KindConnection, URL: jtBase, Err: fmt.Errorf("connection reset")}},
			listingPage("T50 关汉卿|8.5"),
		).
		on(jtPage2, noResultsPage())
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	assert.Len(t, records, 1)
	assert.Equal(t, 1, stats.Retries)
	assert.Equal(t, StopNoResults, stats.StoppedReason)
	assert.Equal(t, 2, f.calls(jtBase))
}

func TestCrawlDisallowedIsNotRetried(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, fakeReply{err: fmt.Errorf("%s: %w", jtBase, fetcher.ErrDisallowed)})
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	assert.Empty(t, records)
	assert.Equal(t, StopFetchFailed, stats.StoppedReason)
	assert.Equal(t, 1, f.calls(jtBase))
	assert.Empty(t, rec.delays)
}

func TestCrawlEmptyPageToleratedOnce(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5")).
		on(jtPage2, emptyPage()).
		on(jtPage3, listingPage("J120 孙中山|12")).
		on(jtPage4, emptyPage()).
		on(jtPage5, emptyPage())
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	require.Len(t, records, 2)
	assert.Equal(t, "J120", records[1].Identifier)
	assert.Equal(t, StopEmptyPages, stats.StoppedReason)
	assert.Equal(t, 5, stats.Pages)
}

func TestCrawlCountsRejections(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5", "T51 无价|", "纪94 建国|30")).
		on(jtPage2, noResultsPage())
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	assert.Len(t, records, 1)
	assert.Equal(t, 3, stats.Listings)
	assert.Equal(t, 1, stats.Rejections[scraper.ReasonMissingPrice])
	assert.Equal(t, 1, stats.Rejections[scraper.ReasonOutOfSection])
}

func TestCrawlMaxPages(t *testing.T) {
	cfg := testConfig()
	cfg.Crawl.MaxPages = 2
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5")).
		on(jtPage2, listingPage("T51 另一枚|3")).
		on(jtPage3, listingPage("T52 不会抓取|4"))
	rec := &sleepRecorder{}

	records, stats := newTestCrawler(t, cfg, f, rec).Crawl(context.Background(), cfg.Sections[0])

	assert.Len(t, records, 2)
	assert.Equal(t, StopMaxPages, stats.StoppedReason)
	assert.Equal(t, 0, f.calls(jtPage3))
}

func TestCrawlCancelledDuringDelayKeepsRecords(t *testing.T) {
	cfg := testConfig()
	f := newFakeFetcher().
		on(jtBase, listingPage("T50 关汉卿|8.5")).
		on(jtPage2, listingPage("T51 另一枚|3"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := normalize.NewNormalizer(cfg.Normalize.Options())
	require.NoError(t, err)
	c := NewPageCrawler(cfg, f, scraper.NewScraper(scraper.DefaultSelectors()), scraper.NewExtractor(n), observability.NewNopLogger(), nil).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		})

	records, stats := c.Crawl(ctx, cfg.Sections[0])

	assert.Len(t, records, 1)
	assert.Equal(t, StopCancelled, stats.StoppedReason)
	assert.Equal(t, 0, f.calls(jtPage2))
}

func TestRetryDelayCappedWithJitter(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff.MaxMS = 8000
	cfg.Backoff.JitterPct = 10

	c := newTestCrawler(t, cfg, newFakeFetcher(), &sleepRecorder{})
	c.randN = func(n int64) int64 { return n - 1 }

	// 5 с * 1 + 10 %
	assert.Equal(t, 5500*time.Millisecond, c.retryDelay(1))
	// 5 с * 2 = 10 с, ограничено 8 с, + 10 %
	assert.Equal(t, 8800*time.Millisecond, c.retryDelay(2))
}

func TestPageDelayWithinRange(t *testing.T) {
	cfg := testConfig()
	cfg.Crawl.PageDelayMinMS = 2000
	cfg.Crawl.PageDelayMaxMS = 5000
	c := newTestCrawler(t, cfg, newFakeFetcher(), &sleepRecorder{})

	for i := 0; i < 50; i++ {
		d := c.pageDelay()
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}
