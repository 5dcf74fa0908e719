package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"stamp-price-tracker/internal/config"
	"stamp-price-tracker/internal/observability"
)

// RodFetcher загружает страницы через headless Chrome.
// Браузер сам декодирует страницу, поэтому Request.Encoding не используется.
type RodFetcher struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	launcher *launcher.Launcher
	browser  *rod.Browser
	mu       sync.Mutex
}

func NewRodFetcher(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics) *RodFetcher {
	return &RodFetcher{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// connect запускает браузер при первом запросе
func (f *RodFetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().Headless(f.cfg.Rod.Headless)
	if f.cfg.Rod.ChromePath != "" {
		l = l.Bin(f.cfg.Rod.ChromePath)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	f.logger.Info("Headless browser started", "control_url", controlURL)

	f.launcher = l
	f.browser = browser
	return browser, nil
}

func (f *RodFetcher) Fetch(ctx context.Context, req Request) (*FetchResponse, error) {
	browser, err := f.connect()
	if err != nil {
		return nil, &TransportError{Kind: KindConnection, URL: req.URL, Err: err}
	}

	start := time.Now()
	defer func() { f.metrics.ObserveFetch(time.Since(start)) }()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		f.metrics.IncFetchError(KindConnection)
		return nil, &TransportError{Kind: KindConnection, URL: req.URL, Err: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			f.logger.Warn("Failed to close page", "url", req.URL, "error", err.Error())
		}
	}()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      f.cfg.HTTP.UserAgent,
		AcceptLanguage: f.cfg.HTTP.AcceptLanguage,
	}); err != nil {
		f.logger.Warn("Failed to set user agent", "error", err.Error())
	}

	timed := page.Timeout(f.cfg.GetRodWaitLoadTimeout())

	// Код ответа основного документа; подписка до навигации
	status := 0
	waitStatus := timed.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type != proto.NetworkResourceTypeDocument {
			return false
		}
		status = e.Response.Status
		return true
	})

	if err := timed.Navigate(req.URL); err != nil {
		f.metrics.IncFetchError(KindConnection)
		return nil, requestError(req.URL, err)
	}
	if err := timed.WaitLoad(); err != nil {
		f.metrics.IncFetchError(KindTimeout)
		return nil, &TransportError{Kind: KindTimeout, URL: req.URL, Err: err}
	}
	waitStatus()

	if err := documentStatusError(req.URL, status); err != nil {
		f.metrics.IncFetchError(err.Kind)
		return nil, err
	}

	// Ленивые картинки подставляют src после загрузки
	if delay := f.cfg.GetRodLazyLoadDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	html, err := page.HTML()
	if err != nil {
		f.metrics.IncFetchError(KindOther)
		return nil, &TransportError{Kind: KindOther, URL: req.URL, Err: err}
	}

	finalURL := req.URL
	if info, err := page.Info(); err == nil && info.URL != "" {
		finalURL = info.URL
	}

	if status == 0 {
		status = http.StatusOK
	}

	return &FetchResponse{
		StatusCode: status,
		Body:       []byte(html),
		URL:        finalURL,
		Headers:    http.Header{},
	}, nil
}

// documentStatusError ошибка по коду основного документа; 0 значит
// браузер не сообщил код
func documentStatusError(urlStr string, status int) *TransportError {
	if status == 0 || (status >= 200 && status <= 299) {
		return nil
	}
	return statusError(urlStr, status)
}

// Close закрывает браузер и процесс Chrome
func (f *RodFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	f.browser = nil
	return err
}
