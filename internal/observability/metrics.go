package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one tracker run.
type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	FetchDuration   prometheus.Histogram
	ListingsTotal   *prometheus.CounterVec
	RecordsTotal    *prometheus.CounterVec
	RejectionsTotal *prometheus.CounterVec
	ItemsChanged    prometheus.Counter
	ItemsCreated    prometheus.Counter
	ImagesTotal     *prometheus.CounterVec
	MirrorErrors    prometheus.Counter
	LastRunSuccess  prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		PagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stamp_tracker_pages_total",
			Help: "Listing pages fetched and parsed, by section.",
		}, []string{"section"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stamp_tracker_fetch_errors_total",
			Help: "Failed fetch attempts by error kind.",
		}, []string{"kind"}),
		RetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stamp_tracker_retries_total",
			Help: "Fetch retries scheduled.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stamp_tracker_fetch_duration_seconds",
			Help:    "Latency of page fetch attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		ListingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stamp_tracker_listings_total",
			Help: "Raw listings found on pages, by section.",
		}, []string{"section"}),
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stamp_tracker_records_total",
			Help: "Listings accepted as records, by section.",
		}, []string{"section"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stamp_tracker_rejections_total",
			Help: "Listings rejected during extraction, by reason.",
		}, []string{"reason"}),
		ItemsChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stamp_tracker_items_changed_total",
			Help: "Items whose price history received a new entry.",
		}),
		ItemsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stamp_tracker_items_created_total",
			Help: "Items seen for the first time.",
		}),
		ImagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stamp_tracker_images_total",
			Help: "Image download outcomes.",
		}, []string{"result"}),
		MirrorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stamp_tracker_mirror_errors_total",
			Help: "Failed writes to the SQL mirror.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stamp_tracker_last_run_success",
			Help: "1 if the last run persisted its state, 0 otherwise.",
		}),
	}

	registry.MustRegister(
		m.PagesTotal, m.FetchErrors, m.RetriesTotal, m.FetchDuration,
		m.ListingsTotal, m.RecordsTotal, m.RejectionsTotal,
		m.ItemsChanged, m.ItemsCreated, m.ImagesTotal, m.MirrorErrors,
		m.LastRunSuccess,
	)

	return m
}

func (m *Metrics) IncPage(section string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(section).Inc()
}

func (m *Metrics) IncFetchError(kind string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

func (m *Metrics) AddListings(section string, n int) {
	if m == nil {
		return
	}
	m.ListingsTotal.WithLabelValues(section).Add(float64(n))
}

func (m *Metrics) AddRecords(section string, n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(section).Add(float64(n))
}

func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddChanges(changed, created int) {
	if m == nil {
		return
	}
	m.ItemsChanged.Add(float64(changed))
	m.ItemsCreated.Add(float64(created))
}

func (m *Metrics) IncImage(result string) {
	if m == nil {
		return
	}
	m.ImagesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncMirrorError() {
	if m == nil {
		return
	}
	m.MirrorErrors.Inc()
}

func (m *Metrics) SetRunSuccess(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.LastRunSuccess.Set(1)
		return
	}
	m.LastRunSuccess.Set(0)
}

// WriteTextfile выгружает метрики для node_exporter textfile collector
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.Registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
