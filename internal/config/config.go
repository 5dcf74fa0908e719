package config

import (
	"time"

	"stamp-price-tracker/internal/normalize"
)

type Config struct {
	Sections      []SectionConfig     `yaml:"sections" validate:"required,min=1,dive"`
	HTTP          HTTPConfig          `yaml:"http"`
	Rod           RodConfig           `yaml:"rod"`
	Backoff       BackoffConfig       `yaml:"backoff"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Robots        RobotsConfig        `yaml:"robots"`
	Crawl         CrawlConfig         `yaml:"crawl"`
	SelectorsFile string              `yaml:"selectors_file"`
	Normalize     NormalizeConfig     `yaml:"normalize"`
	Images        ImagesConfig        `yaml:"images"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	RunTimeoutS   int                 `yaml:"run_timeout_s" validate:"gte=0"`

	// Source путь файла, из которого загружен конфиг; пусто для значений по умолчанию
	Source string `yaml:"-"`
}

// SectionConfig раздел каталога, который обходится постранично
type SectionConfig struct {
	ID              string   `yaml:"id" validate:"required"`
	Name            string   `yaml:"name"`
	BaseURL         string   `yaml:"base_url" validate:"required,url"`
	PageSizeParam   string   `yaml:"page_size_param"`
	PagePattern     string   `yaml:"page_pattern" validate:"required,contains={page}"`
	AllowedPrefixes []string `yaml:"allowed_prefixes"`
	Encoding        string   `yaml:"encoding" validate:"omitempty,oneof=auto utf-8 utf8 gbk gb2312 gb18030 big5"`
}

type HTTPConfig struct {
	UserAgent                 string `yaml:"user_agent" validate:"required"`
	AcceptLanguage            string `yaml:"accept_language"`
	ConnectTimeoutMS          int    `yaml:"connect_timeout_ms" validate:"gt=0"`
	TotalTimeoutMS            int    `yaml:"total_timeout_ms" validate:"gt=0"`
	MaxIdleConnections        int    `yaml:"max_idle_connections" validate:"gte=0"`
	MaxIdleConnectionsPerHost int    `yaml:"max_idle_connections_per_host" validate:"gte=0"`
	IdleConnectionTimeoutS    int    `yaml:"idle_connection_timeout_s" validate:"gte=0"`
}

type RodConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ChromePath       string `yaml:"chrome_path"`
	Headless         bool   `yaml:"headless"`
	WaitLoadTimeoutS int    `yaml:"wait_load_timeout_s" validate:"gte=0"`
	LazyLoadDelayMS  int    `yaml:"lazy_load_delay_ms" validate:"gte=0"`
}

// BackoffConfig ограничивает паузы между повторными попытками
type BackoffConfig struct {
	MaxMS     int `yaml:"max_ms" validate:"gte=0"`
	JitterPct int `yaml:"jitter_pct" validate:"gte=0,lte=100"`
}

type RateLimitConfig struct {
	MaxConcurrentPerHost int `yaml:"max_concurrent_per_host" validate:"gt=0"`
	RPM                  int `yaml:"rpm" validate:"gt=0"`
}

type RobotsConfig struct {
	Respect       bool   `yaml:"respect"`
	Agent         string `yaml:"agent"`
	CacheTTLHours int    `yaml:"cache_ttl_hours" validate:"gte=0"`
}

type CrawlConfig struct {
	MaxPages           int `yaml:"max_pages" validate:"gt=0"`
	MaxAttempts        int `yaml:"max_attempts" validate:"gt=0"`
	RetryStepMS        int `yaml:"retry_step_ms" validate:"gte=0"`
	PageDelayMinMS     int `yaml:"page_delay_min_ms" validate:"gte=0"`
	PageDelayMaxMS     int `yaml:"page_delay_max_ms" validate:"gte=0"`
	SectionDelayMS     int `yaml:"section_delay_ms" validate:"gte=0"`
	EmptyPageTolerance int `yaml:"empty_page_tolerance" validate:"gte=0"`
}

type NormalizeConfig struct {
	StripPatterns   []string `yaml:"strip_patterns"`
	TrimNBSP        bool     `yaml:"trim_nbsp"`
	CollapseSpaces  bool     `yaml:"collapse_spaces"`
	MaxPreviewChars int      `yaml:"max_preview_chars" validate:"gte=0"`
}

type ImagesConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	MaxBytes  int64  `yaml:"max_bytes" validate:"gte=0"`
	CacheSize int    `yaml:"cache_size" validate:"gte=0"`
	TimeoutMS int    `yaml:"timeout_ms" validate:"gte=0"`
}

type StorageConfig struct {
	HistoryPath      string `yaml:"history_path" validate:"required"`
	OnCorrupt        string `yaml:"on_corrupt" validate:"oneof=reset fail"`
	Driver           string `yaml:"driver" validate:"omitempty,oneof=none mssql postgres"`
	DSN              string `yaml:"dsn"`
	CommandTimeoutMS int    `yaml:"command_timeout_ms" validate:"gte=0"`
	BatchSize        int    `yaml:"batch_size" validate:"gte=0"`
}

type ObservabilityConfig struct {
	LogPath       string `yaml:"log_path"`
	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string `yaml:"log_format" validate:"oneof=json text"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `yaml:"log_max_backups" validate:"gte=0"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" validate:"gte=0"`
	MetricsPath   string `yaml:"metrics_path"`
}

// MirrorEnabled включено ли зеркалирование в SQL
func (s StorageConfig) MirrorEnabled() bool {
	return s.Driver != "" && s.Driver != "none"
}

// Options параметры нормализатора текста
func (n NormalizeConfig) Options() normalize.Options {
	return normalize.Options{
		StripPatterns:   n.StripPatterns,
		TrimNBSP:        n.TrimNBSP,
		CollapseSpaces:  n.CollapseSpaces,
		MaxPreviewChars: n.MaxPreviewChars,
	}
}

// Getters
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.HTTP.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) GetTotalTimeout() time.Duration {
	return time.Duration(c.HTTP.TotalTimeoutMS) * time.Millisecond
}

func (c *Config) GetIdleConnectionTimeout() time.Duration {
	return time.Duration(c.HTTP.IdleConnectionTimeoutS) * time.Second
}

func (c *Config) GetBackoffMax() time.Duration {
	return time.Duration(c.Backoff.MaxMS) * time.Millisecond
}

func (c *Config) GetRetryStep() time.Duration {
	return time.Duration(c.Crawl.RetryStepMS) * time.Millisecond
}

func (c *Config) GetPageDelayMin() time.Duration {
	return time.Duration(c.Crawl.PageDelayMinMS) * time.Millisecond
}

func (c *Config) GetPageDelayMax() time.Duration {
	return time.Duration(c.Crawl.PageDelayMaxMS) * time.Millisecond
}

func (c *Config) GetSectionDelay() time.Duration {
	return time.Duration(c.Crawl.SectionDelayMS) * time.Millisecond
}

func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Storage.CommandTimeoutMS) * time.Millisecond
}

func (c *Config) GetRobotsCacheTTL() time.Duration {
	return time.Duration(c.Robots.CacheTTLHours) * time.Hour
}

func (c *Config) GetRodWaitLoadTimeout() time.Duration {
	return time.Duration(c.Rod.WaitLoadTimeoutS) * time.Second
}

func (c *Config) GetRodLazyLoadDelay() time.Duration {
	return time.Duration(c.Rod.LazyLoadDelayMS) * time.Millisecond
}

func (c *Config) GetImageTimeout() time.Duration {
	return time.Duration(c.Images.TimeoutMS) * time.Millisecond
}

func (c *Config) GetRunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutS) * time.Second
}
