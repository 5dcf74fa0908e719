package config

// Default значения, с которыми сервис работает без файла конфигурации
func Default() *Config {
	return &Config{
		Sections: []SectionConfig{
			{
				ID:              "JT",
				Name:            "J/T 纪特邮票",
				BaseURL:         "http://www.518yp.com/JTxilie/",
				PagePattern:     "index_{page}.html",
				AllowedPrefixes: []string{"J", "T"},
				Encoding:        "auto",
			},
			{
				ID:              "LJT",
				Name:            "老纪特邮票",
				BaseURL:         "http://www.518yp.com/ljt/",
				PagePattern:     "index_{page}.html",
				AllowedPrefixes: []string{"纪", "特"},
				Encoding:        "auto",
			},
			{
				ID:              "WB",
				Name:            "文革 编号邮票",
				BaseURL:         "http://www.518yp.com/wgbh/",
				PagePattern:     "index_{page}.html",
				AllowedPrefixes: []string{"文", "编"},
				Encoding:        "auto",
			},
		},
		HTTP: HTTPConfig{
			UserAgent:                 "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			AcceptLanguage:            "zh-CN,zh;q=0.9,en;q=0.6",
			ConnectTimeoutMS:          10000,
			TotalTimeoutMS:            30000,
			MaxIdleConnections:        20,
			MaxIdleConnectionsPerHost: 4,
			IdleConnectionTimeoutS:    90,
		},
		Rod: RodConfig{
			Headless:         true,
			WaitLoadTimeoutS: 30,
			LazyLoadDelayMS:  500,
		},
		Backoff: BackoffConfig{
			MaxMS:     60000,
			JitterPct: 0,
		},
		RateLimit: RateLimitConfig{
			MaxConcurrentPerHost: 1,
			RPM:                  30,
		},
		Robots: RobotsConfig{
			Respect:       false,
			Agent:         "stamp-tracker",
			CacheTTLHours: 12,
		},
		Crawl: CrawlConfig{
			MaxPages:           20,
			MaxAttempts:        3,
			RetryStepMS:        5000,
			PageDelayMinMS:     2000,
			PageDelayMaxMS:     5000,
			SectionDelayMS:     5000,
			EmptyPageTolerance: 1,
		},
		Normalize: NormalizeConfig{
			TrimNBSP:        true,
			CollapseSpaces:  true,
			MaxPreviewChars: 80,
		},
		Images: ImagesConfig{
			Enabled:   true,
			Dir:       "images",
			MaxBytes:  5 << 20,
			CacheSize: 512,
			TimeoutMS: 20000,
		},
		Storage: StorageConfig{
			HistoryPath:      "data/stamps_history.json",
			OnCorrupt:        "reset",
			Driver:           "none",
			CommandTimeoutMS: 5000,
			BatchSize:        100,
		},
		Observability: ObservabilityConfig{
			LogPath:       "logs/stamp-tracker.log",
			LogLevel:      "info",
			LogFormat:     "text",
			LogMaxSizeMB:  50,
			LogMaxBackups: 5,
			LogMaxAgeDays: 30,
			MetricsPath:   "",
		},
	}
}
