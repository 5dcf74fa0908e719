package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath  = "STAMP_TRACKER_CONFIG"
	DefaultPath    = "configs/config.yaml"
	envLogLevel    = "STAMP_TRACKER_LOG_LEVEL"
	envStorageDSN  = "STAMP_TRACKER_STORAGE_DSN"
	envHistoryPath = "STAMP_TRACKER_HISTORY_PATH"
)

// ConfigPath путь к конфигу из окружения или путь по умолчанию
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultPath
}

// LoadConfig читает YAML поверх значений по умолчанию.
// Отсутствующий файл не ошибка: используются значения по умолчанию.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(filePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("config validation error: %w", err)
		}
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Printf("Warning: failed to close config file: %v", closeErr)
		}
	}()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Source = filePath

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return cfg, nil
}

// ApplyEnv переопределяет секреты и пути из окружения
func (c *Config) ApplyEnv() {
	if v := os.Getenv(envLogLevel); v != "" {
		c.Observability.LogLevel = v
	}
	if v := os.Getenv(envStorageDSN); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(envHistoryPath); v != "" {
		c.Storage.HistoryPath = v
	}
}
