package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stamp-price-tracker/internal/scraper"
)

// LoadSelectors загружает селекторы из YAML файла
func LoadSelectors(filePath string) (*scraper.Selectors, error) {
	if filePath == "" {
		return nil, fmt.Errorf("selectors file path is empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open selectors file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close selectors file: %v\n", closeErr)
		}
	}()

	selectors := scraper.DefaultSelectors()
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(selectors); err != nil {
		return nil, fmt.Errorf("failed to parse selectors YAML: %w", err)
	}

	if err := validateSelectors(selectors); err != nil {
		return nil, err
	}

	return selectors, nil
}

// Selectors селекторы из selectors_file или встроенные.
// Относительный путь считается от каталога конфига.
func (c *Config) Selectors() (*scraper.Selectors, error) {
	if c.SelectorsFile == "" {
		return scraper.DefaultSelectors(), nil
	}

	filePath := c.SelectorsFile
	if !filepath.IsAbs(filePath) && c.Source != "" {
		filePath = filepath.Join(filepath.Dir(c.Source), filePath)
	}

	return LoadSelectors(filePath)
}

// validateSelectors проверяет минимальный набор селекторов
func validateSelectors(s *scraper.Selectors) error {
	if s.CardSelectors == "" {
		return fmt.Errorf("card_selectors is required")
	}
	if len(s.TitleSelectors) == 0 {
		return fmt.Errorf("title_selectors is required")
	}
	if len(s.PriceSelectors) == 0 {
		return fmt.Errorf("price_selectors is required")
	}
	if len(s.ImageSelectors) > 0 && len(s.ImageAttributes) == 0 {
		return fmt.Errorf("image_attributes is required when image_selectors is set")
	}
	if len(s.NoResultsMarkers) == 0 {
		return fmt.Errorf("no_results_markers is required")
	}

	return nil
}
