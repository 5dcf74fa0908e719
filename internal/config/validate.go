package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// В сообщениях используем имена ключей YAML
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	return v
}

// Validate проверяет теги структуры и связи между полями
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}

	seen := make(map[string]bool, len(c.Sections))
	for _, s := range c.Sections {
		if seen[s.ID] {
			return fmt.Errorf("sections: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}

	if c.Crawl.PageDelayMinMS > c.Crawl.PageDelayMaxMS {
		return fmt.Errorf("crawl.page_delay_min_ms must be <= crawl.page_delay_max_ms")
	}
	if c.Rod.Enabled && c.Rod.WaitLoadTimeoutS <= 0 {
		return fmt.Errorf("rod.wait_load_timeout_s must be > 0 when rod.enabled is true")
	}
	if c.Images.Enabled {
		if c.Images.Dir == "" {
			return fmt.Errorf("images.dir is required when images.enabled is true")
		}
		if c.Images.MaxBytes <= 0 {
			return fmt.Errorf("images.max_bytes must be > 0 when images.enabled is true")
		}
	}
	if c.Storage.MirrorEnabled() {
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver is %q", c.Storage.Driver)
		}
		if c.Storage.CommandTimeoutMS <= 0 {
			return fmt.Errorf("storage.command_timeout_ms must be > 0")
		}
		if c.Storage.BatchSize <= 0 {
			return fmt.Errorf("storage.batch_size must be > 0")
		}
	}
	if c.Robots.Respect && c.Robots.CacheTTLHours <= 0 {
		return fmt.Errorf("robots.cache_ttl_hours must be > 0 when robots.respect is true")
	}

	return nil
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	messages := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		messages = append(messages, fmt.Sprintf("%s %s", fieldPath(e), friendlyMessage(e)))
	}
	sort.Strings(messages)

	return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
}

// fieldPath превращает Config.crawl.max_pages в crawl.max_pages
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if idx := strings.Index(ns, "."); idx > -1 {
		return ns[idx+1:]
	}
	return ns
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	case "contains":
		return "must contain " + e.Param()
	case "min":
		return "must have at least " + e.Param() + " entries"
	case "gt":
		return "must be > " + e.Param()
	case "gte":
		return "must be >= " + e.Param()
	case "lte":
		return "must be <= " + e.Param()
	default:
		return "is invalid"
	}
}
