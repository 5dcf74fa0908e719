package observability

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger структурный логгер; методы Info/Warn/Error/Debug принимают пары ключ-значение
type Logger struct {
	*slog.Logger
	closer io.Closer
}

type LoggerOptions struct {
	Path       string
	Level      string
	Format     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Console дублирует записи, по умолчанию os.Stdout
	Console io.Writer
}

// NewLogger пишет в консоль и, если задан Path, в файл с ротацией
func NewLogger(opts LoggerOptions) *Logger {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	writer := console
	var closer io.Closer
	if opts.Path != "" {
		if dir := filepath.Dir(opts.Path); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		rotator := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		writer = io.MultiWriter(console, rotator)
		closer = rotator
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return &Logger{Logger: slog.New(handler), closer: closer}
}

// NewNopLogger логгер без вывода, для тестов
func NewNopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// With возвращает логгер с дополнительными атрибутами
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), closer: l.closer}
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// ParseLevel converts a string to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
