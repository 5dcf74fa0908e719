package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stamp-price-tracker/internal/observability"
)

// GracefulShutdown запускает мониторинг OS сигналов и возвращает context для отмены.
// runTimeout 0 означает запуск без ограничения по времени.
func GracefulShutdown(logger *observability.Logger, runTimeout time.Duration) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if runTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), runTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	// Канал для сигналов ОС
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel() // обход завершится, накопленное будет сохранено
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
