// Package worker запускает периодические фоновые задачи.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Task выполняет одну итерацию периодической задачи.
type Task func(ctx context.Context) error

// Run выполняет task каждые interval до отмены ctx. Первая итерация запускается сразу.
// Ошибка итерации логируется и не останавливает цикл.
func Run(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, task Task) {
	if interval <= 0 {
		return
	}

	runOnce := func() {
		if err := task(ctx); err != nil && ctx.Err() == nil {
			logger.Error("periodic task error", zap.String("task", name), zap.Error(err))
		}
	}

	runOnce()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
