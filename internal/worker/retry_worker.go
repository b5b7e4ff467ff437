package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/repository"
)

// RetryWorker polls the database for failed messages whose next_retry_at is
// in the past and submits them to their conversation queue again.
//
// Retry times are persisted, not held in memory, so retries survive restarts.
type RetryWorker struct {
	repo     repository.MessageRepository
	d        Dispatcher
	interval time.Duration
	logger   *zap.Logger
}

func NewRetryWorker(
	repo repository.MessageRepository,
	d Dispatcher,
	interval time.Duration,
	logger *zap.Logger,
) *RetryWorker {
	return &RetryWorker{repo: repo, d: d, interval: interval, logger: logger}
}

// Run ticks every interval and re-dispatches any due retries.
// Stops cleanly when ctx is cancelled.
func (rw *RetryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.interval)
	defer ticker.Stop()

	rw.logger.Info("retry worker started", zap.Duration("interval", rw.interval))

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("retry worker stopping")
			return
		case <-ticker.C:
			rw.poll(ctx)
		}
	}
}

func (rw *RetryWorker) poll(ctx context.Context) {
	messages, err := rw.repo.FindDueRetries(ctx)
	if err != nil {
		rw.logger.Error("retry poll error", zap.Error(err))
		return
	}

	// Messages arrive oldest first, so each conversation is resubmitted in order.
	for _, m := range messages {
		rw.d.Dispatch(ctx, m)
	}

	if len(messages) > 0 {
		rw.logger.Info("re-dispatched due retries", zap.Int("count", len(messages)))
	}
}
