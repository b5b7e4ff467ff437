package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/repository"
)

// SchedulerWorker polls the database for messages whose scheduled_at has
// passed and submits them to their conversation queue.
//
// Messages created with a future scheduled_at are stored with
// status=scheduled and bypass the queue until their time arrives.
type SchedulerWorker struct {
	repo     repository.MessageRepository
	d        Dispatcher
	interval time.Duration
	logger   *zap.Logger
}

func NewSchedulerWorker(
	repo repository.MessageRepository,
	d Dispatcher,
	interval time.Duration,
	logger *zap.Logger,
) *SchedulerWorker {
	return &SchedulerWorker{repo: repo, d: d, interval: interval, logger: logger}
}

// Run first resubmits stranded messages, then ticks every interval and
// dispatches any messages that are now due. Stops cleanly when ctx is cancelled.
func (sw *SchedulerWorker) Run(ctx context.Context) {
	sw.resubmitStranded(ctx)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("scheduler worker started", zap.Duration("interval", sw.interval))

	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("scheduler worker stopping")
			return
		case <-ticker.C:
			sw.poll(ctx)
		}
	}
}

func (sw *SchedulerWorker) poll(ctx context.Context) {
	messages, err := sw.repo.FindDueScheduled(ctx)
	if err != nil {
		sw.logger.Error("scheduler poll error", zap.Error(err))
		return
	}

	for _, m := range messages {
		sw.d.Dispatch(ctx, m)
	}

	if len(messages) > 0 {
		sw.logger.Info("dispatched due scheduled messages", zap.Int("count", len(messages)))
	}
}

// resubmitStranded resubmits messages left pending, queued or sending by a
// previous process. Conversation queues live in memory only, so nothing else
// picks them up after a restart. The gateway deduplicates on message id.
func (sw *SchedulerWorker) resubmitStranded(ctx context.Context) {
	messages, err := sw.repo.FindStranded(ctx)
	if err != nil {
		sw.logger.Error("stranded message lookup failed", zap.Error(err))
		return
	}

	for _, m := range messages {
		sw.d.Dispatch(ctx, m)
	}

	if len(messages) > 0 {
		sw.logger.Info("resubmitted stranded messages", zap.Int("count", len(messages)))
	}
}
