package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/domain"
	"github.com/miauchat/dispatch/internal/provider"
	"github.com/miauchat/dispatch/internal/ratelimiter"
	"github.com/miauchat/dispatch/internal/repository"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the constructor signature clean.
type MetricHooks struct {
	OnSent   func(channel domain.Channel, latency time.Duration)
	OnFailed func(channel domain.Channel)
}

// Sender performs one delivery attempt for a stored message: it applies
// per-channel rate limiting, calls the provider and records the outcome.
//
// Deliver is the operation placed on a conversation queue, so it only ever
// runs once every earlier send of the same conversation has settled.
type Sender struct {
	repo    repository.MessageRepository
	prov    provider.Provider
	limiter *ratelimiter.ChannelLimiters
	backoff []time.Duration
	logger  *zap.Logger

	// Hooks for metrics, injected so the sender stays metrics-agnostic.
	onSent   func(channel domain.Channel, latency time.Duration)
	onFailed func(channel domain.Channel)
}

// NewSender constructs a sender. Hook fields are optional (nil = no-op).
func NewSender(
	repo repository.MessageRepository,
	prov provider.Provider,
	limiter *ratelimiter.ChannelLimiters,
	backoff []time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Sender {
	if hooks.OnSent == nil {
		hooks.OnSent = func(domain.Channel, time.Duration) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.Channel) {}
	}
	return &Sender{
		repo: repo, prov: prov, limiter: limiter,
		backoff: backoff, logger: logger,
		onSent: hooks.OnSent, onFailed: hooks.OnFailed,
	}
}

// Deliver sends the message with the given id. The provider's error is
// returned as-is so the conversation queue can hand it back to the caller.
// Messages that were cancelled or already sent while queued are skipped.
func (s *Sender) Deliver(ctx context.Context, id string) error {
	log := s.logger.With(zap.String("message_id", id))

	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		log.Error("failed to fetch message", zap.Error(err))
		return err
	}
	log = log.With(
		zap.String("conversation_id", m.ConversationID),
		zap.String("channel", string(m.Channel)),
	)

	// A cancellation between enqueue and processing time is valid; skip silently.
	switch m.Status {
	case domain.StatusCancelled:
		log.Debug("message was cancelled before sending")
		return nil
	case domain.StatusSent:
		log.Debug("message already sent")
		return nil
	}

	if err := s.repo.UpdateStatus(ctx, m.ID, domain.StatusSending); err != nil {
		log.Error("failed to mark as sending", zap.Error(err))
		return err
	}

	// Block here until the per-channel rate limiter grants a token.
	if err := s.limiter.Wait(ctx, m.Channel); err != nil {
		_ = s.repo.UpdateStatus(ctx, m.ID, domain.StatusQueued)
		return err
	}

	start := time.Now()
	resp, err := s.prov.Send(ctx, m)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("gateway send failed",
			zap.Error(err),
			zap.Int("retry_count", m.RetryCount),
		)
		s.handleFailure(ctx, m, err)
		s.onFailed(m.Channel)
		return err
	}

	if err := s.repo.MarkSent(ctx, m.ID, resp.MessageID, time.Now().UTC()); err != nil {
		log.Error("failed to mark as sent", zap.Error(err))
		return err
	}

	s.onSent(m.Channel, elapsed)
	log.Info("message sent", zap.String("provider_msg_id", resp.MessageID), zap.Duration("latency", elapsed))
	return nil
}

// handleFailure either schedules a retry (if retries remain) or marks the
// message as permanently failed.
//
// Retry schedule uses the configured backoff:
//
//	attempt 0 → backoff[0]  (default 5 s)
//	attempt 1 → backoff[1]  (default 30 s)
//	attempt 2 → backoff[2]  (default 120 s)
//	attempt N ≥ len(backoff) → last backoff entry (clamped)
func (s *Sender) handleFailure(ctx context.Context, m *domain.Message, sendErr error) {
	if m.RetryCount >= m.MaxRetries || len(s.backoff) == 0 {
		if err := s.repo.MarkFailed(ctx, m.ID, sendErr.Error()); err != nil {
			s.logger.Error("failed to mark message as failed",
				zap.String("id", m.ID), zap.Error(err))
		}
		return
	}

	idx := min(m.RetryCount, len(s.backoff)-1)
	nextRetry := time.Now().UTC().Add(s.backoff[idx])

	if err := s.repo.ScheduleRetry(ctx, m.ID, m.RetryCount+1, nextRetry, sendErr.Error()); err != nil {
		s.logger.Error("failed to schedule retry",
			zap.String("id", m.ID), zap.Error(err))
	}
}
