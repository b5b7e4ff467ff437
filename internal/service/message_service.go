package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/domain"
	"github.com/miauchat/dispatch/internal/queue"
	"github.com/miauchat/dispatch/internal/repository"
	"github.com/miauchat/dispatch/internal/worker"
)

// MessageService coordinates the repository, the conversation queue and the
// sender. All business rules (idempotency, cancel state machine, conversation
// teardown) live here. HTTP handlers and pollers depend on this service.
type MessageService struct {
	repo        repository.MessageRepository
	q           *queue.Manager
	sender      *worker.Sender
	waitTimeout time.Duration
	logger      *zap.Logger
}

func NewMessageService(
	repo repository.MessageRepository,
	q *queue.Manager,
	sender *worker.Sender,
	waitTimeout time.Duration,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{repo: repo, q: q, sender: sender, waitTimeout: waitTimeout, logger: logger}
}

// CloseResult reports what CloseConversation discarded.
type CloseResult struct {
	ConversationID string `json:"conversation_id"`
	DroppedTasks   int    `json:"dropped_tasks"`
	Cancelled      int    `json:"cancelled_messages"`
}

// Send validates, persists and delivers a single message.
//
// Unless the message is scheduled, Send waits for its turn on the
// conversation queue and for the send attempt to settle, bounded by the
// configured wait timeout, and returns the message in its resulting state.
// A send failure is not an error here; it shows up as the message status.
//
// Idempotency: if a key was supplied and the company already has a message
// with that key, the existing record is returned with duplicate=true.
func (s *MessageService) Send(
	ctx context.Context,
	req domain.SendMessageRequest,
	idempotencyKey string,
) (*domain.Message, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	if idempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, req.CompanyID, idempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	m := buildMessage(req, idempotencyKey)
	if err := s.repo.Create(ctx, m); err != nil {
		// Lost a race with a concurrent request carrying the same key.
		if errors.Is(err, domain.ErrConflict) && idempotencyKey != "" {
			existing, lookupErr := s.findByIdempotencyKey(ctx, req.CompanyID, idempotencyKey)
			if lookupErr == nil && existing != nil {
				return existing, true, nil
			}
		}
		return nil, false, fmt.Errorf("persist message: %w", err)
	}

	if m.ScheduledAt != nil {
		return m, false, nil // scheduler worker handles these
	}

	out, err := s.deliver(ctx, m)
	return out, false, err
}

// Dispatch submits a stored message to its conversation queue and marks it
// queued. The returned channel settles when the send attempt finishes.
//
// m must be the copy the caller loaded. The message is only claimed while
// its stored status and retry count still match that copy, so when a poller
// and a manual retry race for the same message exactly one of them enqueues
// it; the other settles at once with domain.ErrStatusChanged.
//
// The queued task is detached from ctx's cancellation: once accepted, a send
// runs in order even if the submitting request goes away.
func (s *MessageService) Dispatch(ctx context.Context, m *domain.Message) <-chan error {
	if err := s.repo.Claim(ctx, m.ID, m.Status, m.RetryCount); err != nil {
		if errors.Is(err, domain.ErrStatusChanged) {
			s.logger.Debug("message already claimed, not dispatching",
				zap.String("id", m.ID), zap.String("seen_status", string(m.Status)))
		} else {
			s.logger.Error("failed to update status to queued", zap.String("id", m.ID), zap.Error(err))
		}
		ch := make(chan error, 1)
		ch <- err
		close(ch)
		return ch
	}
	m.Status = domain.StatusQueued

	id := m.ID
	return s.q.Enqueue(context.WithoutCancel(ctx), m.ConversationID, func(ctx context.Context) error {
		return s.sender.Deliver(ctx, id)
	})
}

// Retry re-submits a failed message. Retrying is always the caller's
// decision; the queue never retries on its own.
func (s *MessageService) Retry(ctx context.Context, id string) (*domain.Message, error) {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status != domain.StatusFailed {
		return nil, domain.ErrNotRetryable
	}

	out, err := s.deliver(ctx, m)
	if errors.Is(err, domain.ErrStatusChanged) {
		// The retry worker picked it up between our read and the claim.
		return nil, domain.ErrNotRetryable
	}
	return out, err
}

// Cancel marks a message as cancelled if it has not been handed to the
// gateway yet. If it is already queued, its task is skipped when it reaches
// the head of the conversation queue.
func (s *MessageService) Cancel(ctx context.Context, id string) error {
	m, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if m.Status == domain.StatusCancelled {
		return domain.ErrAlreadyCancelled
	}
	if !m.Cancellable() {
		return domain.ErrNotCancellable
	}

	return s.repo.Cancel(ctx, id)
}

// CloseConversation tears a conversation down: every unsent message is
// cancelled and every not-yet-started task is dropped from its queue. A send
// already in flight is allowed to finish.
//
// Messages are cancelled before the queue is cleared so that anything a
// poller submits in between is skipped by the sender.
func (s *MessageService) CloseConversation(ctx context.Context, conversationID string) (*CloseResult, error) {
	if conversationID == "" {
		return nil, domain.ErrInvalidConversation
	}

	cancelled, err := s.repo.CancelConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	dropped := s.q.ClearQueue(conversationID)

	s.logger.Info("conversation closed",
		zap.String("conversation_id", conversationID),
		zap.Int("dropped_tasks", dropped),
		zap.Int("cancelled_messages", cancelled))

	return &CloseResult{ConversationID: conversationID, DroppedTasks: dropped, Cancelled: cancelled}, nil
}

// Shutdown drops all pending sends and waits for in-flight ones, or for ctx.
func (s *MessageService) Shutdown(ctx context.Context) error {
	dropped := s.q.ClearAllQueues()
	s.logger.Info("draining conversation queues", zap.Int("dropped_tasks", dropped))

	done := make(chan struct{})
	go func() {
		s.q.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MessageService) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *MessageService) List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *MessageService) QueueStats() queue.Stats {
	return s.q.Stats()
}

// ---- private helpers ----

// deliver dispatches m and waits for the outcome, then reloads the stored
// state. If the wait times out the message is returned still queued/sending.
// A lost claim is returned as domain.ErrStatusChanged.
func (s *MessageService) deliver(ctx context.Context, m *domain.Message) (*domain.Message, error) {
	done := s.Dispatch(ctx, m)

	waitCtx := ctx
	if s.waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.waitTimeout)
		defer cancel()
	}

	select {
	case err := <-done:
		if errors.Is(err, domain.ErrStatusChanged) {
			return nil, err
		}
		if err != nil {
			s.logger.Debug("send settled with error",
				zap.String("id", m.ID),
				zap.String("conversation_id", m.ConversationID),
				zap.Error(err))
		}
	case <-waitCtx.Done():
		s.logger.Debug("stopped waiting for send", zap.String("id", m.ID))
	}

	// Use a context that survives the caller's cancellation so the response
	// reflects the stored state.
	out, err := s.repo.GetByID(context.WithoutCancel(ctx), m.ID)
	if err != nil {
		return nil, fmt.Errorf("reload message: %w", err)
	}
	return out, nil
}

func (s *MessageService) findByIdempotencyKey(ctx context.Context, companyID, key string) (*domain.Message, error) {
	existing, err := s.repo.GetByIdempotencyKey(ctx, companyID, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	return existing, nil
}

func buildMessage(req domain.SendMessageRequest, idempotencyKey string) *domain.Message {
	now := time.Now().UTC()
	status := domain.StatusPending
	if req.ScheduledAt != nil {
		status = domain.StatusScheduled
	}

	m := &domain.Message{
		ID:             uuid.New().String(),
		CompanyID:      req.CompanyID,
		ConversationID: req.ConversationID,
		Channel:        req.Channel,
		Recipient:      req.Recipient,
		Content:        req.Content,
		MediaURL:       req.MediaURL,
		Status:         status,
		MaxRetries:     domain.DefaultMaxRetries,
		ScheduledAt:    req.ScheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if idempotencyKey != "" {
		m.IdempotencyKey = &idempotencyKey
	}

	return m
}

// compile-time check that MessageService feeds the pollers
var _ worker.Dispatcher = (*MessageService)(nil)
