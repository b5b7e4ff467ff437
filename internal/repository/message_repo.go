package repository

import (
	"context"
	"time"

	"github.com/miauchat/dispatch/internal/domain"
)

// MessageRepository defines all persistence operations for outbound messages.
// The pgx implementation is in pg_message_repo.go.
// Tests use a hand-written mock (mock_message_repo.go).
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByIdempotencyKey(ctx context.Context, companyID, key string) (*domain.Message, error)
	List(ctx context.Context, filter domain.ListFilter) ([]*domain.Message, int, error)
	// UpdateStatus never moves a message out of cancelled or sent.
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	// Claim marks the message queued only if it still has the status and
	// retry count the caller loaded; otherwise it returns
	// domain.ErrStatusChanged. A failed attempt bumps retry_count, so a stale
	// copy of a message that failed again cannot claim it a second time.
	Claim(ctx context.Context, id string, seen domain.Status, seenRetryCount int) error
	MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetry time.Time, errMsg string) error
	// Cancel returns domain.ErrNotCancellable when the message has already
	// left every cancellable status.
	Cancel(ctx context.Context, id string) error
	CancelConversation(ctx context.Context, conversationID string) (int, error)
	FindDueRetries(ctx context.Context) ([]*domain.Message, error)
	FindDueScheduled(ctx context.Context) ([]*domain.Message, error)
	FindStranded(ctx context.Context) ([]*domain.Message, error)
}
