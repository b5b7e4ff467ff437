package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/miauchat/dispatch/internal/domain"
)

const messageColumns = `
	id, company_id, conversation_id, channel, recipient, content, media_url,
	status, idempotency_key, retry_count, max_retries, next_retry_at,
	scheduled_at, sent_at, provider_msg_id, error_message, created_at, updated_at`

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

type pgMessageRepository struct {
	pool *pgxpool.Pool
}

// NewPgMessageRepository returns a MessageRepository backed by PostgreSQL.
func NewPgMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &pgMessageRepository{pool: pool}
}

func (r *pgMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO messages
			(id, company_id, conversation_id, channel, recipient, content, media_url,
			 status, idempotency_key, retry_count, max_retries, scheduled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		m.ID, m.CompanyID, m.ConversationID, m.Channel, m.Recipient, m.Content, m.MediaURL,
		m.Status, m.IdempotencyKey, m.RetryCount, m.MaxRetries, m.ScheduledAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+messageColumns+` FROM messages WHERE id = $1`, id)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMessageRepository) GetByIdempotencyKey(ctx context.Context, companyID, key string) (*domain.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT`+messageColumns+`
		FROM messages WHERE company_id = $1 AND idempotency_key = $2`, companyID, key)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMessageRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Message, int, error) {
	where, args := buildListWhere(f)
	offset := (f.Page - 1) * f.Limit

	// Count total matching rows for pagination metadata.
	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM messages"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	// Append pagination args after the WHERE args.
	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`SELECT%s FROM messages%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, messageColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	return messages, total, err
}

func (r *pgMessageRepository) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET status = $1, updated_at = NOW()
		 WHERE id = $2 AND status NOT IN ('cancelled','sent')`, status, id)
	return err
}

func (r *pgMessageRepository) MarkSent(ctx context.Context, id, providerMsgID string, sentAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'sent', provider_msg_id = $1, sent_at = $2, error_message = NULL,
		    next_retry_at = NULL, updated_at = NOW()
		WHERE id = $3`, providerMsgID, sentAt, id)
	return err
}

func (r *pgMessageRepository) MarkFailed(ctx context.Context, id, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'failed', error_message = $1, next_retry_at = NULL, updated_at = NOW()
		WHERE id = $2`, errMsg, id)
	return err
}

func (r *pgMessageRepository) ScheduleRetry(ctx context.Context, id string, retryCount int, nextRetry time.Time, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'failed', retry_count = $1, next_retry_at = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4`, retryCount, nextRetry, errMsg, id)
	return err
}

func (r *pgMessageRepository) Claim(ctx context.Context, id string, seen domain.Status, seenRetryCount int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'queued', updated_at = NOW()
		WHERE id = $1 AND status = $2 AND retry_count = $3`, id, seen, seenRetryCount)
	if err != nil {
		return fmt.Errorf("claim message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStatusChanged
	}
	return nil
}

func (r *pgMessageRepository) Cancel(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'cancelled', next_retry_at = NULL, updated_at = NOW()
		WHERE id = $1
		  AND status IN ('pending','queued','scheduled','failed')`, id)
	if err != nil {
		return fmt.Errorf("cancel message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotCancellable
	}
	return nil
}

func (r *pgMessageRepository) CancelConversation(ctx context.Context, conversationID string) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status = 'cancelled', next_retry_at = NULL, updated_at = NOW()
		WHERE conversation_id = $1
		  AND status IN ('pending','queued','scheduled','failed')`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("cancel conversation messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// FindDueRetries orders by created_at so that the retry worker submits a
// conversation's messages in their original order.
func (r *pgMessageRepository) FindDueRetries(ctx context.Context) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+messageColumns+`
		FROM messages
		WHERE status = 'failed'
		  AND retry_count < max_retries
		  AND next_retry_at <= NOW()
		ORDER BY created_at ASC
		LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("find due retries: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *pgMessageRepository) FindDueScheduled(ctx context.Context) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+messageColumns+`
		FROM messages
		WHERE status = 'scheduled'
		  AND scheduled_at <= NOW()
		ORDER BY scheduled_at ASC, created_at ASC
		LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("find due scheduled: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// FindStranded returns messages that were accepted but never settled, e.g.
// because the process stopped while they sat in a conversation queue.
func (r *pgMessageRepository) FindStranded(ctx context.Context) ([]*domain.Message, error) {
	rows, err := r.pool.Query(ctx, `SELECT`+messageColumns+`
		FROM messages
		WHERE status IN ('pending','queued','sending')
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("find stranded: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ---- helpers ----

// scanMessage reads a single message row from any pgx row type.
func scanMessage(row pgx.Row) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(
		&m.ID, &m.CompanyID, &m.ConversationID, &m.Channel, &m.Recipient, &m.Content, &m.MediaURL,
		&m.Status, &m.IdempotencyKey, &m.RetryCount, &m.MaxRetries, &m.NextRetryAt,
		&m.ScheduledAt, &m.SentAt, &m.ProviderMsgID, &m.ErrorMessage,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.Message, error) {
	var result []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause from a ListFilter.
func buildListWhere(f domain.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.CompanyID != nil {
		add("company_id = $%d", *f.CompanyID)
	}
	if f.ConversationID != nil {
		add("conversation_id = $%d", *f.ConversationID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}
