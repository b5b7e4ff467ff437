package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miauchat/dispatch/internal/domain"
)

// MockMessageRepository is a hand-written, in-memory implementation of
// MessageRepository used in unit tests. No mock-generation library needed.
type MockMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message

	// Optional error overrides, set in tests to simulate failure paths.
	CreateErr              error
	GetByIDErr             error
	GetByIdempotencyKeyErr error
	FindDueErr             error
}

func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{
		messages: make(map[string]*domain.Message),
	}
}

func (r *MockMessageRepository) Create(_ context.Context, m *domain.Message) error {
	if r.CreateErr != nil {
		return r.CreateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.IdempotencyKey != nil {
		for _, existing := range r.messages {
			if existing.CompanyID == m.CompanyID &&
				existing.IdempotencyKey != nil && *existing.IdempotencyKey == *m.IdempotencyKey {
				return domain.ErrConflict
			}
		}
	}
	clone := *m
	r.messages[m.ID] = &clone
	return nil
}

func (r *MockMessageRepository) GetByID(_ context.Context, id string) (*domain.Message, error) {
	if r.GetByIDErr != nil {
		return nil, r.GetByIDErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *m
	return &clone, nil
}

func (r *MockMessageRepository) GetByIdempotencyKey(_ context.Context, companyID, key string) (*domain.Message, error) {
	if r.GetByIdempotencyKeyErr != nil {
		return nil, r.GetByIdempotencyKeyErr
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.messages {
		if m.CompanyID == companyID && m.IdempotencyKey != nil && *m.IdempotencyKey == key {
			clone := *m
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockMessageRepository) List(_ context.Context, f domain.ListFilter) ([]*domain.Message, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	matched := make([]*domain.Message, 0, len(r.messages))
	for _, m := range r.messages {
		if f.CompanyID != nil && m.CompanyID != *f.CompanyID {
			continue
		}
		if f.ConversationID != nil && m.ConversationID != *f.ConversationID {
			continue
		}
		if f.Status != nil && m.Status != *f.Status {
			continue
		}
		if f.Channel != nil && m.Channel != *f.Channel {
			continue
		}
		clone := *m
		matched = append(matched, &clone)
	}

	// Newest first, then LIMIT/OFFSET, as in the pgx implementation.
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Limit <= 0 {
		return matched, total, nil
	}
	offset := (max(f.Page, 1) - 1) * f.Limit
	if offset >= total {
		return []*domain.Message{}, total, nil
	}
	end := min(offset+f.Limit, total)
	return matched[offset:end], total, nil
}

func (r *MockMessageRepository) UpdateStatus(_ context.Context, id string, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok && m.Status != domain.StatusCancelled && m.Status != domain.StatusSent {
		m.Status = status
	}
	return nil
}

func (r *MockMessageRepository) MarkSent(_ context.Context, id, providerMsgID string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Status = domain.StatusSent
		m.ProviderMsgID = &providerMsgID
		m.SentAt = &sentAt
		m.ErrorMessage = nil
		m.NextRetryAt = nil
	}
	return nil
}

func (r *MockMessageRepository) MarkFailed(_ context.Context, id, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.Status = domain.StatusFailed
		m.ErrorMessage = &errMsg
		m.NextRetryAt = nil
	}
	return nil
}

func (r *MockMessageRepository) ScheduleRetry(_ context.Context, id string, retryCount int, nextRetry time.Time, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.messages[id]; ok {
		m.RetryCount = retryCount
		m.NextRetryAt = &nextRetry
		m.ErrorMessage = &errMsg
		m.Status = domain.StatusFailed
	}
	return nil
}

func (r *MockMessageRepository) Claim(_ context.Context, id string, seen domain.Status, seenRetryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || m.Status != seen || m.RetryCount != seenRetryCount {
		return domain.ErrStatusChanged
	}
	m.Status = domain.StatusQueued
	return nil
}

func (r *MockMessageRepository) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok || !m.Cancellable() {
		return domain.ErrNotCancellable
	}
	m.Status = domain.StatusCancelled
	m.NextRetryAt = nil
	return nil
}

func (r *MockMessageRepository) CancelConversation(_ context.Context, conversationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if m.ConversationID == conversationID && m.Cancellable() {
			m.Status = domain.StatusCancelled
			m.NextRetryAt = nil
			n++
		}
	}
	return n, nil
}

func (r *MockMessageRepository) FindDueRetries(_ context.Context) ([]*domain.Message, error) {
	if r.FindDueErr != nil {
		return nil, r.FindDueErr
	}
	now := time.Now()
	return r.collect(func(m *domain.Message) bool {
		return m.Status == domain.StatusFailed &&
			m.RetryCount < m.MaxRetries &&
			m.NextRetryAt != nil && !m.NextRetryAt.After(now)
	}), nil
}

func (r *MockMessageRepository) FindDueScheduled(_ context.Context) ([]*domain.Message, error) {
	if r.FindDueErr != nil {
		return nil, r.FindDueErr
	}
	now := time.Now()
	return r.collect(func(m *domain.Message) bool {
		return m.Status == domain.StatusScheduled &&
			m.ScheduledAt != nil && !m.ScheduledAt.After(now)
	}), nil
}

func (r *MockMessageRepository) FindStranded(_ context.Context) ([]*domain.Message, error) {
	if r.FindDueErr != nil {
		return nil, r.FindDueErr
	}
	return r.collect(func(m *domain.Message) bool {
		switch m.Status {
		case domain.StatusPending, domain.StatusQueued, domain.StatusSending:
			return true
		}
		return false
	}), nil
}

// collect returns clones of matching messages ordered by creation time,
// like the ORDER BY in the pgx implementation.
func (r *MockMessageRepository) collect(match func(*domain.Message) bool) []*domain.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.Message
	for _, m := range r.messages {
		if match(m) {
			clone := *m
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}
