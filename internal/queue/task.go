package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrQueueCleared settles tasks that were dropped by ClearQueue or
	// ClearAllQueues before their operation started.
	ErrQueueCleared = errors.New("queue: task dropped before it started")

	// ErrEmptyConversationID settles tasks submitted without a conversation.
	ErrEmptyConversationID = errors.New("queue: conversation id must not be empty")

	// ErrNilOperation settles tasks submitted without a send operation.
	ErrNilOperation = errors.New("queue: send operation must not be nil")
)

// SendFunc performs exactly one logical send attempt. It has no side effects
// until the manager invokes it.
type SendFunc func(ctx context.Context) error

// task is one caller's pending send. The result channel is buffered so the
// drain worker never blocks on a caller that stopped listening.
type task struct {
	ctx        context.Context
	op         SendFunc
	result     chan error
	enqueuedAt time.Time
}

func newTask(ctx context.Context, op SendFunc) *task {
	return &task{
		ctx:        ctx,
		op:         op,
		result:     make(chan error, 1),
		enqueuedAt: time.Now(),
	}
}

// settle delivers the outcome. Called exactly once per task.
func (t *task) settle(err error) {
	t.result <- err
	close(t.result)
}
