package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hooks carries the metric callbacks injected by main.
// Either field may be nil.
type Hooks struct {
	OnStart func(conversationID string, waited time.Duration)
	OnDone  func(conversationID string, latency time.Duration, err error)
}

// conversation is the pending FIFO for one conversation id.
//
// An entry exists in Manager.conversations only while a drain worker owns it:
// it is created together with its worker and removed by that worker once
// tasks is empty. Clearing empties tasks but never removes the entry, so a
// later Enqueue cannot start a second worker while a send is still in flight.
type conversation struct {
	tasks    []*task
	inFlight bool
}

// Manager serialises send operations per conversation.
//
// For one conversation id, the Nth operation does not start until the
// (N-1)th has settled. Different conversations are drained by independent
// goroutines and never wait on each other. The manager imposes no timeout;
// a hung operation stalls only its own conversation.
type Manager struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	wg            sync.WaitGroup

	onStart func(string, time.Duration)
	onDone  func(string, time.Duration, error)
	logger  *zap.Logger
}

// New returns an empty Manager. Its lifetime is the lifetime of the owner;
// there is no package-level registry.
func New(logger *zap.Logger, hooks Hooks) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hooks.OnStart == nil {
		hooks.OnStart = func(string, time.Duration) {}
	}
	if hooks.OnDone == nil {
		hooks.OnDone = func(string, time.Duration, error) {}
	}
	return &Manager{
		conversations: make(map[string]*conversation),
		onStart:       hooks.OnStart,
		onDone:        hooks.OnDone,
		logger:        logger,
	}
}

// Enqueue appends op to the conversation's queue and starts draining it if no
// worker is running. It never blocks and never panics.
//
// The returned channel yields exactly one value once this particular task has
// finished: nil on success, or the error op returned, unwrapped. A failing task
// does not affect the tasks queued behind it.
//
// ctx is handed to op. If ctx is already done when the task reaches the head
// of the queue, op is skipped and the task settles with ctx.Err().
func (m *Manager) Enqueue(ctx context.Context, conversationID string, op SendFunc) <-chan error {
	t := newTask(ctx, op)
	switch {
	case conversationID == "":
		t.settle(ErrEmptyConversationID)
		return t.result
	case op == nil:
		t.settle(ErrNilOperation)
		return t.result
	}

	m.mu.Lock()
	c, ok := m.conversations[conversationID]
	if !ok {
		c = &conversation{}
		m.conversations[conversationID] = c
		m.wg.Add(1)
		go m.drain(conversationID, c)
	}
	c.tasks = append(c.tasks, t)
	m.mu.Unlock()

	return t.result
}

// Send enqueues op and waits for it to settle. If ctx ends first Send returns
// ctx.Err(); the task itself stays queued and still runs in order.
func (m *Manager) Send(ctx context.Context, conversationID string, op SendFunc) error {
	select {
	case err := <-m.Enqueue(ctx, conversationID, op):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearQueue drops every not-yet-started task of the conversation. Dropped
// tasks settle with ErrQueueCleared and their operations never run. A task
// that is already executing is not interrupted.
func (m *Manager) ClearQueue(conversationID string) int {
	m.mu.Lock()
	var dropped []*task
	if c, ok := m.conversations[conversationID]; ok {
		dropped = c.tasks
		c.tasks = nil
	}
	m.mu.Unlock()

	for _, t := range dropped {
		t.settle(ErrQueueCleared)
	}
	if len(dropped) > 0 {
		m.logger.Debug("conversation queue cleared",
			zap.String("conversation_id", conversationID),
			zap.Int("dropped", len(dropped)))
	}
	return len(dropped)
}

// ClearAllQueues drops the pending tasks of every conversation.
func (m *Manager) ClearAllQueues() int {
	m.mu.Lock()
	var dropped []*task
	for _, c := range m.conversations {
		dropped = append(dropped, c.tasks...)
		c.tasks = nil
	}
	m.mu.Unlock()

	for _, t := range dropped {
		t.settle(ErrQueueCleared)
	}
	if len(dropped) > 0 {
		m.logger.Info("all conversation queues cleared", zap.Int("dropped", len(dropped)))
	}
	return len(dropped)
}

// Wait blocks until every drain worker has returned. Call ClearAllQueues first
// during shutdown so that only in-flight sends are waited on.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// drain runs the conversation's tasks one at a time until the queue is empty,
// then removes the conversation under the same lock acquisition that observed
// it empty.
func (m *Manager) drain(conversationID string, c *conversation) {
	defer m.wg.Done()
	log := m.logger.With(zap.String("conversation_id", conversationID))
	log.Debug("drain started")

	for {
		m.mu.Lock()
		if len(c.tasks) == 0 {
			c.inFlight = false
			delete(m.conversations, conversationID)
			m.mu.Unlock()
			log.Debug("drain finished")
			return
		}
		t := c.tasks[0]
		c.tasks[0] = nil
		c.tasks = c.tasks[1:]
		c.inFlight = true
		m.mu.Unlock()

		t.settle(m.run(conversationID, t, log))
	}
}

// run executes a single task. A panic in op is recovered and reported as the
// task's error so the conversation keeps draining.
func (m *Manager) run(conversationID string, t *task, log *zap.Logger) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}

	m.onStart(conversationID, time.Since(t.enqueuedAt))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: send operation panicked: %v", r)
			log.Error("send operation panicked", zap.Any("panic", r))
		}
		m.onDone(conversationID, time.Since(start), err)
	}()

	return t.op(t.ctx)
}
