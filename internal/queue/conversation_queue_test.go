package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/queue"
)

func newManager() *queue.Manager {
	return queue.New(zap.NewNop(), queue.Hooks{})
}

// recorder collects labels in the order they are appended.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func await(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("task did not settle")
		return nil
	}
}

func TestManager_FIFOWithinConversation(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	rec := &recorder{}

	var running int32
	op := func(label string) queue.SendFunc {
		return func(context.Context) error {
			if n := atomic.AddInt32(&running, 1); n != 1 {
				t.Errorf("%s started while %d other task(s) were running", label, n-1)
			}
			rec.add("start:" + label)
			time.Sleep(5 * time.Millisecond)
			rec.add("end:" + label)
			atomic.AddInt32(&running, -1)
			return nil
		}
	}

	a := m.Enqueue(ctx, "conv-1", op("A"))
	b := m.Enqueue(ctx, "conv-1", op("B"))
	d := m.Enqueue(ctx, "conv-1", op("D"))

	require.NoError(t, await(t, a))
	require.NoError(t, await(t, b))
	require.NoError(t, await(t, d))

	assert.Equal(t, []string{
		"start:A", "end:A",
		"start:B", "end:B",
		"start:D", "end:D",
	}, rec.snapshot())
}

func TestManager_ConversationsAreIndependent(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	release := make(chan struct{})
	slow := m.Enqueue(ctx, "conv-slow", func(context.Context) error {
		<-release
		return nil
	})
	fast := m.Enqueue(ctx, "conv-fast", func(context.Context) error { return nil })

	// The fast conversation must finish while the slow one is still blocked.
	require.NoError(t, await(t, fast))
	select {
	case <-slow:
		t.Fatal("slow task settled before it was released")
	default:
	}

	close(release)
	require.NoError(t, await(t, slow))
}

func TestManager_CompletionOrderAcrossConversations(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	rec := &recorder{}

	sleeper := func(label string, d time.Duration) queue.SendFunc {
		return func(context.Context) error {
			time.Sleep(d)
			rec.add(label)
			return nil
		}
	}

	a := m.Enqueue(ctx, "conv-1", sleeper("sendA", 100*time.Millisecond))
	b := m.Enqueue(ctx, "conv-1", sleeper("sendB", 10*time.Millisecond))
	c := m.Enqueue(ctx, "conv-2", sleeper("sendC", 5*time.Millisecond))

	for _, ch := range []<-chan error{a, b, c} {
		require.NoError(t, await(t, ch))
	}
	assert.Equal(t, []string{"sendC", "sendA", "sendB"}, rec.snapshot())
}

func TestManager_FailureIsLocalToTask(t *testing.T) {
	m := newManager()
	ctx := context.Background()
	boom := errors.New("gateway rejected message")

	var bRan atomic.Bool
	a := m.Enqueue(ctx, "conv-1", func(context.Context) error { return boom })
	b := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		bRan.Store(true)
		return nil
	})

	err := await(t, a)
	assert.Same(t, boom, err, "error must be surfaced unwrapped")
	require.NoError(t, await(t, b))
	assert.True(t, bRan.Load())
}

func TestManager_IdleConversationIsRemoved(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	release := make(chan struct{})
	a := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		<-release
		return nil
	})
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, m.Pending("conv-1"))

	close(release)
	require.NoError(t, await(t, a))

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, m.Pending("conv-1"))

	// A new task lazily recreates the conversation.
	require.NoError(t, await(t, m.Enqueue(ctx, "conv-1", func(context.Context) error { return nil })))
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, time.Millisecond)
}

func TestManager_ClearQueueDropsPendingNotInFlight(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var bRan atomic.Bool

	a := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	b := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		bRan.Store(true)
		return nil
	})
	assert.Equal(t, 2, m.Pending("conv-1"))

	dropped := m.ClearQueue("conv-1")
	assert.Equal(t, 1, dropped)
	assert.ErrorIs(t, await(t, b), queue.ErrQueueCleared)

	// The in-flight conversation stays tracked until A settles.
	assert.Equal(t, 1, m.Len())

	close(release)
	require.NoError(t, await(t, a))
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, time.Millisecond)
	assert.False(t, bRan.Load(), "cleared task must never run")
}

func TestManager_ClearedConversationDoesNotRunConcurrently(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	var running int32

	a := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		atomic.AddInt32(&running, 1)
		close(started)
		<-release
		atomic.AddInt32(&running, -1)
		return nil
	})
	<-started
	m.ClearAllQueues()

	var overlapped atomic.Bool
	b := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		if atomic.LoadInt32(&running) != 0 {
			overlapped.Store(true)
		}
		return nil
	})

	close(release)
	require.NoError(t, await(t, a))
	require.NoError(t, await(t, b))
	assert.False(t, overlapped.Load(), "task enqueued after a clear ran alongside the in-flight task")
}

func TestManager_ClearAllQueues(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	release := make(chan struct{})
	var heads, tails []<-chan error
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("conv-%d", i)
		heads = append(heads, m.Enqueue(ctx, id, func(context.Context) error {
			<-release
			return nil
		}))
		tails = append(tails, m.Enqueue(ctx, id, func(context.Context) error { return nil }))
	}

	require.Eventually(t, func() bool { return m.Stats().InFlight == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, m.ClearAllQueues())

	for _, ch := range tails {
		assert.ErrorIs(t, await(t, ch), queue.ErrQueueCleared)
	}
	close(release)
	for _, ch := range heads {
		require.NoError(t, await(t, ch))
	}
	m.Wait()
	assert.Equal(t, 0, m.Len())
}

func TestManager_ClearUnknownConversationIsNoop(t *testing.T) {
	m := newManager()
	assert.Equal(t, 0, m.ClearQueue("missing"))
	assert.Equal(t, 0, m.ClearAllQueues())
}

func TestManager_PanickingOperationDoesNotStickQueue(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	a := m.Enqueue(ctx, "conv-1", func(context.Context) error { panic("bad payload") })
	b := m.Enqueue(ctx, "conv-1", func(context.Context) error { return nil })

	err := await(t, a)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
	require.NoError(t, await(t, b))
}

func TestManager_InvalidInputSettlesImmediately(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	assert.ErrorIs(t, await(t, m.Enqueue(ctx, "", func(context.Context) error { return nil })), queue.ErrEmptyConversationID)
	assert.ErrorIs(t, await(t, m.Enqueue(ctx, "conv-1", nil)), queue.ErrNilOperation)
	assert.Equal(t, 0, m.Len())
}

func TestManager_DoneContextSkipsOperation(t *testing.T) {
	m := newManager()

	release := make(chan struct{})
	head := m.Enqueue(context.Background(), "conv-1", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	skipped := m.Enqueue(ctx, "conv-1", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	cancel()
	close(release)

	require.NoError(t, await(t, head))
	assert.ErrorIs(t, await(t, skipped), context.Canceled)
	assert.False(t, ran.Load())
}

func TestManager_SendReturnsWhenCallerGivesUp(t *testing.T) {
	m := newManager()

	release := make(chan struct{})
	head := m.Enqueue(context.Background(), "conv-1", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Send(ctx, "conv-1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, await(t, head))
	m.Wait()
}

func TestManager_SendReturnsOperationError(t *testing.T) {
	m := newManager()
	boom := errors.New("boom")
	err := m.Send(context.Background(), "conv-1", func(context.Context) error { return boom })
	assert.Same(t, boom, err)
}

func TestManager_HooksObserveEachTask(t *testing.T) {
	var starts, dones, failures int32
	m := queue.New(zap.NewNop(), queue.Hooks{
		OnStart: func(string, time.Duration) { atomic.AddInt32(&starts, 1) },
		OnDone: func(_ string, _ time.Duration, err error) {
			atomic.AddInt32(&dones, 1)
			if err != nil {
				atomic.AddInt32(&failures, 1)
			}
		},
	})
	ctx := context.Background()

	require.NoError(t, await(t, m.Enqueue(ctx, "c", func(context.Context) error { return nil })))
	require.Error(t, await(t, m.Enqueue(ctx, "c", func(context.Context) error { return errors.New("x") })))
	m.Wait()

	assert.EqualValues(t, 2, atomic.LoadInt32(&starts))
	assert.EqualValues(t, 2, atomic.LoadInt32(&dones))
	assert.EqualValues(t, 1, atomic.LoadInt32(&failures))
}

// TestManager_ConcurrentProducers checks ordering and mutual exclusion under
// many goroutines enqueueing into a handful of conversations at once.
func TestManager_ConcurrentProducers(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	const conversations = 8
	const perConversation = 50

	var mu sync.Mutex
	seen := make(map[string][]int)
	running := make([]int32, conversations)

	var wg sync.WaitGroup
	for c := 0; c < conversations; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			id := fmt.Sprintf("conv-%d", c)
			results := make([]<-chan error, 0, perConversation)
			for i := 0; i < perConversation; i++ {
				results = append(results, m.Enqueue(ctx, id, func(context.Context) error {
					if atomic.AddInt32(&running[c], 1) != 1 {
						t.Errorf("%s: concurrent execution detected", id)
					}
					mu.Lock()
					seen[id] = append(seen[id], i)
					mu.Unlock()
					atomic.AddInt32(&running[c], -1)
					return nil
				}))
			}
			for _, ch := range results {
				if err := <-ch; err != nil {
					t.Errorf("%s: unexpected error %v", id, err)
				}
			}
		}(c)
	}
	wg.Wait()
	m.Wait()

	for c := 0; c < conversations; c++ {
		id := fmt.Sprintf("conv-%d", c)
		order := seen[id]
		require.Len(t, order, perConversation, id)
		for i, v := range order {
			require.Equal(t, i, v, "%s executed out of order", id)
		}
	}
	assert.Equal(t, 0, m.Len())
}
