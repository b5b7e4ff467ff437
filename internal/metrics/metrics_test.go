package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/domain"
	"github.com/miauchat/dispatch/internal/metrics"
	"github.com/miauchat/dispatch/internal/queue"
)

func TestQueueHooks_CountTasks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New(zap.NewNop(), m.QueueHooks())
	metrics.RegisterQueueGauges(reg, q)

	ctx := context.Background()
	require.NoError(t, <-q.Enqueue(ctx, "conv-1", func(context.Context) error { return nil }))
	require.Error(t, <-q.Enqueue(ctx, "conv-1", func(context.Context) error { return errors.New("x") }))
	q.Wait()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueTasksStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueTasksFailed))

	count, err := testutil.GatherAndCount(reg, "conversation_queue_active_conversations")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSendHooks(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	onSent, onFailed := m.SendHooks()

	onSent(domain.ChannelWhatsApp, 30*time.Millisecond)
	onSent(domain.ChannelWhatsApp, 10*time.Millisecond)
	onFailed(domain.ChannelInstagram)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("whatsapp")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesFailed.WithLabelValues("instagram")))
}
