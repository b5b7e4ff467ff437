package handler

import (
	"net/http"

	"github.com/miauchat/dispatch/internal/queue"
)

// QueueStatser is satisfied by *service.MessageService.
type QueueStatser interface {
	QueueStats() queue.Stats
}

// MetricsHandler serves a human-readable JSON queue snapshot.
// Raw Prometheus metrics are available at /metrics via promhttp.
type MetricsHandler struct {
	src QueueStatser
}

func NewMetricsHandler(src QueueStatser) *MetricsHandler {
	return &MetricsHandler{src: src}
}

// GetMetrics handles GET /api/v1/queue
//
// @Summary  Real-time conversation queue snapshot
// @Tags     metrics
// @Produce  json
// @Success  200  {object}  queue.Stats
// @Router   /api/v1/queue [get]
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation_queue": h.src.QueueStats(),
	})
}
