package handler

import "net/http"

// HealthHandler serves the liveness probe. The body carries the number of
// conversations with a live drain goroutine so a stuck queue shows up in
// probe logs without scraping /metrics.
type HealthHandler struct {
	src QueueStatser
}

func NewHealthHandler(src QueueStatser) *HealthHandler { return &HealthHandler{src: src} }

// Health handles GET /health
//
// @Summary  Liveness probe
// @Tags     system
// @Produce  json
// @Success  200  {object}  map[string]any
// @Router   /health [get]
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":               "ok",
		"active_conversations": h.src.QueueStats().Conversations,
	})
}
