package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/miauchat/dispatch/internal/api/middleware"
	"github.com/miauchat/dispatch/internal/service"
)

// ConversationHandler handles conversation-level endpoints.
type ConversationHandler struct {
	svc    *service.MessageService
	logger *zap.Logger
}

func NewConversationHandler(svc *service.MessageService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{svc: svc, logger: logger}
}

// Close handles DELETE /api/v1/conversations/{id}/queue
//
// @Summary  Drop every pending send of a conversation and cancel its unsent messages
// @Tags     conversations
// @Produce  json
// @Param    id   path      string  true  "Conversation ID"
// @Success  200  {object}  service.CloseResult
// @Router   /api/v1/conversations/{id}/queue [delete]
func (h *ConversationHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.svc.CloseConversation(r.Context(), id)
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("close conversation failed",
			zap.String("conversation_id", id), zap.Error(err))
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
