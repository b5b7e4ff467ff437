package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/miauchat/dispatch/internal/api/middleware"
	"github.com/miauchat/dispatch/internal/domain"
	"github.com/miauchat/dispatch/internal/service"
)

// MessageHandler handles single-message endpoints.
type MessageHandler struct {
	svc    *service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

// Send handles POST /api/v1/messages
//
// @Summary     Send a message to a conversation
// @Tags        messages
// @Accept      json
// @Produce     json
// @Param       X-Idempotency-Key  header    string                     false  "Idempotency key"
// @Param       body               body      domain.SendMessageRequest  true   "Message payload"
// @Success     201                {object}  domain.Message             "Delivered to the gateway"
// @Success     200                {object}  domain.Message             "Duplicate: returned existing message"
// @Success     202                {object}  domain.Message             "Scheduled, or still waiting in the conversation queue"
// @Failure     422                {object}  map[string]string
// @Failure     502                {object}  domain.Message             "Gateway rejected the send"
// @Router      /api/v1/messages [post]
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req domain.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	m, isDuplicate, err := h.svc.Send(r.Context(), req, r.Header.Get("X-Idempotency-Key"))
	if err != nil {
		apimw.Logger(r.Context(), h.logger).Warn("send message failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	if isDuplicate {
		respondJSON(w, http.StatusOK, m)
		return
	}
	respondJSON(w, deliveryStatus(m, http.StatusCreated), m)
}

// GetByID handles GET /api/v1/messages/{id}
//
// @Summary  Get a message by ID
// @Tags     messages
// @Produce  json
// @Param    id   path      string  true  "Message UUID"
// @Success  200  {object}  domain.Message
// @Failure  404  {object}  map[string]string
// @Router   /api/v1/messages/{id} [get]
func (h *MessageHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// List handles GET /api/v1/messages
//
// @Summary  List messages with filtering and pagination
// @Tags     messages
// @Produce  json
// @Param    company_id       query     string  false  "Filter by company"
// @Param    conversation_id  query     string  false  "Filter by conversation"
// @Param    status           query     string  false  "Filter by status"
// @Param    channel          query     string  false  "Filter by channel"
// @Param    page             query     int     false  "Page number (default 1)"
// @Param    limit            query     int     false  "Items per page (default 50, max 200)"
// @Success  200              {object}  map[string]any
// @Router   /api/v1/messages [get]
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	messages, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": total,
		"page":  filter.Page,
		"limit": filter.Limit,
	})
}

// Cancel handles DELETE /api/v1/messages/{id}
//
// @Summary  Cancel a message that has not been sent yet
// @Tags     messages
// @Param    id   path      string  true  "Message UUID"
// @Success  204
// @Failure  404  {object}  map[string]string
// @Failure  409  {object}  map[string]string
// @Router   /api/v1/messages/{id} [delete]
func (h *MessageHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retry handles POST /api/v1/messages/{id}/retry
//
// @Summary  Resubmit a failed message to its conversation queue
// @Tags     messages
// @Produce  json
// @Param    id   path      string  true  "Message UUID"
// @Success  200  {object}  domain.Message
// @Success  202  {object}  domain.Message
// @Failure  409  {object}  map[string]string
// @Failure  502  {object}  domain.Message
// @Router   /api/v1/messages/{id}/retry [post]
func (h *MessageHandler) Retry(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, deliveryStatus(m, http.StatusOK), m)
}

func parseListFilter(r *http.Request) domain.ListFilter {
	q := r.URL.Query()
	filter := domain.ListFilter{Page: 1, Limit: 50}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 200 {
		filter.Limit = l
	}
	if c := q.Get("company_id"); c != "" {
		filter.CompanyID = &c
	}
	if conv := q.Get("conversation_id"); conv != "" {
		filter.ConversationID = &conv
	}
	if s := q.Get("status"); s != "" {
		st := domain.Status(s)
		filter.Status = &st
	}
	if ch := q.Get("channel"); ch != "" {
		c := domain.Channel(ch)
		filter.Channel = &c
	}
	return filter
}
