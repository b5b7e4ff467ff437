package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/miauchat/dispatch/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// mapError translates domain sentinel errors to HTTP status codes.
// All mapping lives here so individual handlers stay concise.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrNotRetryable),
		errors.Is(err, domain.ErrStatusChanged):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidCompany),
		errors.Is(err, domain.ErrInvalidConversation),
		errors.Is(err, domain.ErrInvalidChannel),
		errors.Is(err, domain.ErrInvalidContent),
		errors.Is(err, domain.ErrInvalidRecipient):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// deliveryStatus picks the response code for a message returned by a send:
// delivered, still in progress, or failed at the gateway.
func deliveryStatus(m *domain.Message, created int) int {
	switch m.Status {
	case domain.StatusSent:
		return created
	case domain.StatusFailed:
		return http.StatusBadGateway
	case domain.StatusCancelled:
		return http.StatusConflict
	default:
		return http.StatusAccepted
	}
}
