package provider

import (
	"context"

	"github.com/miauchat/dispatch/internal/domain"
)

// SendRequest is the JSON body posted to the channel gateway.
type SendRequest struct {
	CompanyID      string  `json:"company_id"`
	ConversationID string  `json:"conversation_id"`
	Channel        string  `json:"channel"`
	To             string  `json:"to"`
	Content        string  `json:"content"`
	MediaURL       *string `json:"media_url,omitempty"`
}

// SendResponse maps the gateway's 202 Accepted response body.
type SendResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// Provider abstracts delivery to the external channel gateway.
// Each call is exactly one send attempt; retries belong to the caller.
type Provider interface {
	Send(ctx context.Context, m *domain.Message) (*SendResponse, error)
}
