package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miauchat/dispatch/internal/domain"
)

// WebhookProvider delivers messages by POSTing to the channel gateway
// (the n8n workflow that fronts the Meta APIs).
// The base URL is injected from config so tests can point to httptest.
type WebhookProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewWebhookProvider(baseURL, token string, timeout time.Duration) *WebhookProvider {
	return &WebhookProvider{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send posts the message to the gateway and expects a 202 Accepted response
// with a JSON body containing messageId.
func (p *WebhookProvider) Send(ctx context.Context, m *domain.Message) (*SendResponse, error) {
	body, err := json.Marshal(SendRequest{
		CompanyID:      m.CompanyID,
		ConversationID: m.ConversationID,
		Channel:        string(m.Channel),
		To:             m.Recipient,
		Content:        m.Content,
		MediaURL:       m.MediaURL,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.ID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected gateway status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var sendResp SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &sendResp, nil
}

// compile-time check that WebhookProvider implements Provider
var _ Provider = (*WebhookProvider)(nil)
