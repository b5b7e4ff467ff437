package domain_test

import (
	"strings"
	"testing"

	"github.com/miauchat/dispatch/internal/domain"
)

func TestSendMessageRequest_Validate(t *testing.T) {
	valid := domain.SendMessageRequest{
		CompanyID:      "company-1",
		ConversationID: "conv-1",
		Channel:        domain.ChannelWhatsApp,
		Recipient:      "+5511987654321",
		Content:        "Olá!",
	}

	t.Run("valid request passes", func(t *testing.T) {
		if err := valid.Validate(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	})

	t.Run("missing company", func(t *testing.T) {
		r := valid
		r.CompanyID = ""
		if err := r.Validate(); err != domain.ErrInvalidCompany {
			t.Fatalf("expected ErrInvalidCompany, got %v", err)
		}
	})

	t.Run("missing conversation", func(t *testing.T) {
		r := valid
		r.ConversationID = ""
		if err := r.Validate(); err != domain.ErrInvalidConversation {
			t.Fatalf("expected ErrInvalidConversation, got %v", err)
		}
	})

	t.Run("invalid channel", func(t *testing.T) {
		r := valid
		r.Channel = "telegram"
		if err := r.Validate(); err != domain.ErrInvalidChannel {
			t.Fatalf("expected ErrInvalidChannel, got %v", err)
		}
	})

	t.Run("empty recipient", func(t *testing.T) {
		r := valid
		r.Recipient = ""
		if err := r.Validate(); err != domain.ErrInvalidRecipient {
			t.Fatalf("expected ErrInvalidRecipient, got %v", err)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		r := valid
		r.Content = ""
		if err := r.Validate(); err != domain.ErrInvalidContent {
			t.Fatalf("expected ErrInvalidContent, got %v", err)
		}
	})

	t.Run("content too long", func(t *testing.T) {
		r := valid
		r.Content = strings.Repeat("x", domain.MaxContentLength+1)
		if err := r.Validate(); err != domain.ErrInvalidContent {
			t.Fatalf("expected ErrInvalidContent, got %v", err)
		}
	})

	t.Run("content at max length passes", func(t *testing.T) {
		r := valid
		r.Content = strings.Repeat("x", domain.MaxContentLength)
		if err := r.Validate(); err != nil {
			t.Fatalf("expected no error at max length, got %v", err)
		}
	})

	t.Run("all valid channels accepted", func(t *testing.T) {
		for _, ch := range domain.Channels() {
			r := valid
			r.Channel = ch
			if err := r.Validate(); err != nil {
				t.Fatalf("channel %q: expected no error, got %v", ch, err)
			}
		}
	})
}

func TestMessage_Cancellable(t *testing.T) {
	tests := []struct {
		status domain.Status
		want   bool
	}{
		{domain.StatusPending, true},
		{domain.StatusQueued, true},
		{domain.StatusScheduled, true},
		{domain.StatusFailed, true},
		{domain.StatusSending, false},
		{domain.StatusSent, false},
		{domain.StatusCancelled, false},
	}

	for _, tc := range tests {
		m := domain.Message{Status: tc.status}
		if got := m.Cancellable(); got != tc.want {
			t.Errorf("status %q: expected cancellable=%v, got %v", tc.status, tc.want, got)
		}
	}
}
