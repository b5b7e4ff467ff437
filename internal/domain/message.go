package domain

import "time"

// Channel is the messaging platform a conversation lives on.
type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelFacebook  Channel = "facebook"
)

func (c Channel) IsValid() bool {
	switch c {
	case ChannelWhatsApp, ChannelInstagram, ChannelFacebook:
		return true
	}
	return false
}

// Channels lists every supported channel. Used to build per-channel limiters.
func Channels() []Channel {
	return []Channel{ChannelWhatsApp, ChannelInstagram, ChannelFacebook}
}

// Status tracks the lifecycle of an outbound message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusScheduled Status = "scheduled"
)

// MaxContentLength bounds the text body of a single message.
const MaxContentLength = 4096

// DefaultMaxRetries is assigned to every new message.
const DefaultMaxRetries = 3

// Message is an outbound chat message addressed to one contact
// in one conversation.
type Message struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	ConversationID string     `json:"conversation_id"`
	Channel        Channel    `json:"channel"`
	Recipient      string     `json:"recipient"`
	Content        string     `json:"content"`
	MediaURL       *string    `json:"media_url,omitempty"`
	Status         Status     `json:"status"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	RetryCount     int        `json:"retry_count"`
	MaxRetries     int        `json:"max_retries"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ProviderMsgID  *string    `json:"provider_message_id,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Cancellable reports whether the message may still be withdrawn.
// Anything already handed to the provider, or finished, is not.
func (m *Message) Cancellable() bool {
	switch m.Status {
	case StatusPending, StatusQueued, StatusScheduled, StatusFailed:
		return true
	}
	return false
}

// SendMessageRequest is the inbound payload for a single outbound message.
type SendMessageRequest struct {
	CompanyID      string     `json:"company_id"`
	ConversationID string     `json:"conversation_id"`
	Channel        Channel    `json:"channel"`
	Recipient      string     `json:"recipient"`
	Content        string     `json:"content"`
	MediaURL       *string    `json:"media_url,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
}

func (r *SendMessageRequest) Validate() error {
	if r.CompanyID == "" {
		return ErrInvalidCompany
	}
	if r.ConversationID == "" {
		return ErrInvalidConversation
	}
	if !r.Channel.IsValid() {
		return ErrInvalidChannel
	}
	if r.Recipient == "" {
		return ErrInvalidRecipient
	}
	if r.Content == "" || len(r.Content) > MaxContentLength {
		return ErrInvalidContent
	}
	return nil
}

// ListFilter holds query parameters for paginated message listing.
type ListFilter struct {
	CompanyID      *string
	ConversationID *string
	Status         *Status
	Channel        *Channel
	Page           int
	Limit          int
}
