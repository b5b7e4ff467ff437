package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict: idempotency key already exists")
	ErrInvalidCompany      = errors.New("company_id must not be empty")
	ErrInvalidConversation = errors.New("conversation_id must not be empty")
	ErrInvalidChannel      = errors.New("invalid channel: must be whatsapp, instagram, or facebook")
	ErrInvalidRecipient    = errors.New("recipient must not be empty")
	ErrInvalidContent      = errors.New("content must be between 1 and 4096 characters")
	ErrAlreadyCancelled    = errors.New("message is already cancelled")
	ErrNotCancellable      = errors.New("message cannot be cancelled in its current status")
	ErrNotRetryable        = errors.New("only failed messages can be retried")
	ErrStatusChanged       = errors.New("message status changed concurrently")
)
