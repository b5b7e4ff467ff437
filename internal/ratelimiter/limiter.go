package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/miauchat/dispatch/internal/domain"
)

// ChannelLimiters holds one token bucket per messaging channel.
// Meta enforces its send limits per platform, so WhatsApp traffic never
// consumes Instagram or Facebook capacity.
type ChannelLimiters struct {
	limiters map[domain.Channel]*rate.Limiter
}

// New applies the same ratePerSec to every channel.
func New(ratePerSec int) *ChannelLimiters {
	rates := make(map[domain.Channel]int, len(domain.Channels()))
	for _, ch := range domain.Channels() {
		rates[ch] = ratePerSec
	}
	return NewPerChannel(rates)
}

// NewPerChannel builds a limiter for each channel in rates. Burst equals the
// rate, so a channel never saves up more than one second of capacity.
// Channels absent from rates are rejected by Wait.
func NewPerChannel(rates map[domain.Channel]int) *ChannelLimiters {
	limiters := make(map[domain.Channel]*rate.Limiter, len(rates))
	for ch, perSec := range rates {
		limiters[ch] = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
	return &ChannelLimiters{limiters: limiters}
}

// Wait blocks until the channel's limiter grants a token.
// Called inside the send operation, after the message reached the head of its
// conversation queue, so waiting never reorders a conversation.
func (cl *ChannelLimiters) Wait(ctx context.Context, ch domain.Channel) error {
	l, ok := cl.limiters[ch]
	if !ok {
		return fmt.Errorf("no rate limiter for channel %q", ch)
	}
	return l.Wait(ctx)
}

// Limit reports the configured sends per second for ch, or 0.
func (cl *ChannelLimiters) Limit(ch domain.Channel) float64 {
	if l, ok := cl.limiters[ch]; ok {
		return float64(l.Limit())
	}
	return 0
}
