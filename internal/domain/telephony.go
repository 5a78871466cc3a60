package domain

import (
	"context"
	"time"
)

// MessageSource lists recent inbound messages from the telephony provider.
type MessageSource interface {
	Recent(ctx context.Context, since time.Time, limit int) ([]InboundSMS, error)
}

// SMSSender hands a message to the telephony provider and returns the
// provider's message id.
type SMSSender interface {
	Send(ctx context.Context, msg OutboundSMS) (string, error)
}
