package bridge

import (
	"context"
	"log/slog"
	"time"

	"smsbridge/internal/directory"
	"smsbridge/internal/domain"
	"smsbridge/internal/metrics"
)

// Outcome is the result of relaying one message to chat.
type Outcome int

const (
	// Delivered: posted into the bridge channel, attributed to the member.
	Delivered Outcome = iota
	// Fallback: posted through the fallback path (webhook).
	Fallback
	// Dropped: no directory entry for the destination number.
	Dropped
	// Failed: the platform rejected the send or ctx ended first.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Fallback:
		return "fallback"
	case Dropped:
		return "dropped"
	default:
		return "failed"
	}
}

// Relay delivers formatted SMS text to the chat identity linked to the
// destination phone number.
type Relay struct {
	dir      *directory.Directory
	platform domain.ChatPlatform
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRelay creates a Relay. A zero timeout leaves sends unbounded.
func NewRelay(dir *directory.Directory, platform domain.ChatPlatform, timeout time.Duration, logger *slog.Logger) *Relay {
	return &Relay{dir: dir, platform: platform, timeout: timeout, logger: logger}
}

// Deliver relays text addressed to toPhone. It waits for the chat session to
// become ready first, for as long as ctx allows. Failures are logged and
// reported through the Outcome; nothing is retried.
func (r *Relay) Deliver(ctx context.Context, text, toPhone string) Outcome {
	select {
	case <-r.platform.Ready():
	case <-ctx.Done():
		r.logger.Warn("relay abandoned before chat became ready", "to", toPhone, "err", ctx.Err())
		metrics.RelayFailures.Inc()
		return Failed
	}

	identity, ok := r.dir.ChatIdentity(toPhone)
	if !ok {
		r.logger.Warn("phone number not linked to a chat identity, message dropped", "to", toPhone)
		metrics.RelayDropped.Inc()
		return Dropped
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	member, err := r.platform.ActiveMember(ctx, identity)
	if err != nil {
		r.logger.Warn("membership lookup failed, using fallback", "identity", identity, "err", err)
	}

	if member {
		if err := r.platform.SendMention(ctx, identity, text); err != nil {
			r.logger.Error("chat delivery failed", "to", toPhone, "identity", identity, "err", err)
			metrics.RelayFailures.Inc()
			return Failed
		}
		r.logger.Info("relayed sms to chat", "to", toPhone, "identity", identity)
		metrics.RelayedDirect.Inc()
		return Delivered
	}

	if err := r.platform.SendFallback(ctx, text); err != nil {
		r.logger.Error("fallback delivery failed", "to", toPhone, "identity", identity, "err", err)
		metrics.RelayFailures.Inc()
		return Failed
	}
	r.logger.Info("relayed sms via fallback", "to", toPhone, "identity", identity)
	metrics.RelayedFallback.Inc()
	return Fallback
}
