package bridge

import (
	"context"
	"log/slog"
	"strings"

	"smsbridge/internal/directory"
	"smsbridge/internal/domain"
	"smsbridge/internal/metrics"
	"smsbridge/internal/phonenum"
)

// ReplyResult reports what happened to a chat message offered to the
// ReplyResolver.
type ReplyResult int

const (
	ReplySkipped      ReplyResult = iota // not a reply, or no number in it
	ReplyUnauthorized                    // author has no directory entry
	ReplySent
	ReplyFailed
)

// IsReplyToRelayedSMS reports whether msg should be treated as an answer to a
// relayed SMS. Without strict mode any structural reply qualifies, even one
// to an unrelated channel message. With strict mode the referenced message
// must be known to come from the bridge.
func IsReplyToRelayedSMS(msg domain.ChatMessage, strict bool) bool {
	if msg.Reply == nil || msg.Reply.MessageID == "" {
		return false
	}
	if !strict {
		return true
	}
	return msg.Reply.FromBridge != nil && *msg.Reply.FromBridge
}

// ExtractPhoneNumber returns the first whitespace-separated token of body
// made of exactly 10 digits, or "" when there is none.
func ExtractPhoneNumber(body string) string {
	for _, tok := range strings.Fields(body) {
		if len(tok) == 10 && phonenum.IsDigits(tok) {
			return tok
		}
	}
	return ""
}

// ReplyResolver turns chat replies into outbound SMS.
type ReplyResolver struct {
	dir         *directory.Directory
	sender      domain.SMSSender
	strict      bool
	countryCode string
	logger      *slog.Logger
}

// NewReplyResolver creates a ReplyResolver.
func NewReplyResolver(dir *directory.Directory, sender domain.SMSSender, strict bool, countryCode string, logger *slog.Logger) *ReplyResolver {
	return &ReplyResolver{dir: dir, sender: sender, strict: strict, countryCode: countryCode, logger: logger}
}

// Handle sends msg as an SMS when it is a reply carrying a destination
// number and its author is in the directory. Only directory-known identities
// may originate SMS; everyone else is dropped silently.
func (r *ReplyResolver) Handle(ctx context.Context, msg domain.ChatMessage) ReplyResult {
	if !IsReplyToRelayedSMS(msg, r.strict) {
		return ReplySkipped
	}

	target := ExtractPhoneNumber(msg.Content)
	if target == "" {
		r.logger.Debug("reply without a 10-digit number ignored", "message_id", msg.MessageID)
		metrics.RepliesRejected.Inc()
		return ReplySkipped
	}

	from, ok := r.dir.PhoneNumber(msg.AuthorID)
	if !ok {
		r.logger.Debug("reply from unlinked identity dropped", "author", msg.AuthorID)
		metrics.RepliesRejected.Inc()
		return ReplyUnauthorized
	}

	to := phonenum.Normalize(target, r.countryCode)
	id, err := r.sender.Send(ctx, domain.OutboundSMS{From: from, To: to, Body: msg.Content})
	if err != nil {
		r.logger.Error("reply sms failed", "from", from, "to", to, "err", err)
		metrics.SMSFailures.Inc()
		return ReplyFailed
	}

	r.logger.Info("relayed chat reply as sms", "from", from, "to", to, "sms_id", id)
	metrics.SMSSent.Inc()
	metrics.RepliesRelayed.Inc()
	return ReplySent
}
