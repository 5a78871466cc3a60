package domain

import "context"

// ChatPlatform is the chat side of the bridge (Discord, Slack, Telegram).
//
// Start owns the platform session and blocks until ctx is cancelled. Ready is
// closed exactly once, when the session first becomes usable; sends issued
// before that are expected to wait on it.
type ChatPlatform interface {
	Name() string
	Start(ctx context.Context, bus ChatBus) error
	Ready() <-chan struct{}

	// ActiveMember reports whether identity is currently a member of the
	// configured guild/workspace channel.
	ActiveMember(ctx context.Context, identity string) (bool, error)
	// SendMention posts text into the bridge channel, attributed to identity.
	SendMention(ctx context.Context, identity, text string) error
	// SendDirect sends a private message to identity.
	SendDirect(ctx context.Context, identity, text string) error
	// SendChannel posts plain text into channelID.
	SendChannel(ctx context.Context, channelID, text string) error
	// SendFallback posts raw text through the shared-channel fallback path
	// (a webhook where the platform has one).
	SendFallback(ctx context.Context, text string) error
}
