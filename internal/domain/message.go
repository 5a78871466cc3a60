package domain

import "time"

// InboundSMS is a message received by the telephony provider. It is decoded
// once from the provider response and never mutated afterwards.
type InboundSMS struct {
	ID        string
	From      string
	To        string
	Timestamp string // provider ISO-8601 form, kept verbatim
	Body      string
	IsMMS     bool
	MediaIDs  []string
}

// OutboundSMS is a message to hand to the telephony provider.
type OutboundSMS struct {
	From      string
	To        string
	Body      string
	MediaURLs []string
}

// ChatMessage is an inbound message event from the chat platform.
type ChatMessage struct {
	Platform    string
	ChannelID   string
	MessageID   string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	IsDirect    bool // sent in a private conversation with the bot
	Content     string
	Reply       *ReplyRef
	Mentions    []string
	Timestamp   time.Time
}

// ReplyRef points at the message a chat message replies to.
type ReplyRef struct {
	MessageID string
	// FromBridge is set when the adapter knows who authored the referenced
	// message: true when it was posted by the bridge itself.
	FromBridge *bool
}
