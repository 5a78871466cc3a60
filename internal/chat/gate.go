// Package chat holds the chat-platform adapters (Discord, Slack, Telegram)
// that implement domain.ChatPlatform for the bridge.
package chat

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"smsbridge/internal/metrics"
)

var errNotStarted = errors.New("chat session not started")

// Gate is a one-shot readiness signal. Ready is closed the first time Open
// is called; later calls do nothing.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// NewGate returns a closed-off Gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open releases everything waiting on Ready.
func (g *Gate) Open() {
	g.once.Do(func() {
		close(g.ch)
		metrics.ChatReady.Set(1)
	})
}

// Ready returns the channel closed by Open.
func (g *Gate) Ready() <-chan struct{} { return g.ch }

// IsOpen reports whether Open has been called.
func (g *Gate) IsOpen() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible and never inside a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

func boolPtr(b bool) *bool { return &b }
