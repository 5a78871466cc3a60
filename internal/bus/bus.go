package bus

import (
	"log/slog"
	"sync"
	"time"

	"smsbridge/internal/domain"
)

// DefaultPublishWait bounds how long Publish holds the adapter's event
// goroutine when the buffer is full.
const DefaultPublishWait = time.Second

// InMemoryBus is a Go-channel based bus carrying chat events from a platform
// adapter to the bridge.
type InMemoryBus struct {
	inbound chan domain.ChatMessage
	wait    time.Duration
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.ChatMessage, bufferSize),
		wait:    DefaultPublishWait,
		logger:  logger,
	}
}

// WithPublishWait sets how long Publish waits on a full buffer before
// dropping. Zero drops immediately.
func (b *InMemoryBus) WithPublishWait(d time.Duration) *InMemoryBus {
	b.wait = max(d, 0)
	return b
}

// Publish enqueues msg without blocking while there is room. On a full
// buffer it waits up to the publish wait, then drops msg and logs it.
func (b *InMemoryBus) Publish(msg domain.ChatMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return
	}

	select {
	case b.inbound <- msg:
		return
	default:
	}

	if b.wait > 0 {
		timer := time.NewTimer(b.wait)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("chat message delivered after wait", "platform", msg.Platform)
			return
		case <-timer.C:
		}
	}
	b.logger.Error("chat message dropped: bus full",
		"platform", msg.Platform,
		"author", msg.AuthorID,
		"waited", b.wait,
	)
}

func (b *InMemoryBus) Subscribe() <-chan domain.ChatMessage {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
