package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"smsbridge/internal/domain"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(4, testBusLogger())
	b.Publish(domain.ChatMessage{MessageID: "1", Content: "hello"})
	b.Publish(domain.ChatMessage{MessageID: "2", Content: "world"})

	sub := b.Subscribe()
	if got := <-sub; got.MessageID != "1" {
		t.Fatalf("expected message 1 first, got %s", got.MessageID)
	}
	if got := <-sub; got.MessageID != "2" {
		t.Fatalf("expected message 2 second, got %s", got.MessageID)
	}
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	b := New(1, testBusLogger())
	b.Close()
	b.Close()

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("expected closed channel")
	}
	// Publishing after close must not panic.
	b.Publish(domain.ChatMessage{MessageID: "late"})
}

func TestBus_DefaultBufferSize(t *testing.T) {
	b := New(0, testBusLogger())
	if cap(b.inbound) != 100 {
		t.Fatalf("expected default buffer 100, got %d", cap(b.inbound))
	}
}

func TestBus_FullBufferDropsAfterWait(t *testing.T) {
	b := New(1, testBusLogger()).WithPublishWait(20 * time.Millisecond)
	b.Publish(domain.ChatMessage{MessageID: "kept"})

	start := time.Now()
	b.Publish(domain.ChatMessage{MessageID: "dropped"})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish on a full bus blocked for %v", elapsed)
	}

	if got := (<-b.Subscribe()).MessageID; got != "kept" {
		t.Fatalf("expected the first message, got %q", got)
	}
	select {
	case m := <-b.Subscribe():
		t.Fatalf("dropped message was delivered: %+v", m)
	default:
	}
}

func TestBus_WaitLetsSlowConsumerCatchUp(t *testing.T) {
	b := New(1, testBusLogger()).WithPublishWait(time.Second)
	b.Publish(domain.ChatMessage{MessageID: "1"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.ChatMessage{MessageID: "2"})

	if got := (<-b.Subscribe()).MessageID; got != "2" {
		t.Fatalf("expected the waiting message, got %q", got)
	}
}

func TestBus_DefaultPublishWait(t *testing.T) {
	if b := New(1, testBusLogger()); b.wait != DefaultPublishWait {
		t.Fatalf("expected default wait %v, got %v", DefaultPublishWait, b.wait)
	}
}
