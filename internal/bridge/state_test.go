package bridge

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestSeenSet_MarkIfNew(t *testing.T) {
	s := NewSeenSet()
	if !s.MarkIfNew("m1") {
		t.Fatal("first mark should report new")
	}
	if s.MarkIfNew("m1") {
		t.Fatal("second mark should report seen")
	}
	if !s.Seen("m1") || s.Seen("m2") {
		t.Fatal("Seen disagrees with MarkIfNew")
	}
}

func TestSeenSet_ConcurrentClaimsOnce(t *testing.T) {
	s := NewSeenSet()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.MarkIfNew("m1") {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("expected exactly one claim, got %d", claims)
	}
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Append(fmt.Sprintf("e%d", i))
	}
	if diff := cmp.Diff([]string{"e3", "e4", "e5"}, h.Entries()); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if h.Len() != 3 {
		t.Fatalf("expected len 3, got %d", h.Len())
	}
}

func TestHistory_DefaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < defaultHistorySize+10; i++ {
		h.Append("x")
	}
	if h.Len() != defaultHistorySize {
		t.Fatalf("expected %d entries, got %d", defaultHistorySize, h.Len())
	}
}

func TestSendLimiter(t *testing.T) {
	l := NewSendLimiter(2, 60) // one token per second
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if !l.Allow("alice") || !l.Allow("alice") {
		t.Fatal("burst should allow two sends")
	}
	if l.Allow("alice") {
		t.Fatal("third immediate send should be limited")
	}
	if !l.Allow("bob") {
		t.Fatal("buckets must be per identity")
	}

	now = now.Add(time.Second)
	if !l.Allow("alice") {
		t.Fatal("bucket should refill after a second")
	}
}

func TestSendLimiter_Disabled(t *testing.T) {
	l := NewSendLimiter(1, 0)
	if l != nil {
		t.Fatal("non-positive rate should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !l.Allow("alice") {
			t.Fatal("nil limiter must allow everything")
		}
	}
}
