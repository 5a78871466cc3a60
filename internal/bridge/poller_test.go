package bridge

import (
	"context"
	"testing"
	"time"

	"smsbridge/internal/domain"
)

func sms(id, ts string) domain.InboundSMS {
	return domain.InboundSMS{ID: id, From: "2223334444", To: "11112223333", Timestamp: ts, Body: "body " + id}
}

func ids(msgs []domain.InboundSMS) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestPoller_DeduplicatesAcrossCycles(t *testing.T) {
	src := &fakeSource{batches: [][]domain.InboundSMS{
		{sms("m1", "2024-03-05T10:00:00Z")},
		{sms("m1", "2024-03-05T10:00:00Z"), sms("m2", "2024-03-05T10:01:00Z")},
	}}
	p := NewPoller(PollerConfig{Source: src, Logger: testLogger()})

	first := p.Poll(context.Background())
	if len(first) != 1 || first[0].ID != "m1" {
		t.Fatalf("expected m1 on first poll, got %v", ids(first))
	}
	second := p.Poll(context.Background())
	if len(second) != 1 || second[0].ID != "m2" {
		t.Fatalf("expected only m2 on second poll, got %v", ids(second))
	}
	if third := p.Poll(context.Background()); len(third) != 0 {
		t.Fatalf("expected nothing new on third poll, got %v", ids(third))
	}
}

func TestPoller_ErrorYieldsEmptyAndRetries(t *testing.T) {
	src := &fakeSource{
		batches: [][]domain.InboundSMS{nil, {sms("m1", "")}},
		errs:    []error{errProviderDown},
	}
	p := NewPoller(PollerConfig{Source: src, Logger: testLogger()})

	if got := p.Poll(context.Background()); len(got) != 0 {
		t.Fatalf("expected empty result on provider error, got %v", ids(got))
	}
	if got := p.Poll(context.Background()); len(got) != 1 {
		t.Fatalf("expected next cycle to recover, got %v", ids(got))
	}
}

func TestPoller_OrdersChronologically(t *testing.T) {
	src := &fakeSource{batches: [][]domain.InboundSMS{{
		sms("late", "2024-03-05T10:05:00Z"),
		sms("early", "2024-03-05T10:00:00Z"),
		sms("mid", "2024-03-05T10:02:00.5+00:00"),
	}}}
	p := NewPoller(PollerConfig{Source: src, Logger: testLogger()})

	got := ids(p.Poll(context.Background()))
	want := []string{"early", "mid", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestPoller_UnparseableTimestampsKeepProviderOrder(t *testing.T) {
	src := &fakeSource{batches: [][]domain.InboundSMS{{
		sms("b", "2024-03-05T10:05:00Z"),
		sms("a", "not a time"),
	}}}
	p := NewPoller(PollerConfig{Source: src, Logger: testLogger()})

	got := ids(p.Poll(context.Background()))
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected provider order [b a], got %v", got)
	}
}

func TestPoller_SkipsMessagesWithoutID(t *testing.T) {
	src := &fakeSource{batches: [][]domain.InboundSMS{{sms("", ""), sms("m1", "")}}}
	p := NewPoller(PollerConfig{Source: src, Logger: testLogger()})

	if got := ids(p.Poll(context.Background())); len(got) != 1 || got[0] != "m1" {
		t.Fatalf("expected only m1, got %v", got)
	}
}

func TestPoller_RequestWindow(t *testing.T) {
	src := &fakeSource{}
	p := NewPoller(PollerConfig{Source: src, Lookback: 24 * time.Hour, Limit: 7, Logger: testLogger()})
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	p.Poll(context.Background())
	if !src.since.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("expected 24h lookback, got since=%v", src.since)
	}
	if src.limit != 7 {
		t.Fatalf("expected limit 7, got %d", src.limit)
	}
}

func TestRelayPolicy_Select(t *testing.T) {
	fresh := []domain.InboundSMS{sms("m1", ""), sms("m2", ""), sms("m3", "")}

	if got := ids(PolicyAll.Select(fresh)); len(got) != 3 {
		t.Fatalf("policy all should relay every new message, got %v", got)
	}
	if got := ids(PolicyLatest.Select(fresh)); len(got) != 1 || got[0] != "m3" {
		t.Fatalf("policy latest should relay only the newest message, got %v", got)
	}
	if got := PolicyLatest.Select(nil); len(got) != 0 {
		t.Fatalf("expected nothing for empty input, got %v", ids(got))
	}
}
