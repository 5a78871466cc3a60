package bridge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"smsbridge/internal/directory"
	"smsbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	d, err := directory.New(map[string]string{
		"11112223333": "alice",
		"14445556666": "bob",
	}, "1")
	if err != nil {
		t.Fatal(err)
	}
	return d
}

type sentChat struct {
	kind   string // mention | direct | channel | fallback
	target string
	text   string
}

// fakePlatform records every send; members lists active identities.
type fakePlatform struct {
	mu        sync.Mutex
	ready     chan struct{}
	readyOnce sync.Once
	members   map[string]bool
	memberErr error
	sendErr   error
	sent      []sentChat
}

func newFakePlatform(ready bool, members ...string) *fakePlatform {
	p := &fakePlatform{ready: make(chan struct{}), members: make(map[string]bool)}
	for _, m := range members {
		p.members[m] = true
	}
	if ready {
		p.open()
	}
	return p
}

func (p *fakePlatform) open() { p.readyOnce.Do(func() { close(p.ready) }) }

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) Start(ctx context.Context, bus domain.ChatBus) error {
	p.open()
	<-ctx.Done()
	return nil
}

func (p *fakePlatform) Ready() <-chan struct{} { return p.ready }

func (p *fakePlatform) ActiveMember(ctx context.Context, identity string) (bool, error) {
	if p.memberErr != nil {
		return false, p.memberErr
	}
	return p.members[identity], nil
}

func (p *fakePlatform) record(kind, target, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, sentChat{kind: kind, target: target, text: text})
	return nil
}

func (p *fakePlatform) SendMention(ctx context.Context, identity, text string) error {
	return p.record("mention", identity, text)
}

func (p *fakePlatform) SendDirect(ctx context.Context, identity, text string) error {
	return p.record("direct", identity, text)
}

func (p *fakePlatform) SendChannel(ctx context.Context, channelID, text string) error {
	return p.record("channel", channelID, text)
}

func (p *fakePlatform) SendFallback(ctx context.Context, text string) error {
	return p.record("fallback", "", text)
}

func (p *fakePlatform) sends() []sentChat {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentChat, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *fakePlatform) sendsOfKind(kind string) []sentChat {
	var out []sentChat
	for _, s := range p.sends() {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// fakeSender records outbound SMS.
type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []domain.OutboundSMS
}

func (s *fakeSender) Send(ctx context.Context, msg domain.OutboundSMS) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return "sms-id", nil
}

func (s *fakeSender) messages() []domain.OutboundSMS {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboundSMS, len(s.sent))
	copy(out, s.sent)
	return out
}

// fakeSource returns scripted batches, one per call; the last batch repeats.
type fakeSource struct {
	mu      sync.Mutex
	batches [][]domain.InboundSMS
	errs    []error
	calls   int
	since   time.Time
	limit   int
}

var errProviderDown = errors.New("provider unreachable")

func (s *fakeSource) Recent(ctx context.Context, since time.Time, limit int) ([]domain.InboundSMS, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.since, s.limit = since, limit
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	if i >= len(s.batches) {
		i = len(s.batches) - 1
	}
	return s.batches[i], nil
}
