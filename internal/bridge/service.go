// Package bridge relays messages between the telephony provider and the chat
// platform: inbound SMS polling and deduplication, delivery to linked chat
// identities, chat replies and commands turned into outbound SMS.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smsbridge/internal/directory"
	"smsbridge/internal/domain"
	"smsbridge/internal/telephony"
)

// Config wires a Service.
type Config struct {
	Directory *directory.Directory
	Platform  domain.ChatPlatform
	Source    domain.MessageSource
	Sender    domain.SMSSender
	Bus       domain.ChatBus
	Formatter telephony.Formatter

	Policy         RelayPolicy
	PollInterval   time.Duration // default: 1s
	Lookback       time.Duration // default: 24h
	PollLimit      int           // default: 20
	DeliverTimeout time.Duration // 0: unbounded

	ChannelID     string // bridge channel; replies elsewhere are ignored
	CommandPrefix string
	EchoInChannel bool
	StrictReplies bool
	CountryCode   string

	SendBurst         int
	SendRatePerMinute float64
	HistorySize       int

	Logger *slog.Logger
}

// Service owns the bridge state (seen ids, history) and runs the poll and
// chat-event loops.
type Service struct {
	cfg      Config
	polling  bool
	seen     *SeenSet
	history  *History
	poller   *Poller
	relay    *Relay
	replies  *ReplyResolver
	commands *CommandInterpreter
	logger   *slog.Logger
}

// New validates cfg and builds a Service.
func New(cfg Config) (*Service, error) {
	switch {
	case cfg.Directory == nil:
		return nil, errors.New("bridge: directory is required")
	case cfg.Platform == nil:
		return nil, errors.New("bridge: chat platform is required")
	case cfg.Sender == nil:
		return nil, errors.New("bridge: sms sender is required")
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyAll
	case PolicyAll, PolicyLatest:
	default:
		return nil, fmt.Errorf("bridge: unknown relay policy %q", cfg.Policy)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	seen := NewSeenSet()
	s := &Service{
		cfg:     cfg,
		seen:    seen,
		history: NewHistory(cfg.HistorySize),
		relay:   NewRelay(cfg.Directory, cfg.Platform, cfg.DeliverTimeout, cfg.Logger),
		replies: NewReplyResolver(cfg.Directory, cfg.Sender, cfg.StrictReplies, cfg.CountryCode, cfg.Logger),
		commands: NewCommandInterpreter(InterpreterConfig{
			Directory:     cfg.Directory,
			Sender:        cfg.Sender,
			Platform:      cfg.Platform,
			Limiter:       NewSendLimiter(cfg.SendBurst, cfg.SendRatePerMinute),
			Prefix:        cfg.CommandPrefix,
			EchoInChannel: cfg.EchoInChannel,
			CountryCode:   cfg.CountryCode,
			Logger:        cfg.Logger,
		}),
		poller: NewPoller(PollerConfig{
			Source:   cfg.Source,
			Seen:     seen,
			Lookback: cfg.Lookback,
			Limit:    cfg.PollLimit,
			Logger:   cfg.Logger,
		}),
		polling: cfg.Source != nil,
		logger:  cfg.Logger,
	}
	return s, nil
}

// Run drives the poll loop and the chat-event loop until ctx is cancelled.
// Without a message source only chat events are handled (push-only setups).
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.polling {
		g.Go(func() error { return s.pollLoop(ctx) })
	}
	if s.cfg.Bus != nil {
		g.Go(func() error { return s.eventLoop(ctx) })
	}
	return g.Wait()
}

func (s *Service) pollLoop(ctx context.Context) error {
	s.logger.Info("inbound poll loop started", "interval", s.cfg.PollInterval, "policy", s.cfg.Policy)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		s.Cycle(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("inbound poll loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Service) eventLoop(ctx context.Context) error {
	events := s.cfg.Bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			s.HandleChatMessage(ctx, msg)
		}
	}
}

// Cycle runs one poll and relays the messages chosen by the relay policy.
// It returns how many messages were handed to the relay.
func (s *Service) Cycle(ctx context.Context) int {
	if !s.polling {
		return 0
	}
	fresh := s.poller.Poll(ctx)
	if len(fresh) == 0 {
		return 0
	}
	logger := s.logger.With("cycle", uuid.NewString())
	selected := s.cfg.Policy.Select(fresh)
	logger.Info("new inbound messages", "new", len(fresh), "relaying", len(selected))
	for _, m := range selected {
		s.relayInbound(ctx, m, logger)
	}
	return len(selected)
}

// Ingest relays messages pushed by the provider (callback path). They share
// the dedup set with polling, so a message is relayed once whichever path
// sees it first.
func (s *Service) Ingest(ctx context.Context, msgs []domain.InboundSMS) int {
	fresh := s.poller.Admit(msgs)
	if len(fresh) == 0 {
		return 0
	}
	logger := s.logger.With("ingest", uuid.NewString())
	selected := s.cfg.Policy.Select(fresh)
	for _, m := range selected {
		s.relayInbound(ctx, m, logger)
	}
	return len(selected)
}

func (s *Service) relayInbound(ctx context.Context, m domain.InboundSMS, logger *slog.Logger) {
	text := s.cfg.Formatter.Format(m)
	s.history.Append(text)
	outcome := s.relay.Deliver(ctx, text, m.To)
	logger.Debug("inbound message relayed", "id", m.ID, "from", m.From, "to", m.To, "outcome", outcome)
}

// HandleChatMessage routes one chat event to the command interpreter or the
// reply resolver. Bot messages are ignored, and so are non-command messages
// outside the bridge channel.
func (s *Service) HandleChatMessage(ctx context.Context, msg domain.ChatMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("chat message handler panic", "message_id", msg.MessageID, "panic", r)
		}
	}()

	if msg.AuthorIsBot {
		return
	}
	inBridgeChannel := s.cfg.ChannelID == "" || msg.ChannelID == s.cfg.ChannelID
	if inBridgeChannel || msg.IsDirect {
		if s.commands.Handle(ctx, msg) {
			return
		}
	}
	if !inBridgeChannel {
		return
	}
	s.replies.Handle(ctx, msg)
}

// History returns the formatted inbound messages relayed so far.
func (s *Service) History() []string { return s.history.Entries() }

// Ready is closed once the chat platform is ready.
func (s *Service) Ready() <-chan struct{} { return s.cfg.Platform.Ready() }
