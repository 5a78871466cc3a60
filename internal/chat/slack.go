package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"smsbridge/internal/domain"
)

const (
	slackMaxMsgLen     = 4000
	slackMentionColor  = "#3498db"
	slackMaxPostedKept = 1000
)

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	BotToken   string
	AppToken   string // xapp- token for Socket Mode
	ChannelID  string // bridge channel
	WebhookURL string // incoming webhook used as the fallback path
	Logger     *slog.Logger
}

// Slack implements domain.ChatPlatform using Socket Mode.
type Slack struct {
	cfg    SlackConfig
	client *slack.Client
	botUID string
	gate   *Gate
	logger *slog.Logger

	// posted remembers timestamps of messages the bridge posted, so thread
	// replies to them can be recognised.
	postedMu sync.Mutex
	posted   map[string]struct{}
	order    []string
	// webhook posts return no timestamp; their text waits here until the
	// echoed bot_message event reveals it.
	pendingEcho []string
}

// NewSlack creates a Slack adapter.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		cfg:    cfg,
		gate:   NewGate(),
		logger: cfg.Logger,
		posted: make(map[string]struct{}),
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Ready() <-chan struct{} { return s.gate.Ready() }

// Start connects via Socket Mode and blocks until ctx is cancelled.
func (s *Slack) Start(ctx context.Context, bus domain.ChatBus) error {
	api := slack.New(
		s.cfg.BotToken,
		slack.OptionAppLevelToken(s.cfg.AppToken),
	)

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.client = api
	s.botUID = authResp.UserID
	s.logger.Info("slack bot authenticated", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-socketClient.Events:
				if !ok {
					return
				}
				s.handleSocketEvent(socketClient, evt, bus)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleSocketEvent(client *socketmode.Client, evt socketmode.Event, bus domain.ChatBus) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		s.logger.Info("slack socket mode connected")
		s.gate.Open()

	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		client.Ack(*evt.Request)
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
		if !ok {
			return
		}
		if s.noteWebhookEcho(ev) {
			return
		}
		// Ignore our own posts and edits/joins/other subtypes.
		if ev.User == s.botUID || ev.SubType != "" {
			return
		}
		s.logger.Debug("slack message received", "user", ev.User, "channel", ev.Channel, "content_len", len(ev.Text))
		bus.Publish(slackMessage(ev, s.postedByBridge))

	default:
		// Acknowledge everything else to keep the socket healthy.
		if evt.Request != nil {
			client.Ack(*evt.Request)
		}
	}
}

// slackMessage converts a message event into a bridge chat event. Thread
// replies carry the parent timestamp as the reply reference.
func slackMessage(ev *slackevents.MessageEvent, postedByBridge func(ts string) bool) domain.ChatMessage {
	msg := domain.ChatMessage{
		Platform:    "slack",
		ChannelID:   ev.Channel,
		MessageID:   ev.TimeStamp,
		AuthorID:    ev.User,
		AuthorName:  ev.Username,
		AuthorIsBot: ev.BotID != "",
		IsDirect:    ev.ChannelType == "im",
		Content:     ev.Text,
		Timestamp:   slackTime(ev.TimeStamp),
	}
	if ev.ThreadTimeStamp != "" && ev.ThreadTimeStamp != ev.TimeStamp {
		ref := &domain.ReplyRef{MessageID: ev.ThreadTimeStamp}
		if postedByBridge != nil && postedByBridge(ev.ThreadTimeStamp) {
			ref.FromBridge = boolPtr(true)
		}
		msg.Reply = ref
	}
	return msg
}

// slackTime parses a "seconds.micros" message timestamp.
func slackTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Now()
	}
	var nsec int64
	if frac != "" {
		if us, err := strconv.ParseInt(frac, 10, 64); err == nil {
			for i := len(frac); i < 9; i++ {
				us *= 10
			}
			nsec = us
		}
	}
	return time.Unix(sec, nsec)
}

func (s *Slack) rememberPosted(ts string) {
	if ts == "" {
		return
	}
	s.postedMu.Lock()
	defer s.postedMu.Unlock()
	if _, ok := s.posted[ts]; ok {
		return
	}
	s.posted[ts] = struct{}{}
	s.order = append(s.order, ts)
	if len(s.order) > slackMaxPostedKept {
		delete(s.posted, s.order[0])
		s.order = s.order[1:]
	}
}

// expectWebhookEcho records a chunk posted through the incoming webhook.
// Slack escapes &, < and > in event text, so the stored form does too.
func (s *Slack) expectWebhookEcho(text string) {
	s.postedMu.Lock()
	defer s.postedMu.Unlock()
	s.pendingEcho = append(s.pendingEcho, slackEscaper.Replace(text))
	if len(s.pendingEcho) > slackMaxPostedKept {
		s.pendingEcho = s.pendingEcho[1:]
	}
}

var slackEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// noteWebhookEcho remembers the timestamp of a bot_message in the bridge
// channel whose text matches a pending webhook post. It reports whether ev
// was such an echo.
func (s *Slack) noteWebhookEcho(ev *slackevents.MessageEvent) bool {
	if ev.SubType != "bot_message" || ev.Channel != s.cfg.ChannelID {
		return false
	}
	s.postedMu.Lock()
	idx := -1
	for i, text := range s.pendingEcho {
		if text == ev.Text {
			idx = i
			break
		}
	}
	if idx >= 0 {
		s.pendingEcho = append(s.pendingEcho[:idx], s.pendingEcho[idx+1:]...)
	}
	s.postedMu.Unlock()

	if idx < 0 {
		return false
	}
	s.rememberPosted(ev.TimeStamp)
	return true
}

func (s *Slack) postedByBridge(ts string) bool {
	s.postedMu.Lock()
	defer s.postedMu.Unlock()
	_, ok := s.posted[ts]
	return ok
}

// ActiveMember reports whether identity belongs to the bridge channel.
func (s *Slack) ActiveMember(ctx context.Context, identity string) (bool, error) {
	if s.client == nil {
		return false, errNotStarted
	}
	params := &slack.GetUsersInConversationParameters{ChannelID: s.cfg.ChannelID, Limit: 1000}
	for {
		members, cursor, err := s.client.GetUsersInConversationContext(ctx, params)
		if err != nil {
			return false, fmt.Errorf("slack conversation members: %w", err)
		}
		for _, m := range members {
			if m == identity {
				return true, nil
			}
		}
		if cursor == "" {
			return false, nil
		}
		params.Cursor = cursor
	}
}

// SendMention posts text as an attachment in the bridge channel, pinging
// identity.
func (s *Slack) SendMention(ctx context.Context, identity, text string) error {
	if s.client == nil {
		return errNotStarted
	}
	for _, chunk := range splitMessage(text, slackMaxMsgLen) {
		_, ts, err := s.client.PostMessageContext(ctx, s.cfg.ChannelID,
			slack.MsgOptionText("<@"+identity+">", false),
			slack.MsgOptionAttachments(slack.Attachment{Text: chunk, Color: slackMentionColor}),
		)
		if err != nil {
			return fmt.Errorf("slack send mention: %w", err)
		}
		s.rememberPosted(ts)
	}
	return nil
}

// SendDirect opens an IM with identity and posts text there.
func (s *Slack) SendDirect(ctx context.Context, identity, text string) error {
	if s.client == nil {
		return errNotStarted
	}
	ch, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{Users: []string{identity}})
	if err != nil {
		return fmt.Errorf("slack open im: %w", err)
	}
	return s.send(ctx, ch.ID, text)
}

func (s *Slack) SendChannel(ctx context.Context, channelID, text string) error {
	if s.client == nil {
		return errNotStarted
	}
	return s.send(ctx, channelID, text)
}

// SendFallback posts text through the incoming webhook, or plainly into the
// bridge channel when none is configured.
func (s *Slack) SendFallback(ctx context.Context, text string) error {
	if s.cfg.WebhookURL == "" {
		if s.client == nil {
			return errNotStarted
		}
		return s.send(ctx, s.cfg.ChannelID, text)
	}
	for _, chunk := range splitMessage(text, slackMaxMsgLen) {
		s.expectWebhookEcho(chunk)
		if err := slack.PostWebhookContext(ctx, s.cfg.WebhookURL, &slack.WebhookMessage{Text: chunk}); err != nil {
			return fmt.Errorf("slack webhook: %w", err)
		}
	}
	return nil
}

func (s *Slack) send(ctx context.Context, channelID, content string) error {
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, ts, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(chunk, false))
		if err != nil {
			return fmt.Errorf("slack send: %w", err)
		}
		s.rememberPosted(ts)
	}
	return nil
}
