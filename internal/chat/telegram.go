package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"smsbridge/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// TelegramConfig configures the Telegram adapter.
type TelegramConfig struct {
	Token  string
	ChatID int64 // bridge group chat
	Logger *slog.Logger
}

// Telegram implements domain.ChatPlatform for one group chat. Telegram has
// no webhooks for posting, so the fallback path is a plain group message.
type Telegram struct {
	cfg    TelegramConfig
	bot    *tgbotapi.BotAPI
	gate   *Gate
	logger *slog.Logger
}

// NewTelegram creates a Telegram adapter.
func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{cfg: cfg, gate: NewGate(), logger: cfg.Logger}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Ready() <-chan struct{} { return t.gate.Ready() }

// Start connects to Telegram and long-polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.ChatBus) error {
	bot, err := tgbotapi.NewBotAPI(t.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	t.gate.Open()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram bot stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
				continue
			}
			if update.Message.Text == "" {
				continue
			}
			if !update.Message.Chat.IsPrivate() && update.Message.Chat.ID != t.cfg.ChatID {
				continue
			}
			bus.Publish(telegramMessage(update.Message, bot.Self.ID))
		}
	}
}

// telegramMessage converts an update message into a bridge chat event.
func telegramMessage(m *tgbotapi.Message, selfID int64) domain.ChatMessage {
	msg := domain.ChatMessage{
		Platform:    "telegram",
		ChannelID:   strconv.FormatInt(m.Chat.ID, 10),
		MessageID:   strconv.Itoa(m.MessageID),
		AuthorID:    strconv.FormatInt(m.From.ID, 10),
		AuthorName:  m.From.UserName,
		AuthorIsBot: m.From.IsBot,
		IsDirect:    m.Chat.IsPrivate(),
		Content:     m.Text,
		Timestamp:   time.Unix(int64(m.Date), 0),
	}
	if r := m.ReplyToMessage; r != nil {
		msg.Reply = &domain.ReplyRef{
			MessageID:  strconv.Itoa(r.MessageID),
			FromBridge: boolPtr(r.From != nil && r.From.ID == selfID),
		}
	}
	return msg
}

// ActiveMember reports whether identity is in the bridge group and has not
// left or been removed.
func (t *Telegram) ActiveMember(ctx context.Context, identity string) (bool, error) {
	if t.bot == nil {
		return false, errNotStarted
	}
	userID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return false, fmt.Errorf("telegram user id %q: %w", identity, err)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	// The bot API client takes no context; stop waiting when ctx ends.
	type result struct {
		member tgbotapi.ChatMember
		err    error
	}
	done := make(chan result, 1)
	go func() {
		member, err := t.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
			ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: t.cfg.ChatID, UserID: userID},
		})
		done <- result{member, err}
	}()

	var member tgbotapi.ChatMember
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("telegram chat member: %w", ctx.Err())
	case r := <-done:
		member, err = r.member, r.err
	}
	if err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 400 {
			return false, nil
		}
		return false, fmt.Errorf("telegram chat member: %w", err)
	}
	return !member.HasLeft() && !member.WasKicked(), nil
}

// SendMention posts text in the group with an inline mention of identity.
func (t *Telegram) SendMention(ctx context.Context, identity, text string) error {
	if t.bot == nil {
		return errNotStarted
	}
	for i, chunk := range splitMessage(text, telegramMaxMsgLen) {
		body := "<pre>" + html.EscapeString(chunk) + "</pre>"
		if i == 0 {
			body = fmt.Sprintf(`<a href="tg://user?id=%s">New SMS</a>`, html.EscapeString(identity)) + "\n" + body
		}
		msg := tgbotapi.NewMessage(t.cfg.ChatID, body)
		msg.ParseMode = tgbotapi.ModeHTML
		if err := t.sendWithRetry(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// SendDirect messages identity privately. The user must have started a
// conversation with the bot before.
func (t *Telegram) SendDirect(ctx context.Context, identity, text string) error {
	userID, err := strconv.ParseInt(identity, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram user id %q: %w", identity, err)
	}
	return t.send(ctx, userID, text)
}

func (t *Telegram) SendChannel(ctx context.Context, channelID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", channelID, err)
	}
	return t.send(ctx, chatID, text)
}

func (t *Telegram) SendFallback(ctx context.Context, text string) error {
	return t.send(ctx, t.cfg.ChatID, text)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	if t.bot == nil {
		return errNotStarted
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendWithRetry(ctx, tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

// sendWithRetry backs off on rate limiting and transient errors.
func (t *Telegram) sendWithRetry(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if _, err = t.bot.Send(msg); err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			backoff = time.Duration(apiErr.RetryAfter) * time.Second
		} else if strings.Contains(err.Error(), "Too Many Requests") {
			backoff = time.Duration(attempt+1) * 3 * time.Second
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("telegram send: %w", err)
}
