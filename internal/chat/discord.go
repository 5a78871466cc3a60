package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"smsbridge/internal/domain"
)

const (
	discordMaxMsgLen   = 2000
	discordMaxEmbedLen = 4096
	discordEmbedColor  = 0x3498db
)

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token      string
	GuildID    string
	ChannelID  string // bridge channel
	WebhookURL string // fallback path; empty posts plainly into ChannelID
	Logger     *slog.Logger
}

// Discord implements domain.ChatPlatform for a single guild channel.
type Discord struct {
	cfg          DiscordConfig
	webhookID    string
	webhookToken string
	session      *discordgo.Session
	gate         *Gate
	logger       *slog.Logger
}

// NewDiscord creates a Discord adapter. The session is opened by Start.
func NewDiscord(cfg DiscordConfig) (*Discord, error) {
	d := &Discord{cfg: cfg, gate: NewGate(), logger: cfg.Logger}
	if cfg.WebhookURL != "" {
		id, token, err := parseDiscordWebhookURL(cfg.WebhookURL)
		if err != nil {
			return nil, err
		}
		d.webhookID, d.webhookToken = id, token
	}
	return d, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Ready() <-chan struct{} { return d.gate.Ready() }

// Start connects with the bot token, publishes guild and direct messages to
// bus and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.ChatBus) error {
	session, err := discordgo.New("Bot " + d.cfg.Token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	d.session = session

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
		d.gate.Open()
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		// Direct messages have no guild; everything else must come from ours.
		if m.GuildID != "" && d.cfg.GuildID != "" && m.GuildID != d.cfg.GuildID {
			return
		}

		d.logger.Debug("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)
		bus.Publish(discordMessage(m.Message, s.State.User.ID, d.webhookID))
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "guild", d.cfg.GuildID, "channel", d.cfg.ChannelID)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// discordMessage converts a gateway message into a bridge chat event.
// selfID and webhookID identify messages the bridge posted itself.
func discordMessage(m *discordgo.Message, selfID, webhookID string) domain.ChatMessage {
	msg := domain.ChatMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		IsDirect:  m.GuildID == "",
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
		msg.AuthorIsBot = m.Author.Bot
	}
	for _, u := range m.Mentions {
		msg.Mentions = append(msg.Mentions, u.ID)
	}

	if m.MessageReference != nil {
		ref := &domain.ReplyRef{MessageID: m.MessageReference.MessageID}
		if rm := m.ReferencedMessage; rm != nil {
			fromBridge := (rm.Author != nil && rm.Author.ID == selfID) ||
				(webhookID != "" && rm.WebhookID == webhookID)
			ref.FromBridge = boolPtr(fromBridge)
		}
		msg.Reply = ref
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

// ActiveMember reports whether identity is a current member of the guild.
func (d *Discord) ActiveMember(ctx context.Context, identity string) (bool, error) {
	if d.session == nil {
		return false, errNotStarted
	}
	_, err := d.session.GuildMember(d.cfg.GuildID, identity, discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("discord guild member: %w", err)
	}
	return true, nil
}

// SendMention posts text as an embed in the bridge channel, pinging identity.
func (d *Discord) SendMention(ctx context.Context, identity, text string) error {
	if d.session == nil {
		return errNotStarted
	}
	for _, chunk := range splitMessage(text, discordMaxEmbedLen) {
		_, err := d.session.ChannelMessageSendComplex(d.cfg.ChannelID, &discordgo.MessageSend{
			Content: "<@" + identity + ">",
			Embeds: []*discordgo.MessageEmbed{{
				Description: chunk,
				Color:       discordEmbedColor,
				Timestamp:   time.Now().Format(time.RFC3339),
			}},
			AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{identity}},
		}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord send mention: %w", err)
		}
	}
	return nil
}

// SendDirect opens (or reuses) the DM channel with identity and posts text.
func (d *Discord) SendDirect(ctx context.Context, identity, text string) error {
	if d.session == nil {
		return errNotStarted
	}
	ch, err := d.session.UserChannelCreate(identity, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord open dm: %w", err)
	}
	return d.send(ctx, ch.ID, text)
}

func (d *Discord) SendChannel(ctx context.Context, channelID, text string) error {
	if d.session == nil {
		return errNotStarted
	}
	return d.send(ctx, channelID, text)
}

// SendFallback posts text through the configured webhook.
func (d *Discord) SendFallback(ctx context.Context, text string) error {
	if d.session == nil {
		return errNotStarted
	}
	if d.webhookID == "" {
		return d.send(ctx, d.cfg.ChannelID, text)
	}
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		_, err := d.session.WebhookExecute(d.webhookID, d.webhookToken, false,
			&discordgo.WebhookParams{Content: chunk}, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("discord webhook: %w", err)
		}
	}
	return nil
}

func (d *Discord) send(ctx context.Context, channelID, content string) error {
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// parseDiscordWebhookURL extracts the id and token from
// https://discord.com/api/webhooks/{id}/{token}.
func parseDiscordWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("discord webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) {
			id, token = parts[i+1], parts[i+2]
			break
		}
	}
	if id == "" || token == "" {
		return "", "", fmt.Errorf("discord webhook url %q: expected .../webhooks/{id}/{token}", raw)
	}
	return id, token, nil
}
