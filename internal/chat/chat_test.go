package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/slack-go/slack/slackevents"

	"smsbridge/internal/domain"
)

func TestGate_OpensOnce(t *testing.T) {
	g := NewGate()
	if g.IsOpen() {
		t.Fatal("new gate should be closed")
	}
	select {
	case <-g.Ready():
		t.Fatal("ready before open")
	default:
	}

	g.Open()
	g.Open() // must not panic on double close

	select {
	case <-g.Ready():
	case <-time.After(time.Second):
		t.Fatal("ready not signalled after open")
	}
	if !g.IsOpen() {
		t.Fatal("gate should report open")
	}
}

func TestSplitMessage_Short(t *testing.T) {
	chunks := splitMessage("short message", 100)
	if len(chunks) != 1 || chunks[0] != "short message" {
		t.Fatalf("unexpected chunks: %q", chunks)
	}
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	msg := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)
	chunks := splitMessage(msg, 100)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != strings.Repeat("a", 60)+"\n" {
		t.Errorf("first chunk should end at the newline, got %q", chunks[0])
	}
	if strings.Join(chunks, "") != msg {
		t.Error("chunks do not reassemble the message")
	}
}

func TestSplitMessage_HardCut(t *testing.T) {
	chunks := splitMessage(strings.Repeat("x", 250), 100)
	if len(chunks) != 3 || len(chunks[0]) != 100 || len(chunks[2]) != 50 {
		t.Fatalf("unexpected chunk sizes: %d", len(chunks))
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	msg := strings.Repeat("héllo wörld 👋 ", 40)
	chunks := splitMessage(msg, 101)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, c)
		}
		if len(c) > 101 {
			t.Errorf("chunk %d exceeds limit: %d bytes", i, len(c))
		}
	}
	if strings.Join(chunks, "") != msg {
		t.Error("chunks do not reassemble the message")
	}
}

func TestParseDiscordWebhookURL(t *testing.T) {
	id, token, err := parseDiscordWebhookURL("https://discord.com/api/webhooks/123456/abc-DEF_ghi")
	if err != nil {
		t.Fatal(err)
	}
	if id != "123456" || token != "abc-DEF_ghi" {
		t.Fatalf("got id=%q token=%q", id, token)
	}

	for _, bad := range []string{
		"https://discord.com/api/webhooks/123456",
		"https://discord.com/api/channels/1/2",
		"://nope",
	} {
		if _, _, err := parseDiscordWebhookURL(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewDiscord_RejectsBadWebhook(t *testing.T) {
	if _, err := NewDiscord(DiscordConfig{WebhookURL: "https://example.com/hook"}); err == nil {
		t.Fatal("expected error for malformed webhook url")
	}
}

func TestDiscordMessage_Reply(t *testing.T) {
	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	m := &discordgo.Message{
		ID:        "m2",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   "ok 5551234567",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
		Mentions:  []*discordgo.User{{ID: "u9"}},
		MessageReference: &discordgo.MessageReference{
			MessageID: "m1",
			ChannelID: "c1",
		},
		ReferencedMessage: &discordgo.Message{ID: "m1", Author: &discordgo.User{ID: "bot"}},
	}

	got := discordMessage(m, "bot", "")
	want := domain.ChatMessage{
		Platform:   "discord",
		ChannelID:  "c1",
		MessageID:  "m2",
		AuthorID:   "u1",
		AuthorName: "alice",
		Content:    "ok 5551234567",
		Mentions:   []string{"u9"},
		Timestamp:  ts,
		Reply:      &domain.ReplyRef{MessageID: "m1", FromBridge: boolPtr(true)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("discordMessage mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscordMessage_WebhookReplyAndDM(t *testing.T) {
	m := &discordgo.Message{
		ID:                "m2",
		ChannelID:         "dm",
		Author:            &discordgo.User{ID: "u1"},
		MessageReference:  &discordgo.MessageReference{MessageID: "m1"},
		ReferencedMessage: &discordgo.Message{ID: "m1", WebhookID: "wh", Author: &discordgo.User{ID: "wh"}},
	}
	got := discordMessage(m, "bot", "wh")
	if !got.IsDirect {
		t.Error("message without guild should be direct")
	}
	if got.Reply == nil || got.Reply.FromBridge == nil || !*got.Reply.FromBridge {
		t.Errorf("reply to fallback webhook post should be from bridge: %+v", got.Reply)
	}

	m.ReferencedMessage = nil
	got = discordMessage(m, "bot", "wh")
	if got.Reply == nil || got.Reply.FromBridge != nil {
		t.Errorf("unknown referenced message should leave origin unset: %+v", got.Reply)
	}
}

func TestSlackMessage_ThreadReply(t *testing.T) {
	ev := &slackevents.MessageEvent{
		User:            "U1",
		Text:            "5551234567 thanks",
		Channel:         "C1",
		TimeStamp:       "1709632800.000200",
		ThreadTimeStamp: "1709632700.000100",
	}
	got := slackMessage(ev, func(ts string) bool { return ts == "1709632700.000100" })
	if got.Reply == nil || got.Reply.MessageID != "1709632700.000100" {
		t.Fatalf("expected thread parent as reply ref, got %+v", got.Reply)
	}
	if got.Reply.FromBridge == nil || !*got.Reply.FromBridge {
		t.Error("parent posted by the bridge should be marked")
	}
	if want := time.Unix(1709632800, 200000); !got.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want)
	}
}

func TestSlackMessage_TopLevelAndIM(t *testing.T) {
	ev := &slackevents.MessageEvent{User: "U1", Channel: "D1", ChannelType: "im", TimeStamp: "1.5", ThreadTimeStamp: "1.5", BotID: "B1"}
	got := slackMessage(ev, nil)
	if got.Reply != nil {
		t.Error("thread root is not a reply")
	}
	if !got.IsDirect || !got.AuthorIsBot {
		t.Errorf("unexpected flags: %+v", got)
	}
}

func TestSlack_RememberPostedBounded(t *testing.T) {
	s := NewSlack(SlackConfig{})
	for i := 0; i < slackMaxPostedKept+5; i++ {
		s.rememberPosted(time.Unix(int64(i), 0).Format("20060102150405"))
	}
	if len(s.posted) != slackMaxPostedKept {
		t.Fatalf("expected %d remembered posts, got %d", slackMaxPostedKept, len(s.posted))
	}
	if s.postedByBridge(time.Unix(0, 0).Format("20060102150405")) {
		t.Error("oldest post should have been evicted")
	}
}

func TestSlack_WebhookEchoRemembered(t *testing.T) {
	s := NewSlack(SlackConfig{ChannelID: "C1"})
	s.expectWebhookEcho("Tom & Jerry <3")

	other := &slackevents.MessageEvent{SubType: "bot_message", Channel: "C2", TimeStamp: "1.1", Text: "Tom &amp; Jerry &lt;3"}
	if s.noteWebhookEcho(other) {
		t.Fatal("echo in another channel should not match")
	}

	echo := &slackevents.MessageEvent{SubType: "bot_message", Channel: "C1", TimeStamp: "1.2", Text: "Tom &amp; Jerry &lt;3"}
	if !s.noteWebhookEcho(echo) {
		t.Fatal("webhook echo not recognised")
	}
	if !s.postedByBridge("1.2") {
		t.Fatal("webhook post timestamp not remembered")
	}

	reply := slackMessage(&slackevents.MessageEvent{Channel: "C1", User: "U1", TimeStamp: "2.0", ThreadTimeStamp: "1.2"}, s.postedByBridge)
	if reply.Reply == nil || reply.Reply.FromBridge == nil || !*reply.Reply.FromBridge {
		t.Fatalf("thread reply to webhook post not marked as bridge reply: %+v", reply.Reply)
	}

	echo.TimeStamp = "1.3"
	if s.noteWebhookEcho(echo) {
		t.Error("each pending post should match one echo only")
	}
}

// stallingTelegramClient answers getMe and holds every other request until
// release is closed.
type stallingTelegramClient struct {
	release chan struct{}
}

func (c *stallingTelegramClient) Do(req *http.Request) (*http.Response, error) {
	body := `{"ok":true,"result":{"id":99,"is_bot":true,"first_name":"bridge","username":"bridge_bot"}}`
	if !strings.HasSuffix(req.URL.Path, "/getMe") {
		<-c.release
		body = `{"ok":true,"result":{"status":"member","user":{"id":7,"first_name":"a"}}}`
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}, nil
}

func TestTelegram_ActiveMemberHonoursContext(t *testing.T) {
	client := &stallingTelegramClient{release: make(chan struct{})}
	t.Cleanup(func() { close(client.release) })

	bot, err := tgbotapi.NewBotAPIWithClient("token", tgbotapi.APIEndpoint, client)
	if err != nil {
		t.Fatalf("bot: %v", err)
	}
	tg := NewTelegram(TelegramConfig{ChatID: -1001})
	tg.bot = bot

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = tg.ActiveMember(ctx, "7")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("ActiveMember ignored the deadline for %v", elapsed)
	}

	cancelled, cancelNow := context.WithCancel(t.Context())
	cancelNow()
	if _, err := tg.ActiveMember(cancelled, "7"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}

func TestTelegramMessage(t *testing.T) {
	m := &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 7, UserName: "alice"},
		Chat:      &tgbotapi.Chat{ID: -100123, Type: "supergroup"},
		Date:      1709632800,
		Text:      "ok 5551234567",
		ReplyToMessage: &tgbotapi.Message{
			MessageID: 41,
			From:      &tgbotapi.User{ID: 99, IsBot: true},
		},
	}
	got := telegramMessage(m, 99)
	want := domain.ChatMessage{
		Platform:   "telegram",
		ChannelID:  "-100123",
		MessageID:  "42",
		AuthorID:   "7",
		AuthorName: "alice",
		Content:    "ok 5551234567",
		Timestamp:  time.Unix(1709632800, 0),
		Reply:      &domain.ReplyRef{MessageID: "41", FromBridge: boolPtr(true)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("telegramMessage mismatch (-want +got):\n%s", diff)
	}

	m.Chat.Type = "private"
	if !telegramMessage(m, 99).IsDirect {
		t.Error("private chat should be direct")
	}
}

func TestAdapters_SendBeforeStart(t *testing.T) {
	d, err := NewDiscord(DiscordConfig{})
	if err != nil {
		t.Fatal(err)
	}
	platforms := []domain.ChatPlatform{d, NewSlack(SlackConfig{}), NewTelegram(TelegramConfig{})}
	for _, p := range platforms {
		if err := p.SendFallback(t.Context(), "x"); err == nil {
			t.Errorf("%s: expected error before start", p.Name())
		}
		if _, err := p.ActiveMember(t.Context(), "1"); err == nil {
			t.Errorf("%s: expected membership error before start", p.Name())
		}
	}
}
