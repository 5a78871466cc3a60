package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smsbridge/internal/chat"
	"smsbridge/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Chat.Discord.Token = "discord-token-123456"
	cfg.Chat.Discord.GuildID = "g1"
	cfg.Chat.Discord.ChannelID = "c1"
	cfg.Telephony.AccessKey = "access"
	cfg.Telephony.SecretKey = "secret-key-abcdef"
	cfg.Directory = map[string]string{"1112223333": "alice"}
	return cfg
}

func TestMain(m *testing.M) {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	os.Exit(m.Run())
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l, closeLog, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer closeLog()

	l.Info("hidden")
	l.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("expected JSON output, got %s", out)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, _, err := newLogger(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLogger_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bridge.log")
	for i := 0; i < 2; i++ {
		l, closeLog, err := newLogger(config.LogConfig{Level: "info", Format: "text", File: path}, &bytes.Buffer{})
		if err != nil {
			t.Fatalf("newLogger: %v", err)
		}
		l.Info("line")
		closeLog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if n := strings.Count(string(data), "msg=line"); n != 2 {
		t.Fatalf("expected 2 appended lines, got %d:\n%s", n, data)
	}
}

func TestNewPlatform_Selection(t *testing.T) {
	cfg := testConfig()

	p, err := newPlatform(cfg)
	if err != nil {
		t.Fatalf("discord: %v", err)
	}
	if _, ok := p.(*chat.Discord); !ok {
		t.Errorf("expected *chat.Discord, got %T", p)
	}

	cfg.Chat.Platform = "slack"
	if p, _ := newPlatform(cfg); p.Name() != "slack" {
		t.Errorf("expected slack adapter, got %s", p.Name())
	}

	cfg.Chat.Platform = "telegram"
	cfg.Chat.Telegram.ChatID = -1001
	if p, _ := newPlatform(cfg); p.Name() != "telegram" {
		t.Errorf("expected telegram adapter, got %s", p.Name())
	}
	if got := bridgeChannelID(cfg); got != "-1001" {
		t.Errorf("telegram channel id = %q", got)
	}

	cfg.Chat.Platform = "irc"
	if _, err := newPlatform(cfg); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestNewService_PollToggle(t *testing.T) {
	cfg := testConfig()
	dir, err := newDirectory(cfg)
	if err != nil {
		t.Fatalf("directory: %v", err)
	}
	platform, err := newPlatform(cfg)
	if err != nil {
		t.Fatalf("platform: %v", err)
	}

	cfg.Telephony.Poll = false
	svc, err := newService(cfg, dir, platform, newFlowroute(cfg), nil)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	// No source and no bus: Run has nothing to do and returns at once.
	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := svc.Cycle(context.Background()); n != 0 {
		t.Fatalf("Cycle without polling relayed %d messages", n)
	}
}

func TestShowConfig_MasksSecrets(t *testing.T) {
	cfg := config.Sanitize(testConfig())

	var buf bytes.Buffer
	if err := showConfig(&buf, cfg, []string{"telephony.secretKey"}); err != nil {
		t.Fatalf("showConfig: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `"secr****cdef"` {
		t.Errorf("secret not masked: %s", got)
	}

	buf.Reset()
	if err := showConfig(&buf, cfg, []string{"relay.policy"}); err != nil {
		t.Fatalf("showConfig: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != `"all"` {
		t.Errorf("relay.policy = %s", got)
	}

	if err := showConfig(&buf, cfg, []string{"nope.missing"}); err == nil {
		t.Error("expected error for unknown path")
	}
}

func TestServiceTemplates(t *testing.T) {
	unit := renderSystemd("/usr/local/bin/smsbridge", "/etc/smsbridge.yaml")
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/smsbridge run --config /etc/smsbridge.yaml") {
		t.Errorf("unexpected unit:\n%s", unit)
	}

	plist := renderLaunchd("/opt/smsbridge", "/cfg.json", "/logs")
	for _, want := range []string{
		"<string>" + launchdLabel + "</string>",
		"<string>/opt/smsbridge</string>",
		"<string>run</string>",
		"<string>/cfg.json</string>",
		"<string>/logs/smsbridge.log</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if strings.Contains(plist, "{{") {
		t.Errorf("unreplaced placeholder in plist:\n%s", plist)
	}
}
