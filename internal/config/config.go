package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"smsbridge/internal/phonenum"
)

// Config is the root configuration for smsbridge.
type Config struct {
	Log       LogConfig         `json:"log" yaml:"log"`
	Chat      ChatConfig        `json:"chat" yaml:"chat"`
	Telephony TelephonyConfig   `json:"telephony" yaml:"telephony"`
	Relay     RelayConfig       `json:"relay" yaml:"relay"`
	Server    ServerConfig      `json:"server" yaml:"server"`
	Directory map[string]string `json:"directory" yaml:"directory"` // phone number -> chat identity
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format"` // text | json
	File   string `json:"file,omitempty" yaml:"file,omitempty"`
}

type ChatConfig struct {
	Platform string         `json:"platform" yaml:"platform"` // discord | slack | telegram
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type DiscordConfig struct {
	Token      string `json:"token" yaml:"token"`
	GuildID    string `json:"guildId" yaml:"guildId"`
	ChannelID  string `json:"channelId" yaml:"channelId"`
	WebhookURL string `json:"webhookUrl" yaml:"webhookUrl"`
}

type SlackConfig struct {
	BotToken   string `json:"botToken" yaml:"botToken"`
	AppToken   string `json:"appToken" yaml:"appToken"` // required for Socket Mode
	ChannelID  string `json:"channelId" yaml:"channelId"`
	WebhookURL string `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token" yaml:"token"`
	ChatID int64  `json:"chatId" yaml:"chatId"`
}

type TelephonyConfig struct {
	AccessKey           string `json:"accessKey" yaml:"accessKey"`
	SecretKey           string `json:"secretKey" yaml:"secretKey"`
	APIBase             string `json:"apiBase" yaml:"apiBase"`
	MMSMediaURL         string `json:"mmsMediaUrl" yaml:"mmsMediaUrl"`
	WebhookCallbackURL  string `json:"webhookCallbackUrl,omitempty" yaml:"webhookCallbackUrl,omitempty"` // informational: where the provider pushes callbacks
	Poll                bool   `json:"poll" yaml:"poll"`
	PollIntervalSeconds int    `json:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	LookbackHours       int    `json:"lookbackHours" yaml:"lookbackHours"`
	PollLimit           int    `json:"pollLimit" yaml:"pollLimit"`
	TimeoutSeconds      int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxRetries          int    `json:"maxRetries" yaml:"maxRetries"`
	Timezone            string `json:"timezone,omitempty" yaml:"timezone,omitempty"` // display zone; empty = local
}

type RelayConfig struct {
	Policy                string  `json:"policy" yaml:"policy"` // all | latest
	DeliverTimeoutSeconds int     `json:"deliverTimeoutSeconds" yaml:"deliverTimeoutSeconds"`
	StrictReplies         bool    `json:"strictReplies" yaml:"strictReplies"`
	CommandPrefix         string  `json:"commandPrefix" yaml:"commandPrefix"`
	EchoInChannel         bool    `json:"echoInChannel" yaml:"echoInChannel"`
	DefaultCountryCode    string  `json:"defaultCountryCode" yaml:"defaultCountryCode"`
	SendRatePerMinute     float64 `json:"sendRatePerMinute" yaml:"sendRatePerMinute"` // 0 = unlimited
	SendBurst             int     `json:"sendBurst" yaml:"sendBurst"`
	HistorySize           int     `json:"historySize" yaml:"historySize"`
}

type ServerConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	CallbackPath string `json:"callbackPath" yaml:"callbackPath"`
	MetricsPath  string `json:"metricsPath" yaml:"metricsPath"`
	Secret       string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

// envOverrides are secrets and switches that may come from the environment
// instead of the config file. Set values win over the file.
type envOverrides struct {
	Platform           string `env:"SMSBRIDGE_CHAT_PLATFORM"`
	DiscordToken       string `env:"SMSBRIDGE_DISCORD_TOKEN"`
	SlackBotToken      string `env:"SMSBRIDGE_SLACK_BOT_TOKEN"`
	SlackAppToken      string `env:"SMSBRIDGE_SLACK_APP_TOKEN"`
	TelegramToken      string `env:"SMSBRIDGE_TELEGRAM_TOKEN"`
	FlowrouteAccessKey string `env:"SMSBRIDGE_FLOWROUTE_ACCESS_KEY"`
	FlowrouteSecretKey string `env:"SMSBRIDGE_FLOWROUTE_SECRET_KEY"`
	ServerSecret       string `env:"SMSBRIDGE_SERVER_SECRET"`
	LogLevel           string `env:"SMSBRIDGE_LOG_LEVEL"`
}

// DefaultConfigDir returns the default config directory (~/.smsbridge).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smsbridge"
	}
	return filepath.Join(home, ".smsbridge")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands, overrides from the environment and validates the
// config at path. JSON and YAML are chosen by file extension.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation.
func Read(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Log.File = ExpandPath(cfg.Log.File)
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(context.Background(), &env); err != nil {
		return fmt.Errorf("parsing env vars: %w", err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Chat.Platform, env.Platform)
	override(&cfg.Chat.Discord.Token, env.DiscordToken)
	override(&cfg.Chat.Slack.BotToken, env.SlackBotToken)
	override(&cfg.Chat.Slack.AppToken, env.SlackAppToken)
	override(&cfg.Chat.Telegram.Token, env.TelegramToken)
	override(&cfg.Telephony.AccessKey, env.FlowrouteAccessKey)
	override(&cfg.Telephony.SecretKey, env.FlowrouteSecretKey)
	override(&cfg.Server.Secret, env.ServerSecret)
	override(&cfg.Log.Level, env.LogLevel)
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// Save writes cfg as JSON or YAML depending on the extension of path.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Every problem is
// reported, not just the first.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, "log.format must be one of: text, json")
	}

	switch cfg.Chat.Platform {
	case "discord":
		d := cfg.Chat.Discord
		if d.Token == "" {
			errs = append(errs, "chat.discord.token is required")
		}
		if d.GuildID == "" {
			errs = append(errs, "chat.discord.guildId is required")
		}
		if d.ChannelID == "" {
			errs = append(errs, "chat.discord.channelId is required")
		}
		if d.WebhookURL == "" {
			errs = append(errs, "chat.discord.webhookUrl is required")
		}
	case "slack":
		s := cfg.Chat.Slack
		if s.BotToken == "" {
			errs = append(errs, "chat.slack.botToken is required")
		}
		if s.AppToken == "" {
			errs = append(errs, "chat.slack.appToken is required for Socket Mode")
		}
		if s.ChannelID == "" {
			errs = append(errs, "chat.slack.channelId is required")
		}
	case "telegram":
		if cfg.Chat.Telegram.Token == "" {
			errs = append(errs, "chat.telegram.token is required")
		}
		if cfg.Chat.Telegram.ChatID == 0 {
			errs = append(errs, "chat.telegram.chatId is required")
		}
	default:
		errs = append(errs, "chat.platform must be one of: discord, slack, telegram")
	}

	t := cfg.Telephony
	if t.AccessKey == "" {
		errs = append(errs, "telephony.accessKey is required")
	}
	if t.SecretKey == "" {
		errs = append(errs, "telephony.secretKey is required")
	}
	if t.Poll && t.PollIntervalSeconds < 1 {
		errs = append(errs, "telephony.pollIntervalSeconds must be >= 1")
	}
	if t.LookbackHours < 1 {
		errs = append(errs, "telephony.lookbackHours must be >= 1")
	}
	if t.PollLimit < 1 || t.PollLimit > 200 {
		errs = append(errs, "telephony.pollLimit must be between 1 and 200")
	}
	if t.TimeoutSeconds < 1 {
		errs = append(errs, "telephony.timeoutSeconds must be >= 1")
	}
	if t.MaxRetries < 0 {
		errs = append(errs, "telephony.maxRetries must be >= 0")
	}
	if t.Timezone != "" {
		if _, err := time.LoadLocation(t.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("telephony.timezone: %v", err))
		}
	}
	if !t.Poll && !cfg.Server.Enabled {
		errs = append(errs, "no inbound path: enable telephony.poll or server.enabled")
	}

	r := cfg.Relay
	switch r.Policy {
	case "all", "latest":
	default:
		errs = append(errs, "relay.policy must be one of: all, latest")
	}
	if r.DeliverTimeoutSeconds < 0 {
		errs = append(errs, "relay.deliverTimeoutSeconds must be >= 0")
	}
	if strings.TrimSpace(r.CommandPrefix) == "" {
		errs = append(errs, "relay.commandPrefix must not be empty")
	}
	if r.DefaultCountryCode != "" && !phonenum.IsDigits(r.DefaultCountryCode) {
		errs = append(errs, "relay.defaultCountryCode must contain digits only")
	}
	if r.SendRatePerMinute < 0 {
		errs = append(errs, "relay.sendRatePerMinute must be >= 0")
	}
	if r.HistorySize < 1 {
		errs = append(errs, "relay.historySize must be >= 1")
	}

	if cfg.Server.Enabled {
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if !strings.HasPrefix(cfg.Server.CallbackPath, "/") {
			errs = append(errs, "server.callbackPath must start with /")
		}
		if !strings.HasPrefix(cfg.Server.MetricsPath, "/") {
			errs = append(errs, "server.metricsPath must start with /")
		}
	}

	if len(cfg.Directory) == 0 {
		errs = append(errs, "directory must map at least one phone number to a chat identity")
	}
	for phone, identity := range cfg.Directory {
		if !phonenum.Valid(phone) {
			errs = append(errs, fmt.Sprintf("directory: %q is not a phone number (10 to 15 digits)", phone))
		}
		if strings.TrimSpace(identity) == "" {
			errs = append(errs, fmt.Sprintf("directory: %q maps to an empty identity", phone))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// PollInterval, Lookback, TelephonyTimeout and DeliverTimeout convert the
// integer settings to durations.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Telephony.PollIntervalSeconds) * time.Second
}

func (c *Config) Lookback() time.Duration {
	return time.Duration(c.Telephony.LookbackHours) * time.Hour
}

func (c *Config) TelephonyTimeout() time.Duration {
	return time.Duration(c.Telephony.TimeoutSeconds) * time.Second
}

func (c *Config) DeliverTimeout() time.Duration {
	return time.Duration(c.Relay.DeliverTimeoutSeconds) * time.Second
}

// Location returns the display zone for timestamps.
func (c *Config) Location() *time.Location {
	if c.Telephony.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Telephony.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
