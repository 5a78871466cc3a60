package config

import "smsbridge/internal/telephony"

// Defaults returns a config with every optional setting filled in. Secrets,
// channel ids and the directory have no defaults.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Chat: ChatConfig{
			Platform: "discord",
		},
		Telephony: TelephonyConfig{
			APIBase:             telephony.DefaultAPIBase,
			MMSMediaURL:         "https://mms-media-prod.flowroute.com/",
			Poll:                true,
			PollIntervalSeconds: 1,
			LookbackHours:       24,
			PollLimit:           20,
			TimeoutSeconds:      30,
			MaxRetries:          3,
		},
		Relay: RelayConfig{
			Policy:                "all",
			DeliverTimeoutSeconds: 30,
			StrictReplies:         false,
			CommandPrefix:         "!",
			EchoInChannel:         true,
			DefaultCountryCode:    "1",
			SendRatePerMinute:     10,
			SendBurst:             5,
			HistorySize:           500,
		},
		Server: ServerConfig{
			Enabled:      false,
			Host:         "0.0.0.0",
			Port:         9090,
			CallbackPath: "/callback/flowroute",
			MetricsPath:  "/metrics",
		},
		Directory: map[string]string{},
	}
}
