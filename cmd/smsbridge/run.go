package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"smsbridge/internal/bridge"
	"smsbridge/internal/bus"
	"smsbridge/internal/callback"
	"smsbridge/internal/chat"
	"smsbridge/internal/config"
	"smsbridge/internal/directory"
	"smsbridge/internal/domain"
	"smsbridge/internal/phonenum"
	"smsbridge/internal/telephony"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge (chat adapter, inbound polling, callback server)",
		Long:  "Connects to the configured chat platform, relays inbound SMS/MMS and sends chat replies and commands as SMS. Press Ctrl+C to stop.",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	dir, err := newDirectory(cfg)
	if err != nil {
		return err
	}

	platform, err := newPlatform(cfg)
	if err != nil {
		return err
	}
	flowroute := newFlowroute(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)
	defer messageBus.Close()

	svc, err := newService(cfg, dir, platform, flowroute, messageBus)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return platform.Start(gctx, messageBus) })
	g.Go(func() error { return svc.Run(gctx) })

	if cfg.Server.Enabled {
		srv := callback.New(callback.Config{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			CallbackPath: cfg.Server.CallbackPath,
			MetricsPath:  cfg.Server.MetricsPath,
			Secret:       cfg.Server.Secret,
			Ingester:     svc,
			Ready:        platform.Ready(),
			Logger:       logger,
		})
		g.Go(func() error { return srv.Start(gctx) })
	}

	logger.Info("bridge started. Press Ctrl+C to stop.",
		"platform", platform.Name(),
		"directory", dir.Len(),
		"poll", cfg.Telephony.Poll,
		"callbacks", cfg.Server.Enabled,
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newDirectory(cfg *config.Config) (*directory.Directory, error) {
	dir, err := directory.New(cfg.Directory, cfg.Relay.DefaultCountryCode)
	if err != nil {
		return nil, fmt.Errorf("directory: %w", err)
	}
	if shared := dir.SharedIdentities(); len(shared) > 0 {
		logger.Warn("chat identities mapped to more than one phone number; outbound SMS uses the lowest number",
			"identities", strings.Join(shared, ","))
	}
	return dir, nil
}

// newPlatform builds the adapter for cfg.Chat.Platform.
func newPlatform(cfg *config.Config) (domain.ChatPlatform, error) {
	switch cfg.Chat.Platform {
	case "discord":
		return chat.NewDiscord(chat.DiscordConfig{
			Token:      cfg.Chat.Discord.Token,
			GuildID:    cfg.Chat.Discord.GuildID,
			ChannelID:  cfg.Chat.Discord.ChannelID,
			WebhookURL: cfg.Chat.Discord.WebhookURL,
			Logger:     logger,
		})
	case "slack":
		return chat.NewSlack(chat.SlackConfig{
			BotToken:   cfg.Chat.Slack.BotToken,
			AppToken:   cfg.Chat.Slack.AppToken,
			ChannelID:  cfg.Chat.Slack.ChannelID,
			WebhookURL: cfg.Chat.Slack.WebhookURL,
			Logger:     logger,
		}), nil
	case "telegram":
		return chat.NewTelegram(chat.TelegramConfig{
			Token:  cfg.Chat.Telegram.Token,
			ChatID: cfg.Chat.Telegram.ChatID,
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown chat platform %q", cfg.Chat.Platform)
	}
}

// bridgeChannelID is the channel replies must be posted in to be relayed.
func bridgeChannelID(cfg *config.Config) string {
	switch cfg.Chat.Platform {
	case "discord":
		return cfg.Chat.Discord.ChannelID
	case "slack":
		return cfg.Chat.Slack.ChannelID
	case "telegram":
		return strconv.FormatInt(cfg.Chat.Telegram.ChatID, 10)
	}
	return ""
}

func newFlowroute(cfg *config.Config) *telephony.Flowroute {
	return telephony.NewFlowroute(telephony.FlowrouteConfig{
		AccessKey:  cfg.Telephony.AccessKey,
		SecretKey:  cfg.Telephony.SecretKey,
		APIBase:    cfg.Telephony.APIBase,
		Timeout:    cfg.TelephonyTimeout(),
		MaxRetries: &cfg.Telephony.MaxRetries,
		Logger:     logger,
	})
}

func newFormatter(cfg *config.Config) telephony.Formatter {
	return telephony.Formatter{
		MediaBaseURL: cfg.Telephony.MMSMediaURL,
		Location:     cfg.Location(),
	}
}

func newService(cfg *config.Config, dir *directory.Directory, platform domain.ChatPlatform, flowroute *telephony.Flowroute, chatBus domain.ChatBus) (*bridge.Service, error) {
	sc := bridge.Config{
		Directory:         dir,
		Platform:          platform,
		Sender:            flowroute,
		Bus:               chatBus,
		Formatter:         newFormatter(cfg),
		Policy:            bridge.RelayPolicy(cfg.Relay.Policy),
		PollInterval:      cfg.PollInterval(),
		Lookback:          cfg.Lookback(),
		PollLimit:         cfg.Telephony.PollLimit,
		DeliverTimeout:    cfg.DeliverTimeout(),
		ChannelID:         bridgeChannelID(cfg),
		CommandPrefix:     cfg.Relay.CommandPrefix,
		EchoInChannel:     cfg.Relay.EchoInChannel,
		StrictReplies:     cfg.Relay.StrictReplies,
		CountryCode:       cfg.Relay.DefaultCountryCode,
		SendBurst:         cfg.Relay.SendBurst,
		SendRatePerMinute: cfg.Relay.SendRatePerMinute,
		HistorySize:       cfg.Relay.HistorySize,
		Logger:            logger,
	}
	// Without polling the bridge relies on provider callbacks only.
	if cfg.Telephony.Poll {
		sc.Source = flowroute
	}
	return bridge.New(sc)
}

func pollCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch inbound messages and print them without a chat connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			poller := bridge.NewPoller(bridge.PollerConfig{
				Source:   newFlowroute(cfg),
				Seen:     bridge.NewSeenSet(),
				Lookback: cfg.Lookback(),
				Limit:    cfg.Telephony.PollLimit,
				Logger:   logger,
			})
			formatter := newFormatter(cfg)
			policy := bridge.RelayPolicy(cfg.Relay.Policy)

			for {
				for _, m := range policy.Select(poller.Poll(ctx)) {
					fmt.Fprintln(cmd.OutOrStdout(), formatter.Format(m))
				}
				if once {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(cfg.PollInterval()):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func sendCmd() *cobra.Command {
	var media []string
	cmd := &cobra.Command{
		Use:   "send <from> <to> <body...>",
		Short: "Send an SMS (or MMS with --media) through Flowroute",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			from := phonenum.Normalize(args[0], cfg.Relay.DefaultCountryCode)
			if !phonenum.Possible(from) {
				return fmt.Errorf("invalid from number %q", args[0])
			}
			to := phonenum.Normalize(args[1], cfg.Relay.DefaultCountryCode)
			if !phonenum.Possible(to) {
				return fmt.Errorf("invalid to number %q", args[1])
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			id, err := newFlowroute(cfg).Send(ctx, domain.OutboundSMS{
				From:      from,
				To:        to,
				Body:      strings.Join(args[2:], " "),
				MediaURLs: media,
			})
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s -> %s (id %s)\n", from, to, id)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&media, "media", nil, "media URL to attach (repeatable)")
	return cmd
}
