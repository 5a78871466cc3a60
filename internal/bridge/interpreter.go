package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"smsbridge/internal/directory"
	"smsbridge/internal/domain"
	"smsbridge/internal/metrics"
	"smsbridge/internal/phonenum"
)

// InterpreterConfig configures a CommandInterpreter.
type InterpreterConfig struct {
	Directory     *directory.Directory
	Sender        domain.SMSSender
	Platform      domain.ChatPlatform
	Limiter       *SendLimiter // nil disables limiting
	Prefix        string       // default: "!"
	EchoInChannel bool
	CountryCode   string
	Logger        *slog.Logger
}

// CommandInterpreter handles prefixed chat commands. It keeps no state
// between messages.
type CommandInterpreter struct {
	dir         *directory.Directory
	sender      domain.SMSSender
	platform    domain.ChatPlatform
	limiter     *SendLimiter
	prefix      string
	echo        bool
	countryCode string
	logger      *slog.Logger
}

// NewCommandInterpreter creates a CommandInterpreter.
func NewCommandInterpreter(cfg InterpreterConfig) *CommandInterpreter {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	return &CommandInterpreter{
		dir:         cfg.Directory,
		sender:      cfg.Sender,
		platform:    cfg.Platform,
		limiter:     cfg.Limiter,
		prefix:      cfg.Prefix,
		echo:        cfg.EchoInChannel,
		countryCode: cfg.CountryCode,
		logger:      cfg.Logger,
	}
}

// Handle processes msg if it is a command and reports whether it was one.
func (ci *CommandInterpreter) Handle(ctx context.Context, msg domain.ChatMessage) bool {
	line, ok := StripPrefix(msg.Content, ci.prefix)
	if !ok {
		return false
	}
	metrics.CommandsHandled.Inc()

	cmd, err := ParseCommand(line)
	if err != nil {
		ci.logger.Info("malformed command", "author", msg.AuthorID, "err", err)
		name := cmd.Name
		var ue *UsageError
		if errors.As(err, &ue) {
			name = ue.Command
		}
		ci.reply(ctx, msg.ChannelID, UsageText(ci.prefix, name))
		return true
	}

	ci.logger.Info("command received", "command", cmd.Name, "author", msg.AuthorID, "channel", msg.ChannelID)

	switch cmd.Kind {
	case CommandHelp:
		ci.reply(ctx, msg.ChannelID, HelpText(ci.prefix, cmd.Topic))
	case CommandSend:
		ci.send(ctx, msg, cmd)
	default:
		ci.reply(ctx, msg.ChannelID, fmt.Sprintf("Unknown command `%s%s`. Type `%shelp` for available commands.", ci.prefix, cmd.Name, ci.prefix))
	}
	return true
}

func (ci *CommandInterpreter) send(ctx context.Context, msg domain.ChatMessage, cmd Command) {
	from, ok := ci.dir.PhoneNumber(msg.AuthorID)
	if !ok {
		ci.logger.Warn("send command from unlinked identity", "author", msg.AuthorID)
		ci.direct(ctx, msg.AuthorID, "Your account is not linked to a phone number, so the message was not sent.")
		return
	}

	to := phonenum.Normalize(cmd.Phone, ci.countryCode)
	if !phonenum.Possible(to) {
		ci.logger.Warn("send command to impossible number", "author", msg.AuthorID, "to", to)
		ci.reply(ctx, msg.ChannelID, fmt.Sprintf("%s is not a dialable phone number. %s", to, UsageText(ci.prefix, "msg")))
		return
	}
	if !ci.limiter.Allow(msg.AuthorID) {
		metrics.RateLimited.Inc()
		ci.logger.Warn("send command rate limited", "author", msg.AuthorID, "to", to)
		ci.direct(ctx, msg.AuthorID, fmt.Sprintf("You are sending messages too quickly. Message to %s was not sent; try again shortly.", to))
		return
	}

	id, err := ci.sender.Send(ctx, domain.OutboundSMS{From: from, To: to, Body: cmd.Body})
	if err != nil {
		metrics.SMSFailures.Inc()
		ci.logger.Error("send command failed", "from", from, "to", to, "err", err)
		ci.direct(ctx, msg.AuthorID, fmt.Sprintf("Failed to send message to %s.", to))
		if ci.echo && !msg.IsDirect {
			ci.reply(ctx, msg.ChannelID, fmt.Sprintf("Failed to send message to %s.", to))
		}
		return
	}

	metrics.SMSSent.Inc()
	ci.logger.Info("send command delivered", "from", from, "to", to, "sms_id", id)
	ci.direct(ctx, msg.AuthorID, fmt.Sprintf("Message sent successfully to %s.", to))
	if ci.echo && !msg.IsDirect {
		ci.reply(ctx, msg.ChannelID, fmt.Sprintf("Message sent to %s: %s", to, cmd.Body))
	}
}

func (ci *CommandInterpreter) reply(ctx context.Context, channelID, text string) {
	if err := ci.platform.SendChannel(ctx, channelID, text); err != nil {
		ci.logger.Error("command reply failed", "channel", channelID, "err", err)
	}
}

func (ci *CommandInterpreter) direct(ctx context.Context, identity, text string) {
	if err := ci.platform.SendDirect(ctx, identity, text); err != nil {
		ci.logger.Error("direct message failed", "identity", identity, "err", err)
	}
}
