package bridge

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"smsbridge/internal/phonenum"
)

// CommandKind tags a parsed Command.
type CommandKind int

const (
	CommandUnknown CommandKind = iota
	CommandHelp
	CommandSend
)

// Command is a parsed chat command.
type Command struct {
	Kind  CommandKind
	Name  string // lower-cased command word
	Topic string // help topic, if any
	Phone string // send destination, digits only
	Body  string // send text, spacing preserved
}

// ErrUsage marks a malformed command; the caller replies with usage text.
var ErrUsage = errors.New("usage")

// UsageError describes a malformed command.
type UsageError struct {
	Command string
	Reason  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reason)
}

func (e *UsageError) Is(target error) bool { return target == ErrUsage }

// StripPrefix returns text without the command prefix and whether the prefix
// was present.
func StripPrefix(text, prefix string) (string, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(text, prefix)
	if rest == "" || unicode.IsSpace(rune(rest[0])) {
		return "", false
	}
	return rest, true
}

// ParseCommand parses a command line with its prefix already removed:
//
//	help [topic]
//	msg <phoneNumber> <message...>
//
// Anything else parses as CommandUnknown. Malformed help/msg commands return
// a *UsageError.
func ParseCommand(line string) (Command, error) {
	name, rest := cutField(line)
	name = strings.ToLower(name)

	switch name {
	case "help":
		topic, _ := cutField(rest)
		return Command{Kind: CommandHelp, Name: name, Topic: strings.ToLower(topic)}, nil

	case "msg":
		phone, body := cutField(rest)
		if phone == "" || body == "" {
			return Command{Kind: CommandSend, Name: name}, &UsageError{Command: name, Reason: "expected a phone number and a message"}
		}
		phone = strings.TrimPrefix(phone, "+")
		if !phonenum.IsDigits(phone) {
			return Command{Kind: CommandSend, Name: name}, &UsageError{Command: name, Reason: "phone number must contain digits only"}
		}
		if !phonenum.Valid(phone) {
			return Command{Kind: CommandSend, Name: name}, &UsageError{Command: name, Reason: "phone number must have 10 to 15 digits"}
		}
		return Command{Kind: CommandSend, Name: name, Phone: phone, Body: body}, nil

	default:
		return Command{Kind: CommandUnknown, Name: name}, nil
	}
}

// cutField splits s into its first whitespace-delimited field and the
// remainder with leading whitespace removed.
func cutField(s string) (field, rest string) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimLeftFunc(s[i:], unicode.IsSpace)
}

// HelpText returns the help message for topic ("" for the overview).
func HelpText(prefix, topic string) string {
	switch topic {
	case "msg":
		return fmt.Sprintf("**%smsg <PhoneNumber> <Message>**\n"+
			"Sends <Message> as an SMS from the number linked to your account.\n"+
			"<PhoneNumber> should be in the format 1NXXNXXXXXX (digits only; 10-digit numbers get the default country code).\n"+
			"Example: `%smsg 14155550100 running late, be there at 6`", prefix, prefix)
	default:
		return fmt.Sprintf("**Available Commands**\n"+
			"- `%shelp [topic]`: Shows this help message, or help for one command.\n"+
			"- `%smsg <PhoneNumber> <Message>`: Send an SMS to the specified phone number.\n"+
			"Reply to a relayed SMS that contains the sender's 10-digit number to answer by SMS.", prefix, prefix)
	}
}

// UsageText returns the one-line usage reminder for a command.
func UsageText(prefix, command string) string {
	switch command {
	case "msg":
		return fmt.Sprintf("Usage: `%smsg <PhoneNumber> <Message>`. See `%shelp msg`.", prefix, prefix)
	default:
		return fmt.Sprintf("Usage: `%shelp [topic]`.", prefix)
	}
}
