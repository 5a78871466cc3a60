package telephony

import (
	"strings"
	"time"

	"smsbridge/internal/domain"
)

// DisplayLayout renders timestamps as yyyy-MM-dd hh:mm:ss AM/PM.
const DisplayLayout = "2006-01-02 03:04:05 PM"

// timestampLayouts are tried in order; layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Formatter renders inbound messages as chat text.
type Formatter struct {
	MediaBaseURL string         // prefix joined with each MMS media id
	Location     *time.Location // display zone (default: time.Local)
}

// Format renders From/To/Timestamp/Body lines plus one Media URL line per
// MMS attachment. Every line ends with a newline.
func (f Formatter) Format(msg domain.InboundSMS) string {
	var sb strings.Builder
	sb.WriteString("From: " + msg.From + "\n")
	sb.WriteString("To: " + msg.To + "\n")
	sb.WriteString("Timestamp: " + f.Timestamp(msg.Timestamp) + "\n")
	sb.WriteString("Body: " + msg.Body + "\n")
	if msg.IsMMS {
		for _, id := range msg.MediaIDs {
			sb.WriteString("Media URL: " + f.MediaBaseURL + id + "\n")
		}
	}
	return sb.String()
}

// Timestamp converts a provider timestamp to the display zone. Unparseable
// input is returned verbatim.
func (f Formatter) Timestamp(raw string) string {
	t, ok := ParseTimestamp(raw)
	if !ok {
		return raw
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DisplayLayout)
}

// ParseTimestamp parses a provider ISO-8601 timestamp.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
