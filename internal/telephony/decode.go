package telephony

import (
	"encoding/json"
	"fmt"
	"strconv"

	"smsbridge/internal/domain"
)

// messageRecord is one JSON:API "message" resource as returned by Flowroute.
type messageRecord struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		Body      string   `json:"body"`
		From      string   `json:"from"`
		To        string   `json:"to"`
		Timestamp string   `json:"timestamp"`
		IsMMS     flexBool `json:"is_mms"`
		Direction string   `json:"direction"`
	} `json:"attributes"`
	Relationships struct {
		Media struct {
			Data []struct {
				ID   string `json:"id"`
				Type string `json:"type"`
			} `json:"data"`
		} `json:"media"`
	} `json:"relationships"`
}

func (r messageRecord) toDomain() domain.InboundSMS {
	msg := domain.InboundSMS{
		ID:        r.ID,
		From:      r.Attributes.From,
		To:        r.Attributes.To,
		Timestamp: r.Attributes.Timestamp,
		Body:      r.Attributes.Body,
		IsMMS:     bool(r.Attributes.IsMMS),
	}
	for _, m := range r.Relationships.Media.Data {
		if m.ID != "" {
			msg.MediaIDs = append(msg.MediaIDs, m.ID)
		}
	}
	return msg
}

// flexBool accepts true/false as JSON booleans or strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("is_mms: %w", err)
	}
	if s == "" {
		*b = false
		return nil
	}
	parsed, err := strconv.ParseBool(s)
	if err != nil {
		return fmt.Errorf("is_mms: %w", err)
	}
	*b = flexBool(parsed)
	return nil
}

// DecodeMessages decodes a message list document ({"data": [...]}).
func DecodeMessages(data []byte) ([]domain.InboundSMS, error) {
	var doc struct {
		Data []messageRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]domain.InboundSMS, 0, len(doc.Data))
	for _, r := range doc.Data {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// DecodeMessage decodes a single message document ({"data": {...}}), the
// shape Flowroute posts to inbound callback URLs.
func DecodeMessage(data []byte) (domain.InboundSMS, error) {
	var doc struct {
		Data *messageRecord `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.InboundSMS{}, fmt.Errorf("decode message: %w", err)
	}
	if doc.Data == nil {
		return domain.InboundSMS{}, fmt.Errorf("decode message: missing data")
	}
	return doc.Data.toDomain(), nil
}
