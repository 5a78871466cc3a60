// Package telephony talks to the Flowroute messaging REST API and renders
// inbound messages for the chat side.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"smsbridge/internal/domain"
)

const (
	// DefaultAPIBase is Flowroute's production API host.
	DefaultAPIBase = "https://api.flowroute.com"

	listPath = "/v2.2/messages"
	sendPath = "/v2.1/messages"

	jsonAPIContentType = "application/vnd.api+json"
	maxResponseBytes   = 4 << 20
)

// FlowrouteConfig configures the Flowroute client.
type FlowrouteConfig struct {
	AccessKey  string
	SecretKey  string
	APIBase    string        // default: https://api.flowroute.com
	Timeout    time.Duration // per-request timeout (default: 30s)
	MaxRetries *int          // send retries; nil means 3, zero or negative disables
	HTTPClient *http.Client  // optional; overrides Timeout
	Logger     *slog.Logger
}

// Flowroute implements domain.MessageSource and domain.SMSSender.
type Flowroute struct {
	accessKey  string
	secretKey  string
	apiBase    string
	maxRetries int
	client     *http.Client
	logger     *slog.Logger
}

// NewFlowroute creates a Flowroute client authenticated with HTTP Basic auth
// built from the access and secret keys.
func NewFlowroute(cfg FlowrouteConfig) *Flowroute {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	maxRetries := 3
	if cfg.MaxRetries != nil {
		maxRetries = max(*cfg.MaxRetries, 0)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Flowroute{
		accessKey:  cfg.AccessKey,
		secretKey:  cfg.SecretKey,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		maxRetries: maxRetries,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Recent lists messages received since the given time, at most limit of them.
func (f *Flowroute) Recent(ctx context.Context, since time.Time, limit int) ([]domain.InboundSMS, error) {
	q := url.Values{}
	q.Set("start_date", since.UTC().Format("2006-01-02T15:04:05Z"))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.apiBase+listPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(f.accessKey, f.secretKey)
	req.Header.Set("Accept", jsonAPIContentType)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	msgs, err := DecodeMessages(body)
	if err != nil {
		return nil, err
	}
	f.logger.Debug("flowroute messages listed", "count", len(msgs))
	return msgs, nil
}

type sendRequest struct {
	To        string   `json:"to"`
	From      string   `json:"from"`
	Body      string   `json:"body"`
	IsMMS     bool     `json:"is_mms,omitempty"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

type sendResponse struct {
	Data struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"data"`
}

// Send submits an SMS, or an MMS when media URLs are attached.
func (f *Flowroute) Send(ctx context.Context, msg domain.OutboundSMS) (string, error) {
	payload, err := json.Marshal(sendRequest{
		To:        msg.To,
		From:      msg.From,
		Body:      msg.Body,
		IsMMS:     len(msg.MediaURLs) > 0,
		MediaURLs: msg.MediaURLs,
	})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}

	resp, err := doWithRetry(ctx, f.client, f.maxRetries, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.apiBase+sendPath, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(f.accessKey, f.secretKey)
		req.Header.Set("Content-Type", jsonAPIContentType)
		req.Header.Set("Accept", jsonAPIContentType)
		return req, nil
	}, f.logger)
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", msg.To, err)
	}
	defer resp.Body.Close()

	var out sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil && err != io.EOF {
		return "", fmt.Errorf("decode send response: %w", err)
	}

	f.logger.Info("flowroute message sent", "from", msg.From, "to", msg.To, "id", out.Data.ID, "mms", len(msg.MediaURLs) > 0)
	return out.Data.ID, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
