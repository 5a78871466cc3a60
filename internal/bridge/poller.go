package bridge

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"smsbridge/internal/domain"
	"smsbridge/internal/metrics"
	"smsbridge/internal/telephony"
)

// RelayPolicy chooses which newly seen messages of a cycle reach chat.
type RelayPolicy string

const (
	// PolicyAll relays every newly seen message, oldest first.
	PolicyAll RelayPolicy = "all"
	// PolicyLatest relays only the most recent new message of a cycle; the
	// others are still marked as seen and never relayed.
	PolicyLatest RelayPolicy = "latest"
)

// Select applies the policy to a cycle's new messages (oldest first).
func (p RelayPolicy) Select(fresh []domain.InboundSMS) []domain.InboundSMS {
	if p == PolicyLatest && len(fresh) > 1 {
		return fresh[len(fresh)-1:]
	}
	return fresh
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Source   domain.MessageSource
	Seen     *SeenSet
	Lookback time.Duration // default: 24h
	Limit    int           // default: 20
	Logger   *slog.Logger
}

// Poller fetches recent inbound messages and yields the ones not relayed yet.
type Poller struct {
	source   domain.MessageSource
	seen     *SeenSet
	lookback time.Duration
	limit    int
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoller creates a Poller.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.Seen == nil {
		cfg.Seen = NewSeenSet()
	}
	return &Poller{
		source:   cfg.Source,
		seen:     cfg.Seen,
		lookback: cfg.Lookback,
		limit:    cfg.Limit,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Poll runs one fetch and returns the newly seen messages, oldest first.
// Provider failures are logged and yield an empty result; the next cycle
// simply tries again.
func (p *Poller) Poll(ctx context.Context) []domain.InboundSMS {
	start := time.Now()
	msgs, err := p.source.Recent(ctx, p.now().Add(-p.lookback), p.limit)
	metrics.PollLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() == nil {
			metrics.PollErrors.Inc()
			p.logger.Warn("inbound poll failed", "err", err)
		}
		return nil
	}
	metrics.InboundPolled.Add(float64(len(msgs)))
	return p.Admit(msgs)
}

// Admit orders msgs chronologically and marks and returns those not seen
// before. Messages without an id cannot be deduplicated and are skipped.
func (p *Poller) Admit(msgs []domain.InboundSMS) []domain.InboundSMS {
	ordered := make([]domain.InboundSMS, len(msgs))
	copy(ordered, msgs)
	sortChronologically(ordered)

	var fresh []domain.InboundSMS
	for _, m := range ordered {
		if m.ID == "" {
			p.logger.Warn("inbound message without id skipped", "from", m.From, "to", m.To)
			continue
		}
		if !p.seen.MarkIfNew(m.ID) {
			metrics.InboundDuplicates.Inc()
			continue
		}
		fresh = append(fresh, m)
	}
	return fresh
}

// sortChronologically orders msgs by parsed timestamp. If any timestamp
// does not parse, the provider order is kept as is.
func sortChronologically(msgs []domain.InboundSMS) {
	type stamped struct {
		msg domain.InboundSMS
		at  time.Time
	}
	items := make([]stamped, len(msgs))
	for i, m := range msgs {
		t, ok := telephony.ParseTimestamp(m.Timestamp)
		if !ok {
			return
		}
		items[i] = stamped{msg: m, at: t}
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].at.Before(items[j].at) })
	for i := range items {
		msgs[i] = items[i].msg
	}
}
