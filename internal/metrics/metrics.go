// Package metrics holds the bridge's Prometheus instruments. They live on a
// private registry so the exposition only carries smsbridge series plus the
// standard Go and process collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "smsbridge"

// Registry is the process-wide registry served by Handler.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Inbound side.
var (
	InboundPolled = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "inbound_polled_total",
		Help: "Inbound messages returned by the provider.",
	})
	InboundDuplicates = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "inbound_duplicates_total",
		Help: "Inbound messages skipped as already relayed.",
	})
	PollErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "poll_errors_total",
		Help: "Failed inbound poll cycles.",
	})
	PollLatency = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "poll_latency_seconds",
		Help:    "Latency of one provider list request.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
	CallbacksReceived = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "callbacks_received_total",
		Help: "Inbound provider callbacks accepted.",
	})
)

// Relay to chat. Relayed is split by delivery path.
var (
	Relayed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "relayed_total",
		Help: "Messages relayed to chat, by path.",
	}, []string{"path"})
	RelayedDirect   = Relayed.WithLabelValues("direct")
	RelayedFallback = Relayed.WithLabelValues("fallback")

	RelayDropped = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "relay_dropped_total",
		Help: "Messages dropped for lack of a directory entry.",
	})
	RelayFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "relay_failures_total",
		Help: "Chat delivery failures.",
	})
	ChatReady = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "chat_ready",
		Help: "1 once the chat session is ready.",
	})
)

// Chat to SMS.
var (
	SMSSent = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sms_sent_total",
		Help: "Messages accepted by the telephony provider.",
	})
	SMSFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "sms_failures_total",
		Help: "Telephony send failures.",
	})
	CommandsHandled = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "commands_total",
		Help: "Chat commands handled.",
	})
	RepliesRelayed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "replies_total",
		Help: "Chat replies relayed as SMS.",
	})
	RepliesRejected = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "replies_rejected_total",
		Help: "Chat replies not relayed.",
	})
	RateLimited = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "rate_limited_total",
		Help: "Sends refused by the per-sender limiter.",
	})
)

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
