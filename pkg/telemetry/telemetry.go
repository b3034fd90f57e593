package telemetry

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process-wide counters and gauges for the routing core. Registered on
// the default prometheus registry and served at /metrics.
var (
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_events_total",
		Help: "Inbound client events by type.",
	}, []string{"type"})

	EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_event_errors_total",
		Help: "Client events that failed, by error code.",
	}, []string{"code"})

	MessagesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_submitted_total",
		Help: "Messages accepted and persisted by the delivery pipeline.",
	})

	MessagesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_messages_delivered_total",
		Help: "Messages marked delivered (live ack or mailbox flush).",
	})

	MailboxEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_mailbox_enqueued_total",
		Help: "Messages queued for offline recipients.",
	})

	MailboxFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_mailbox_flushed_total",
		Help: "Messages pushed out of offline mailboxes on reconnect.",
	})

	SyncUpdatesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_sync_updates_queued_total",
		Help: "Message updates queued for offline counterparts.",
	})

	SyncUpdatesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_sync_updates_flushed_total",
		Help: "Queued message updates delivered on reconnect.",
	})

	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_online_users",
		Help: "Users with a live connection.",
	})

	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_active_calls",
		Help: "Call sessions currently tracked by the relay.",
	})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_store_errors_total",
		Help: "Durable storage failures by operation.",
	}, []string{"op"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatrelay_http_request_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "status"})
)

// Handler returns the prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the wrapped writer so websocket upgrades still work
// behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Middleware records request latency per route pattern. Websocket
// upgrades hijack the connection and are recorded with status 101.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpDuration.WithLabelValues(r.URL.Path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
