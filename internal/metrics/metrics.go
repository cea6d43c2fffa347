// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	linkCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "link",
			Name:      "commands_total",
			Help:      "Commands processed on the radio link.",
		},
		[]string{"command", "outcome"},
	)
	linkSendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "link",
			Name:      "send_failures_total",
			Help:      "Frames the radio refused to transmit.",
		},
	)
	tableUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "authtable",
			Name:      "updates_total",
			Help:      "Authorization table updates by result.",
		},
		[]string{"result"},
	)
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "access",
			Name:      "decisions_total",
			Help:      "Tag presentations by outcome.",
		},
		[]string{"granted", "reason"},
	)
	eventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "eventlog",
			Name:      "dropped_total",
			Help:      "Access events lost because the log was full.",
		},
	)
	eventsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "portunus_relay",
			Subsystem: "eventlog",
			Name:      "pending",
			Help:      "Access events waiting to be dumped or archived.",
		},
	)
	eventsArchived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "archive",
			Name:      "events_total",
			Help:      "Access events written to the archive.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portunus_relay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Admin API requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portunus_relay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			linkCommands, linkSendFailures, tableUpdates, accessDecisions,
			eventsDropped, eventsPending, eventsArchived, httpRequests, httpDuration,
		)
	})
}

func RecordLinkCommand(command, outcome string) {
	RegisterMetrics()
	linkCommands.WithLabelValues(command, outcome).Inc()
}

func RecordSendFailure() {
	RegisterMetrics()
	linkSendFailures.Inc()
}

func RecordTableUpdate(result string) {
	RegisterMetrics()
	tableUpdates.WithLabelValues(result).Inc()
}

func RecordDecision(granted bool, reason string) {
	RegisterMetrics()
	accessDecisions.WithLabelValues(strconv.FormatBool(granted), reason).Inc()
}

func RecordEventDropped() {
	RegisterMetrics()
	eventsDropped.Inc()
}

func SetEventsPending(n int) {
	RegisterMetrics()
	eventsPending.Set(float64(n))
}

func RecordArchived(n int) {
	RegisterMetrics()
	eventsArchived.Add(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
