// Package metrics provides Prometheus instrumentation for the chat
// client. It exposes counters for connection attempts and inbound frames,
// a histogram for REST call latency, and gauges for roster and timeline
// sizes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectAttempts counts every dial of the push channel, including
	// reconnection attempts.
	ConnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_connect_attempts_total",
		Help: "Total number of push-channel connection attempts",
	})

	// Reconnects counts connection attempts scheduled after an abnormal
	// close.
	Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatclient_reconnects_total",
		Help: "Total number of reconnection attempts after abnormal closes",
	})

	// FramesTotal counts inbound push frames by kind: "snapshot",
	// "delta", "text", "add_friend", "error", or "dropped" for frames
	// the decoder rejected.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatclient_frames_total",
		Help: "Total number of inbound push frames by kind",
	}, []string{"kind"})

	// RESTDuration records REST call latency in seconds per endpoint.
	RESTDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatclient_rest_request_duration_seconds",
		Help:    "REST request latency in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"endpoint"})

	// RosterSize tracks the current number of contacts in the roster.
	RosterSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_roster_size",
		Help: "Current number of contacts in the roster",
	})

	// TimelineEntries tracks the current number of messages held in the
	// session timeline across all conversations.
	TimelineEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatclient_timeline_entries",
		Help: "Current number of messages in the session timeline",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectAttempts,
		Reconnects,
		FramesTotal,
		RESTDuration,
		RosterSize,
		TimelineEntries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
