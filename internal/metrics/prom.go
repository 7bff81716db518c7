package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn kinds for RecordTurn.
const (
	TurnText     = "text"
	TurnFrames   = "frames"
	TurnDegraded = "degraded"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "liverelay_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "server"},
		},
		[]string{"date", "sha", "version"},
	)

	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liverelay_connections_total",
			Help: "WebSocket connections accepted",
		},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liverelay_active_connections",
			Help: "WebSocket connections currently open",
		},
	)

	upstreamSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_upstream_sessions_total",
			Help: "Upstream session attempts by outcome",
		},
		[]string{"outcome"},
	)

	turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_turns_total",
			Help: "Turns submitted upstream by kind",
		},
		[]string{"kind"},
	)

	framesRelayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liverelay_frames_relayed_total",
			Help: "Image frames forwarded upstream",
		},
	)

	turnBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liverelay_turn_bytes",
			Help:    "Decoded frame bytes per turn",
			Buckets: prometheus.ExponentialBuckets(64*1024, 2, 9),
		},
	)

	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liverelay_events_total",
			Help: "Events delivered to clients by type",
		},
		[]string{"type"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liverelay_turn_duration_seconds",
			Help:    "Time from turn submission to turnComplete",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with r.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, connectionsTotal, activeConnections, upstreamSessions, turns, framesRelayed, turnBytes, events, turnDuration)
}

// SetServerBuildInfo sets the build info metric.
func SetServerBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// ConnectionOpened counts an accepted connection.
func ConnectionOpened() {
	connectionsTotal.Inc()
	activeConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func ConnectionClosed() { activeConnections.Dec() }

// RecordUpstreamSession counts a session attempt; outcome is "open",
// "error" or "closed".
func RecordUpstreamSession(outcome string) {
	upstreamSessions.WithLabelValues(outcome).Inc()
}

// RecordTurn counts one submitted turn carrying frames frames whose
// decoded size is bytes.
func RecordTurn(kind string, frames int, bytes int64) {
	turns.WithLabelValues(kind).Inc()
	if frames > 0 {
		framesRelayed.Add(float64(frames))
		turnBytes.Observe(float64(bytes))
	}
}

// RecordEvent counts an event of the given type sent to a client.
func RecordEvent(typ string) { events.WithLabelValues(typ).Inc() }

// ObserveTurnDuration records submission-to-completion latency.
func ObserveTurnDuration(d time.Duration) { turnDuration.Observe(d.Seconds()) }
