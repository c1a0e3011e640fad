package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptureTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "capture_ticks_total",
		Help:      "Capture gate ticks by resulting flow state",
	}, []string{"state"})

	ReviewRemovals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "review_removals_total",
		Help:      "Samples dropped by the post-capture review, by reason",
	}, []string{"reason"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "verifications_total",
		Help:      "Verification attempts by action and reason code",
	}, []string{"action", "reason"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "att",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	EvidenceAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "att",
		Name:      "evidence_encode_attempts",
		Help:      "Encode attempts needed to fit evidence into its byte budget",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	ActiveCaptureSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "att",
		Name:      "active_capture_sessions",
		Help:      "Number of enrollment capture sessions currently open",
	})

	ReplicatedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "att",
		Name:      "replicated_events_total",
		Help:      "Attendance events pushed upstream, by result",
	}, []string{"result"})

	PendingSyncEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "att",
		Name:      "pending_sync_events",
		Help:      "Events still waiting for replication",
	})

	StreamMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "att",
		Name:      "stream_messages",
		Help:      "Messages held in the upstream attendance stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "att",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "att",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
