package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsProcessed tracks inbound packets dispatched by the session loop.
	PacketsProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "packets_processed_total",
			Help:      "Total number of packets processed by the session loop",
		},
		[]string{"kind", "status"}, // data/ping/pong/ip_renewal/disconnect, success/failure
	)

	// ReplayAttacksDetected tracks packets dropped for a non-increasing counter.
	ReplayAttacksDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "replay_attacks_detected_total",
			Help:      "Total number of data packets dropped by the replay counter check",
		},
	)

	// CounterValidations tracks the outcome of the per-session replay counter check.
	CounterValidations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "counter_validations_total",
			Help:      "Total number of replay counter validations",
		},
		[]string{"status"}, // accepted, replayed
	)

	// PacketProcessingDuration tracks per-packet dispatch latency.
	PacketProcessingDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "processing_duration_seconds",
			Help:      "Packet dispatch duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to 204.8ms
		},
	)

	// PacketSize tracks wire packet sizes.
	PacketSize = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "data",
			Name:      "size_bytes",
			Help:      "Packet size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MB
		},
		[]string{"direction"}, // inbound, outbound
	)
)
