// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts frames read from each monitored interface
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_capture_packets_total",
			Help: "Total number of frames captured",
		},
		[]string{"interface"},
	)

	// CaptureErrorsTotal counts capture read errors
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_capture_errors_total",
			Help: "Total number of capture read errors",
		},
		[]string{"interface"},
	)

	// MonitorStatus reports the init status code of each monitor (0 = running)
	MonitorStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netsensor_monitor_status",
			Help: "Interface monitor init status (0=ok, negative=failed step)",
		},
		[]string{"interface"},
	)

	// QueueDepth tracks the number of frames waiting in each queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netsensor_queue_depth",
			Help: "Number of frames waiting in the queue",
		},
		[]string{"queue"},
	)

	// QueueBackpressureTotal counts producer waits on a full queue
	QueueBackpressureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_queue_backpressure_total",
			Help: "Total number of enqueue attempts that found the queue full",
		},
		[]string{"queue"},
	)

	// HandlerDropsTotal counts frames the handler discarded
	HandlerDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_handler_drops_total",
			Help: "Total number of frames dropped by the handler",
		},
		[]string{"reason"}, // non_ipv4 | malformed | unsupported | panic | unknown_interface
	)

	// HandlerStepSeconds measures topology/traffic step latency
	HandlerStepSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netsensor_handler_step_seconds",
			Help:    "Latency of handler steps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"step"},
	)

	// HandlerSlowStepsTotal counts steps slower than the configured threshold
	HandlerSlowStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_handler_slow_steps_total",
			Help: "Total number of handler steps exceeding the slow threshold",
		},
		[]string{"step"},
	)

	// TableEntries tracks the number of entries in each table
	TableEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "netsensor_table_entries",
			Help: "Current number of entries per table",
		},
		[]string{"table"},
	)

	// EvictionsTotal counts entries removed by the cleaner
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_evictions_total",
			Help: "Total number of entries evicted by the cleaner",
		},
		[]string{"table"},
	)

	// CleanerBudgetExhaustedTotal counts cleaning cycles that ran out of budget
	CleanerBudgetExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netsensor_cleaner_budget_exhausted_total",
			Help: "Total number of cleaning cycles that exhausted their budget",
		},
	)

	// RTTSamplesTotal counts RTT samples taken
	RTTSamplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_rtt_samples_total",
			Help: "Total number of TCP round-trip samples",
		},
		[]string{"interface"},
	)

	// RTTSeconds is the distribution of RTT samples
	RTTSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "netsensor_rtt_seconds",
			Help:    "TCP round-trip time samples in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16), // 100µs to ~3s
		},
	)

	// ReporterMessagesTotal counts delivered snapshot messages
	ReporterMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_reporter_messages_total",
			Help: "Total number of snapshot messages sent",
		},
		[]string{"datatype"},
	)

	// ReporterBytesTotal counts delivered snapshot bytes
	ReporterBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_reporter_bytes_total",
			Help: "Total number of snapshot bytes sent",
		},
		[]string{"datatype"},
	)

	// ReporterErrorsTotal counts delivery failures
	ReporterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netsensor_reporter_errors_total",
			Help: "Total number of snapshot delivery errors",
		},
		[]string{"datatype", "transport"},
	)
)

// Drop reasons for HandlerDropsTotal
const (
	DropNonIPv4          = "non_ipv4"
	DropMalformed        = "malformed"
	DropUnsupported      = "unsupported"
	DropPanic            = "panic"
	DropUnknownInterface = "unknown_interface"
)
