// Package metrics contains the Prometheus collectors exported by the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes used as the "status" label.
const (
	StatusOK         = "ok"
	StatusDisconnect = "disconnect"
	StatusError      = "error"
)

var (
	// RequestsTotal counts completed requests by subtest and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_requests_total",
			Help: "Number of requests by subtest and outcome.",
		},
		[]string{"subtest", "status"},
	)

	// BytesTotal counts payload bytes sent or received by subtest.
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speedtest_transfer_bytes_total",
			Help: "Payload bytes transferred by subtest.",
		},
		[]string{"subtest"},
	)

	// TransferDuration is a histogram of the time spent transferring
	// payloads.
	TransferDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speedtest_transfer_duration_seconds",
			Help:    "Time spent transferring a payload, by subtest.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"subtest"},
	)

	// ActiveTransfers is the number of transfers in progress.
	ActiveTransfers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "speedtest_active_transfers",
			Help: "Number of transfers in progress, by subtest.",
		},
		[]string{"subtest"},
	)
)
