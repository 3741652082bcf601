// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package metrics registers Prometheus instrumentation for the relay
// publisher, the ingestion pipeline, and the websocket feed. All metrics
// are registered via promauto on the default registry and exposed at
// /metrics by the HTTP server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Relay (producer side) metrics.

	RelayPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackrelay_relay_pushes_total",
			Help: "Samples handed to a delivery channel, by channel",
		},
		[]string{"channel"}, // "immediate", "latest", "queued"
	)

	RelayThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_relay_throttled_total",
			Help: "Latest-channel pushes skipped by the throttle",
		},
	)

	RelayFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_relay_fallbacks_total",
			Help: "Immediate-channel failures that fell back to the queued channel",
		},
	)

	RelayRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_relay_retries_total",
			Help: "Queued-transfer retry attempts",
		},
	)

	RelayAbandoned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_relay_abandoned_total",
			Help: "Queued transfers abandoned after the retry budget was exhausted",
		},
	)

	RelayPendingTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackrelay_relay_pending_transfers",
			Help: "Queued transfers awaiting acknowledgement",
		},
	)

	RelayBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackrelay_relay_breaker_open",
			Help: "1 when the queued-channel circuit breaker is open (delivery degraded)",
		},
	)

	// Ingestion (consumer side) metrics.

	IngestAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_ingest_accepted_total",
			Help: "Samples accepted into history",
		},
	)

	IngestDedupDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_ingest_dedup_drops_total",
			Help: "Samples dropped as duplicates of an already-admitted sequence",
		},
	)

	IngestQualityDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trackrelay_ingest_quality_drops_total",
			Help: "Samples rejected by the quality gate, by reason",
		},
		[]string{"reason"}, // "accuracy", "jump"
	)

	IngestDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trackrelay_ingest_decode_errors_total",
			Help: "Wire payloads that failed to decode",
		},
	)

	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trackrelay_ingest_latency_seconds",
			Help:    "Capture-to-acceptance latency of accepted samples",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~200s
		},
	)

	IngestHistorySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackrelay_ingest_history_size",
			Help: "Samples currently retained in the history buffer",
		},
	)

	// Websocket feed metrics.

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trackrelay_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)
