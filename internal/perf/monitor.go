// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package perf tracks end-to-end delivery latency and battery drain for
// accepted samples, and persists periodic snapshots to the shared store.
package perf

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/config"
	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// Snapshot is a point-in-time view of delivery performance. It is what
// gets persisted and what the API serves.
type Snapshot struct {
	CapturedAt time.Time `json:"captured_at"`

	SampleCount       int     `json:"sample_count"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
	P95LatencySeconds float64 `json:"p95_latency_seconds"`

	// Drain rates are percent of battery per hour.
	InstantDrainRate  float64 `json:"instant_drain_rate"`
	SmoothedDrainRate float64 `json:"smoothed_drain_rate"`

	LinkReachable bool `json:"link_reachable"`
}

// Monitor accumulates latency and drain observations. It implements the
// ingest pipeline's performance sink.
type Monitor struct {
	cfg    config.PerfConfig
	logger zerolog.Logger

	mu        sync.Mutex
	latencies []time.Duration

	lastPower     float64
	lastPowerAt   time.Time
	hasPower      bool
	instantDrain  float64
	smoothedDrain float64
	hasDrain      bool

	reachable bool

	now func() time.Time
}

// NewMonitor creates a monitor with an empty observation window.
func NewMonitor(cfg config.PerfConfig, logger zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:       cfg,
		logger:    logger,
		latencies: make([]time.Duration, 0, cfg.LatencyWindow),
		now:       time.Now,
	}
}

// Observe records one accepted sample: its wire latency, and a battery
// drain reading when the sample carries a power level.
func (m *Monitor) Observe(sample telemetry.Sample, receivedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latency := receivedAt.Sub(sample.Timestamp)
	if latency < 0 {
		latency = 0
	}
	if len(m.latencies) == m.cfg.LatencyWindow {
		copy(m.latencies, m.latencies[1:])
		m.latencies = m.latencies[:len(m.latencies)-1]
	}
	m.latencies = append(m.latencies, latency)

	m.observePower(sample.PowerLevel, receivedAt)
}

// observePower computes drain rates. A new rate is only taken once the
// configured minimum interval has elapsed, to keep short-term charge
// estimate jitter out of the rate. Charging intervals clamp to zero
// rather than reporting a negative drain.
func (m *Monitor) observePower(power float64, at time.Time) {
	if !m.hasPower {
		m.lastPower = power
		m.lastPowerAt = at
		m.hasPower = true
		return
	}

	elapsed := at.Sub(m.lastPowerAt)
	if elapsed < m.cfg.DrainMinInterval {
		return
	}

	instant := (m.lastPower - power) / elapsed.Hours() * 100
	if instant < 0 {
		instant = 0
	}
	m.instantDrain = instant
	if m.hasDrain {
		m.smoothedDrain = m.cfg.DrainSmoothingAlpha*instant + (1-m.cfg.DrainSmoothingAlpha)*m.smoothedDrain
	} else {
		m.smoothedDrain = instant
		m.hasDrain = true
	}
	m.lastPower = power
	m.lastPowerAt = at
}

// SetReachable records companion link reachability for the snapshot.
func (m *Monitor) SetReachable(reachable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reachable = reachable
}

// Snapshot summarizes the current window. The p95 is nearest-rank over
// the sorted window.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		CapturedAt:        m.now(),
		SampleCount:       len(m.latencies),
		InstantDrainRate:  m.instantDrain,
		SmoothedDrainRate: m.smoothedDrain,
		LinkReachable:     m.reachable,
	}
	if len(m.latencies) == 0 {
		return snap
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	snap.AvgLatencySeconds = (total / time.Duration(len(sorted))).Seconds()

	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	snap.P95LatencySeconds = sorted[rank].Seconds()
	return snap
}
