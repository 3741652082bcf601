// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package perf

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Recorder periodically persists monitor snapshots to the store. It
// runs as a supervised service.
type Recorder struct {
	monitor  *Monitor
	store    SnapshotStore
	interval time.Duration
	logger   zerolog.Logger
}

// NewRecorder wires a monitor to a snapshot store.
func NewRecorder(monitor *Monitor, store SnapshotStore, interval time.Duration, logger zerolog.Logger) *Recorder {
	return &Recorder{
		monitor:  monitor,
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Serve flushes a snapshot every interval until the context ends, plus
// a final flush on shutdown so the last window is not lost.
func (r *Recorder) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	snap := r.monitor.Snapshot()
	if err := r.store.Save(ctx, snap); err != nil {
		r.logger.Error().Err(err).Msg("failed to persist performance snapshot")
		return
	}
	r.logger.Debug().
		Int("samples", snap.SampleCount).
		Float64("avg_latency_s", snap.AvgLatencySeconds).
		Float64("p95_latency_s", snap.P95LatencySeconds).
		Float64("smoothed_drain", snap.SmoothedDrainRate).
		Msg("performance snapshot persisted")
}

// String names the service in supervisor logs.
func (r *Recorder) String() string { return "perf-recorder" }
