// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package perf

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRecorderPersistsOnTickAndShutdown(t *testing.T) {
	t.Parallel()

	monitor := NewMonitor(testPerfConfig(), zerolog.Nop())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	monitor.Observe(perfSample(0.8, base), base.Add(50*time.Millisecond))

	store := NewMemorySnapshotStore()
	rec := NewRecorder(monitor, store, 10*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.Latest(context.Background()); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no snapshot persisted before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v, want context.Canceled", err)
	}

	// Shutdown flushes once more.
	snaps, err := store.Recent(context.Background(), 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(snaps) < 2 {
		t.Fatalf("len(snaps) = %d, want at least 2 (tick + shutdown)", len(snaps))
	}
	if snaps[0].SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", snaps[0].SampleCount)
	}
}
