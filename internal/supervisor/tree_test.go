// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	name   string
	starts atomic.Int64
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func TestTreeRunsServicesInAllLayers(t *testing.T) {
	t.Parallel()

	tree := NewTree(slog.New(slog.DiscardHandler), DefaultTreeConfig())

	relaySvc := &countingService{name: "relay-svc"}
	ingestSvc := &countingService{name: "ingest-svc"}
	apiSvc := &countingService{name: "api-svc"}
	tree.AddRelayService(relaySvc)
	tree.AddIngestService(ingestSvc)
	tree.AddAPIService(apiSvc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for relaySvc.starts.Load() == 0 || ingestSvc.starts.Load() == 0 || apiSvc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("services not started: relay=%d ingest=%d api=%d",
				relaySvc.starts.Load(), ingestSvc.starts.Load(), apiSvc.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve returned %v", err)
	}
}

func TestTreeRestartsCrashedService(t *testing.T) {
	t.Parallel()

	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	tree := NewTree(slog.New(slog.DiscardHandler), cfg)

	crashes := &crashingService{failures: 2, recovered: make(chan struct{})}
	tree.AddIngestService(crashes)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	select {
	case <-crashes.recovered:
	case <-ctx.Done():
		t.Fatal("service was not restarted after crashing")
	}

	cancel()
	<-done
}

type crashingService struct {
	failures  int
	attempts  atomic.Int64
	recovered chan struct{}
	once      atomic.Bool
}

func (s *crashingService) Serve(ctx context.Context) error {
	n := s.attempts.Add(1)
	if int(n) <= s.failures {
		return errors.New("synthetic crash")
	}
	if s.once.CompareAndSwap(false, true) {
		close(s.recovered)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *crashingService) String() string { return "crashing-svc" }
