// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/trackrelay/internal/logging"
	"github.com/tomtom215/trackrelay/internal/transport"
)

// End-to-end through the real transport: payloads published on all three
// channels land in the pipeline exactly once each.
func TestConsumerDrainsAllChannels(t *testing.T) {
	t.Parallel()

	tr := transport.New(transport.DefaultConfig(), logging.With("consumer-test"))
	t.Cleanup(func() { _ = tr.Close() })
	tr.SetReachable(true)

	p := newTestPipeline(t)
	c := NewConsumer(tr, p, logging.With("consumer-test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()

	// Give the subscriptions a moment to attach.
	time.Sleep(50 * time.Millisecond)

	if err := tr.SendImmediate(ctx, encode(t, makeSample(1, testBase))); err != nil {
		t.Fatalf("SendImmediate: %v", err)
	}
	if err := tr.PushLatest(ctx, encode(t, makeSample(2, testBase.Add(time.Second)))); err != nil {
		t.Fatalf("PushLatest: %v", err)
	}
	if err := tr.Enqueue(ctx, "h-1", encode(t, makeSample(3, testBase.Add(2*time.Second)))); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if c := p.CountersSnapshot(); c.Accepted == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("accepted = %d, want 3", p.CountersSnapshot().Accepted)
		case <-time.After(10 * time.Millisecond):
		}
	}

	latest, ok := p.Latest()
	if !ok || latest.Sequence != 3 {
		t.Errorf("latest sequence = %d ok=%v, want 3", latest.Sequence, ok)
	}
}

// A sample duplicated across two channels is accepted once.
func TestConsumerCrossChannelDedup(t *testing.T) {
	t.Parallel()

	tr := transport.New(transport.DefaultConfig(), logging.With("consumer-test"))
	t.Cleanup(func() { _ = tr.Close() })
	tr.SetReachable(true)

	p := newTestPipeline(t)
	c := NewConsumer(tr, p, logging.With("consumer-test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)

	payload := encode(t, makeSample(1, testBase))
	if err := tr.SendImmediate(ctx, payload); err != nil {
		t.Fatalf("SendImmediate: %v", err)
	}
	if err := tr.Enqueue(ctx, "h-dup", payload); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		c := p.CountersSnapshot()
		if c.Accepted+c.DedupDrops == 2 {
			if c.Accepted != 1 || c.DedupDrops != 1 {
				t.Fatalf("accepted=%d dedup=%d, want 1 and 1", c.Accepted, c.DedupDrops)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("outcomes incomplete: %+v", p.CountersSnapshot())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
