// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/trackrelay/internal/config"
	"github.com/tomtom215/trackrelay/internal/logging"
	"github.com/tomtom215/trackrelay/internal/telemetry"
	"github.com/tomtom215/trackrelay/internal/transport"
)

type fakeImmediate struct {
	mu    sync.Mutex
	sent  int
	fails int
}

func (f *fakeImmediate) SendImmediate(_ context.Context, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("send failed")
	}
	f.sent++
	return nil
}

func (f *fakeImmediate) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type fakeLatest struct {
	mu     sync.Mutex
	pushes int
}

func (f *fakeLatest) PushLatest(_ context.Context, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	return nil
}

func (f *fakeLatest) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

type fakeQueued struct {
	mu          sync.Mutex
	enqueues    []string
	completions chan transport.TransferResult
}

func newFakeQueued() *fakeQueued {
	return &fakeQueued{completions: make(chan transport.TransferResult, 16)}
}

func (f *fakeQueued) Enqueue(_ context.Context, handle string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueues = append(f.enqueues, handle)
	return nil
}

func (f *fakeQueued) Completions() <-chan transport.TransferResult {
	return f.completions
}

func (f *fakeQueued) enqueueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.enqueues)
}

func (f *fakeQueued) lastHandle() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.enqueues) == 0 {
		return ""
	}
	return f.enqueues[len(f.enqueues)-1]
}

type fakeLink struct {
	up        bool
	keepalive bool
}

func (f *fakeLink) Reachable() bool       { return f.up }
func (f *fakeLink) KeepaliveActive() bool { return f.keepalive }

func testRelayConfig() config.RelayConfig {
	return config.RelayConfig{
		Source:                  "watch",
		ThrottleInterval:        500 * time.Millisecond,
		AccuracyBypassDelta:     5.0,
		RetryInitialInterval:    time.Millisecond,
		RetryMaxInterval:        5 * time.Millisecond,
		RetryMaxElapsed:         50 * time.Millisecond,
		BreakerFailureThreshold: 5,
		BreakerRecoveryTimeout:  time.Second,
		EventBuffer:             64,
	}
}

func sampleWithAccuracy(acc float64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp:          time.Now().UTC(),
		Latitude:           47.62,
		Longitude:          -122.35,
		HorizontalAccuracy: acc,
		PowerLevel:         0.8,
	}
}

func newTestPublisher(t *testing.T, link *fakeLink) (*Publisher, *fakeImmediate, *fakeLatest, *fakeQueued) {
	t.Helper()
	imm := &fakeImmediate{}
	latest := &fakeLatest{}
	queued := newFakeQueued()
	pub, err := NewPublisher(testRelayConfig(), imm, latest, queued, link, logging.With("relay-test"))
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	t.Cleanup(pub.Stop)
	return pub, imm, latest, queued
}

// Clock controlled throttle test straight from the delivery contract:
// two samples 0.3s apart with a 2m accuracy change yield one latest push;
// a third 0.1s later with a 6m accuracy improvement bypasses the throttle.
func TestLatestThrottleAndAccuracyBypass(t *testing.T) {
	t.Parallel()

	pub, _, latest, _ := newTestPublisher(t, &fakeLink{up: true})

	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	now := base
	pub.now = func() time.Time { return now }

	ctx := context.Background()

	if err := pub.Publish(ctx, sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if latest.pushCount() != 1 {
		t.Fatalf("pushes after first sample = %d, want 1", latest.pushCount())
	}

	now = base.Add(300 * time.Millisecond)
	if err := pub.Publish(ctx, sampleWithAccuracy(12)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if latest.pushCount() != 1 {
		t.Errorf("pushes after throttled sample = %d, want 1", latest.pushCount())
	}

	now = base.Add(400 * time.Millisecond)
	if err := pub.Publish(ctx, sampleWithAccuracy(4)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if latest.pushCount() != 2 {
		t.Errorf("pushes after accuracy bypass = %d, want 2", latest.pushCount())
	}
}

func TestUnreachableRoutesEverythingQueued(t *testing.T) {
	t.Parallel()

	pub, imm, _, queued := newTestPublisher(t, &fakeLink{up: false})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if err := pub.Publish(ctx, sampleWithAccuracy(10)); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	if imm.sentCount() != 0 {
		t.Errorf("immediate sends = %d, want 0 while unreachable", imm.sentCount())
	}
	if queued.enqueueCount() != 100 {
		t.Errorf("queued enqueues = %d, want 100", queued.enqueueCount())
	}
}

func TestReachableUsesImmediateOnly(t *testing.T) {
	t.Parallel()

	pub, imm, _, queued := newTestPublisher(t, &fakeLink{up: true})

	if err := pub.Publish(context.Background(), sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if imm.sentCount() != 1 {
		t.Errorf("immediate sends = %d, want 1", imm.sentCount())
	}
	if queued.enqueueCount() != 0 {
		t.Errorf("queued enqueues = %d, want 0 on immediate success", queued.enqueueCount())
	}
}

func TestImmediateFailureFallsBackToQueued(t *testing.T) {
	t.Parallel()

	pub, imm, _, queued := newTestPublisher(t, &fakeLink{up: true})
	imm.fails = 1

	events := pub.Subscribe()
	if err := pub.Publish(context.Background(), sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if queued.enqueueCount() != 1 {
		t.Fatalf("queued enqueues = %d, want 1 after fallback", queued.enqueueCount())
	}

	sawFallback := false
	for len(events) > 0 {
		if ev := <-events; ev.Kind == EventFallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Error("fallback event not emitted")
	}
}

func TestCompletionSuccessRemovesPending(t *testing.T) {
	t.Parallel()

	pub, _, _, queued := newTestPublisher(t, &fakeLink{up: false})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = pub.Serve(ctx)
		close(done)
	}()

	if err := pub.Publish(ctx, sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.PendingTransfers() != 1 {
		t.Fatalf("pending = %d, want 1", pub.PendingTransfers())
	}

	queued.completions <- transport.TransferResult{Handle: queued.lastHandle()}

	deadline := time.After(time.Second)
	for pub.PendingTransfers() != 0 {
		select {
		case <-deadline:
			t.Fatal("pending transfer not settled within 1s")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestCompletionFailureRetriesSameSample(t *testing.T) {
	t.Parallel()

	pub, _, _, queued := newTestPublisher(t, &fakeLink{up: false})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Serve(ctx) }()

	if err := pub.Publish(ctx, sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	handle := queued.lastHandle()

	queued.completions <- transport.TransferResult{Handle: handle, Err: errors.New("boom")}

	deadline := time.After(time.Second)
	for queued.enqueueCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("no retry enqueue within 1s")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if queued.lastHandle() != handle {
		t.Errorf("retry used handle %s, want original %s", queued.lastHandle(), handle)
	}
	if pub.PendingTransfers() != 1 {
		t.Errorf("pending = %d, want 1 while retrying", pub.PendingTransfers())
	}
}

func TestRetryBudgetExhaustionAbandons(t *testing.T) {
	t.Parallel()

	pub, _, _, queued := newTestPublisher(t, &fakeLink{up: false})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = pub.Serve(ctx) }()

	events := pub.Subscribe()

	if err := pub.Publish(ctx, sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	handle := queued.lastHandle()

	// Keep failing until the elapsed budget (50ms in the test config) runs out.
	abandoned := make(chan struct{})
	go func() {
		for ev := range events {
			if ev.Kind == EventAbandoned {
				close(abandoned)
				return
			}
		}
	}()

	failUntilAbandoned := time.After(2 * time.Second)
	for {
		select {
		case <-abandoned:
			if pub.PendingTransfers() != 0 {
				t.Errorf("pending = %d, want 0 after abandonment", pub.PendingTransfers())
			}
			return
		case <-failUntilAbandoned:
			t.Fatal("transfer not abandoned within 2s")
		case <-time.After(2 * time.Millisecond):
			select {
			case queued.completions <- transport.TransferResult{Handle: handle, Err: errors.New("boom")}:
			default:
			}
		}
	}
}

func TestPublishAssignsMonotonicSequence(t *testing.T) {
	t.Parallel()

	pub, _, _, queued := newTestPublisher(t, &fakeLink{up: false})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := pub.Publish(ctx, sampleWithAccuracy(10)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if queued.enqueueCount() != 5 {
		t.Fatalf("enqueues = %d, want 5", queued.enqueueCount())
	}
	if pub.nextSeq != 6 {
		t.Errorf("nextSeq = %d, want 6 after five samples", pub.nextSeq)
	}
}

func TestPublishEncodeFailureIsDistinct(t *testing.T) {
	t.Parallel()

	pub, _, _, queued := newTestPublisher(t, &fakeLink{up: false})

	bad := sampleWithAccuracy(10)
	bad.Latitude = 200 // out of range, fails validation inside encode

	err := pub.Publish(context.Background(), bad)
	if !errors.Is(err, telemetry.ErrEncode) {
		t.Fatalf("Publish err = %v, want ErrEncode", err)
	}
	if queued.enqueueCount() != 0 {
		t.Errorf("enqueues = %d, want 0 when encoding failed", queued.enqueueCount())
	}
}

func TestPublisherExposesLinkSignals(t *testing.T) {
	t.Parallel()

	pub, _, _, _ := newTestPublisher(t, &fakeLink{up: true, keepalive: true})
	if !pub.LinkReachable() {
		t.Error("LinkReachable() = false, want true")
	}
	if !pub.KeepaliveActive() {
		t.Error("KeepaliveActive() = false, want true")
	}

	pub2, _, _, _ := newTestPublisher(t, &fakeLink{up: false, keepalive: false})
	if pub2.LinkReachable() || pub2.KeepaliveActive() {
		t.Error("link signals should read false when the transport reports them down")
	}
}

func TestStopClearsThrottleState(t *testing.T) {
	t.Parallel()

	pub, _, _, _ := newTestPublisher(t, &fakeLink{up: true})
	if err := pub.Publish(context.Background(), sampleWithAccuracy(10)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.Stop()

	if !pub.state.lastPush.IsZero() {
		t.Error("throttle state should be cleared by Stop")
	}
	// Stop is idempotent.
	pub.Stop()
}
