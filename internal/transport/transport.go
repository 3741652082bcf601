// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package transport provides the three delivery channels between the
// wearable producer and the companion consumer, built on Watermill's
// in-process Pub/Sub.
//
// The three channels carry distinct guarantees:
//
//   - Immediate: valid only while the link is reachable; no retry of its
//     own, the caller falls back to the queued channel on failure.
//   - Latest: always accepted; consumer keeps only the newest value.
//   - Queued: always accepted; per-item completion is reported
//     asynchronously so the caller can retry until acknowledged.
//
// A SessionTransport is constructed exactly once per paired session, in
// the process wiring. Every other component receives a reference; nothing
// looks the session up through a global.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// Topics for the three delivery channels.
const (
	TopicImmediate = "telemetry.immediate"
	TopicLatest    = "telemetry.latest"
	TopicQueued    = "telemetry.queued"
)

// ErrClosed is returned when the transport has been shut down.
var ErrClosed = errors.New("transport closed")

// TransferResult reports the asynchronous outcome of a queued transfer.
type TransferResult struct {
	Handle string
	Err    error
}

// Config holds transport tuning knobs.
type Config struct {
	// ChannelBuffer is the per-subscriber message buffer.
	ChannelBuffer int64

	// CompletionBuffer bounds the queued-transfer completion channel.
	CompletionBuffer int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ChannelBuffer:    256,
		CompletionBuffer: 256,
	}
}

// SessionTransport is the single owner of the paired session's Pub/Sub.
// It implements the channel contracts the relay publisher and the
// ingestion consumer are written against.
type SessionTransport struct {
	pubSub      *gochannel.GoChannel
	logger      zerolog.Logger
	completions chan TransferResult

	reachable atomic.Bool
	keepalive atomic.Bool

	// Fault injection for development and tests; gochannel itself never
	// fails, so queued/immediate failures are simulated here.
	failImmediate atomic.Int64
	failQueued    atomic.Int64

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates the session transport. The link starts unreachable and
// keepalive inactive; the lifecycle collaborator flips both via
// SetReachable and SetKeepaliveActive.
func New(cfg Config, logger zerolog.Logger) *SessionTransport {
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 256
	}
	if cfg.CompletionBuffer <= 0 {
		cfg.CompletionBuffer = 256
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.ChannelBuffer,
		// Queued-channel payloads must survive until the consumer
		// subscribes; persistence keeps them for late subscribers.
		Persistent: true,
	}, NewWatermillLogger(logger))

	return &SessionTransport{
		pubSub:      pubSub,
		logger:      logger,
		completions: make(chan TransferResult, cfg.CompletionBuffer),
	}
}

// SetReachable updates the link reachability signal.
func (t *SessionTransport) SetReachable(up bool) {
	was := t.reachable.Swap(up)
	if was != up {
		t.logger.Info().Bool("reachable", up).Msg("link reachability changed")
	}
}

// Reachable reports whether the live link is currently usable.
func (t *SessionTransport) Reachable() bool {
	return t.reachable.Load()
}

// SetKeepaliveActive updates the keepalive signal. The lifecycle
// collaborator owns it; the transport only records and exposes it.
func (t *SessionTransport) SetKeepaliveActive(active bool) {
	was := t.keepalive.Swap(active)
	if was != active {
		t.logger.Info().Bool("keepalive_active", active).Msg("keepalive state changed")
	}
}

// KeepaliveActive reports whether background execution is currently
// guaranteed for the producer process.
func (t *SessionTransport) KeepaliveActive() bool {
	return t.keepalive.Load()
}

// SendImmediate delivers a payload over the live link. It fails with
// telemetry.ErrLinkNotReady when the link is unreachable; the caller is
// expected to fall back to the queued channel.
func (t *SessionTransport) SendImmediate(ctx context.Context, payload []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if !t.reachable.Load() {
		return telemetry.ErrLinkNotReady
	}
	if takeFault(&t.failImmediate) {
		return errors.New("immediate send failed")
	}
	return t.publish(TopicImmediate, payload, nil)
}

// PushLatest delivers a payload on the latest-only channel. Always valid;
// the consumer's latest pointer provides last-write-wins semantics.
func (t *SessionTransport) PushLatest(ctx context.Context, payload []byte) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return t.publish(TopicLatest, payload, nil)
}

// Enqueue hands a payload to the queued channel. Delivery happens
// asynchronously; the outcome arrives on Completions with the given
// handle. Enqueue itself only fails when the transport is closed.
func (t *SessionTransport) Enqueue(ctx context.Context, handle string, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()

		var err error
		if takeFault(&t.failQueued) {
			err = errors.New("queued transfer failed")
		} else {
			err = t.publish(TopicQueued, payload, map[string]string{"handle": handle})
		}

		select {
		case t.completions <- TransferResult{Handle: handle, Err: err}:
		case <-ctx.Done():
		}
	}()

	return nil
}

// Completions streams queued-transfer outcomes. The relay publisher is
// the single consumer.
func (t *SessionTransport) Completions() <-chan TransferResult {
	return t.completions
}

// Subscribe returns the message stream for one of the three topics.
func (t *SessionTransport) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.pubSub.Subscribe(ctx, topic)
}

// FailNextImmediate makes the next n immediate sends fail. Fault
// injection hook for development and tests.
func (t *SessionTransport) FailNextImmediate(n int64) {
	t.failImmediate.Store(n)
}

// FailNextQueued makes the next n queued transfers fail.
func (t *SessionTransport) FailNextQueued(n int64) {
	t.failQueued.Store(n)
}

// Close shuts the transport down. In-flight queued transfers are allowed
// to complete or fail rather than being force-aborted.
func (t *SessionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.wg.Wait()
	close(t.completions)
	return t.pubSub.Close()
}

func (t *SessionTransport) checkOpen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	return nil
}

func (t *SessionTransport) publish(topic string, payload []byte, metadata map[string]string) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	for k, v := range metadata {
		msg.Metadata.Set(k, v)
	}
	return t.pubSub.Publish(topic, msg)
}

func takeFault(counter *atomic.Int64) bool {
	for {
		n := counter.Load()
		if n <= 0 {
			return false
		}
		if counter.CompareAndSwap(n, n-1) {
			return true
		}
	}
}
