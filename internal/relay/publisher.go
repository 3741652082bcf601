// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package relay implements the producer-side publisher. It decides which
// delivery channels carry each sample, owns the latest-channel throttle
// state, and retries queued transfers until they are acknowledged or the
// retry budget runs out.
package relay

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/trackrelay/internal/config"
	"github.com/tomtom215/trackrelay/internal/metrics"
	"github.com/tomtom215/trackrelay/internal/telemetry"
	"github.com/tomtom215/trackrelay/internal/transport"
)

// ImmediateSender is the fire-now channel. Valid only while the link is
// reachable; the publisher falls back to the queued channel on failure.
type ImmediateSender interface {
	SendImmediate(ctx context.Context, payload []byte) error
}

// LatestPusher is the background-safe, last-write-wins channel.
type LatestPusher interface {
	PushLatest(ctx context.Context, payload []byte) error
}

// QueuedChannel is the background-safe, acknowledged channel. Completion
// outcomes arrive asynchronously from the transport's execution context.
type QueuedChannel interface {
	Enqueue(ctx context.Context, handle string, payload []byte) error
	Completions() <-chan transport.TransferResult
}

// Link exposes the lifecycle signals owned by the transport: link
// reachability and the keepalive guarantee. The publisher only reads
// them.
type Link interface {
	Reachable() bool
	KeepaliveActive() bool
}

// channelState tracks the latest-channel throttle. Single-writer: only
// the goroutine calling Publish touches it.
type channelState struct {
	lastPush     time.Time
	lastSequence uint64
	lastAccuracy float64
}

// pendingTransfer is the retry bookkeeping for one queued transfer.
// Access is serialized by Publisher.pendingMu because completions arrive
// on a different goroutine than submissions.
type pendingTransfer struct {
	payload  []byte
	sequence uint64
	attempts int
	backoff  *backoff.ExponentialBackOff
	timer    *time.Timer
}

// Publisher orchestrates the three delivery channels for one session.
//
// Publish never blocks sample production and guarantees every sample is
// attempted on at least one reliable path: the live link when reachable,
// the queued channel otherwise or on failure.
type Publisher struct {
	cfg       config.RelayConfig
	immediate ImmediateSender
	latest    LatestPusher
	queued    QueuedChannel
	link      Link
	logger    zerolog.Logger

	sessionID string
	nextSeq   uint64
	state     channelState

	pendingMu sync.Mutex
	pending   map[string]*pendingTransfer

	breaker *gobreaker.CircuitBreaker[any]
	events  *eventBus

	stopMu  sync.Mutex
	stopped bool

	// now is swapped in tests to drive the throttle clock.
	now func() time.Time
}

// NewPublisher wires a publisher against the session's channels. The
// transport satisfies all four channel interfaces; tests substitute
// narrower fakes.
func NewPublisher(cfg config.RelayConfig, imm ImmediateSender, latest LatestPusher, queued QueuedChannel, link Link, logger zerolog.Logger) (*Publisher, error) {
	if imm == nil || latest == nil || queued == nil || link == nil {
		return nil, fmt.Errorf("all channels are required")
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "queued-channel",
		Timeout: cfg.BreakerRecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("delivery status changed")
			if to == gobreaker.StateOpen {
				metrics.RelayBreakerOpen.Set(1)
			} else {
				metrics.RelayBreakerOpen.Set(0)
			}
		},
	})

	return &Publisher{
		cfg:       cfg,
		immediate: imm,
		latest:    latest,
		queued:    queued,
		link:      link,
		logger:    logger,
		sessionID: uuid.New().String(),
		nextSeq:   1,
		pending:   make(map[string]*pendingTransfer),
		breaker:   breaker,
		events:    newEventBus(cfg.EventBuffer),
		now:       time.Now,
	}, nil
}

// SessionID returns the session identifier stamped on outgoing samples.
func (p *Publisher) SessionID() string {
	return p.sessionID
}

// Subscribe returns a stream of publisher events. Slow subscribers lose
// events instead of blocking the capture path.
func (p *Publisher) Subscribe() <-chan Event {
	return p.events.subscribe()
}

// Degraded reports whether queued delivery is currently degraded
// (the circuit breaker is open after repeated transfer failures).
func (p *Publisher) Degraded() bool {
	return p.breaker.State() == gobreaker.StateOpen
}

// PendingTransfers returns the number of queued transfers awaiting
// acknowledgement.
func (p *Publisher) PendingTransfers() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

// LinkReachable reports the transport's live-link signal.
func (p *Publisher) LinkReachable() bool {
	return p.link.Reachable()
}

// KeepaliveActive reports whether background execution is currently
// guaranteed for the producer.
func (p *Publisher) KeepaliveActive() bool {
	return p.link.KeepaliveActive()
}

// Publish relays one sample. It stamps the session ID, source tag, and a
// strictly monotonic sequence number when the capture loop left them
// unset, then walks the channel decision in order: latest-only throttle,
// immediate with queued fallback, or queued directly when the link is
// down.
//
// Publish is called from the single capture goroutine; the throttle state
// is deliberately unsynchronized under that single-writer rule.
func (p *Publisher) Publish(ctx context.Context, sample telemetry.Sample) error {
	if sample.SessionID == "" {
		sample.SessionID = p.sessionID
	}
	if sample.Source == "" {
		sample.Source = p.cfg.Source
	}
	if sample.Sequence == 0 {
		sample.Sequence = p.nextSeq
		p.nextSeq++
	} else if sample.Sequence >= p.nextSeq {
		p.nextSeq = sample.Sequence + 1
	}

	payload, err := telemetry.EncodeSample(sample)
	if err != nil {
		// Encode failure is a local bug, reported distinctly; there is no
		// payload so no retry path is feasible.
		return fmt.Errorf("publish sequence %d: %w", sample.Sequence, err)
	}

	p.publishLatest(ctx, sample, payload)

	if p.link.Reachable() {
		sendErr := p.immediate.SendImmediate(ctx, payload)
		if sendErr == nil {
			metrics.RelayPushes.WithLabelValues("immediate").Inc()
			p.events.publish(Event{Kind: EventImmediateSent, Sequence: sample.Sequence, Time: p.now()})
			return nil
		}
		metrics.RelayFallbacks.Inc()
		p.events.publish(Event{Kind: EventFallback, Sequence: sample.Sequence, Error: sendErr.Error(), Time: p.now()})
		p.logger.Debug().Uint64("sequence", sample.Sequence).Err(sendErr).
			Msg("immediate send failed, falling back to queued")
	}

	return p.enqueue(ctx, sample.Sequence, payload)
}

// publishLatest applies the throttle policy: push when the interval has
// elapsed since the last push, or when horizontal accuracy moved at least
// the bypass delta. A skipped sample is still current for UI purposes, it
// just is not transmitted on this path.
func (p *Publisher) publishLatest(ctx context.Context, sample telemetry.Sample, payload []byte) {
	now := p.now()

	push := p.state.lastPush.IsZero() ||
		now.Sub(p.state.lastPush) >= p.cfg.ThrottleInterval ||
		math.Abs(sample.HorizontalAccuracy-p.state.lastAccuracy) >= p.cfg.AccuracyBypassDelta

	if !push {
		metrics.RelayThrottled.Inc()
		p.events.publish(Event{Kind: EventThrottled, Sequence: sample.Sequence, Time: now})
		return
	}

	if err := p.latest.PushLatest(ctx, payload); err != nil {
		// Best-effort path; the sample still travels on a reliable channel.
		p.logger.Warn().Uint64("sequence", sample.Sequence).Err(err).Msg("latest push failed")
		return
	}

	p.state.lastPush = now
	p.state.lastSequence = sample.Sequence
	p.state.lastAccuracy = sample.HorizontalAccuracy
	metrics.RelayPushes.WithLabelValues("latest").Inc()
	p.events.publish(Event{Kind: EventLatestPushed, Sequence: sample.Sequence, Time: now})
}

// enqueue records a pending transfer and hands the payload to the queued
// channel. The transfer stays in the pending map until the completion
// loop removes it on acknowledgement or abandonment.
func (p *Publisher) enqueue(ctx context.Context, sequence uint64, payload []byte) error {
	handle := uuid.New().String()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialInterval
	bo.MaxInterval = p.cfg.RetryMaxInterval
	bo.MaxElapsedTime = p.cfg.RetryMaxElapsed
	bo.Reset()

	p.pendingMu.Lock()
	p.pending[handle] = &pendingTransfer{
		payload:  payload,
		sequence: sequence,
		backoff:  bo,
	}
	metrics.RelayPendingTransfers.Set(float64(len(p.pending)))
	p.pendingMu.Unlock()

	if err := p.queued.Enqueue(ctx, handle, payload); err != nil {
		p.removePending(handle)
		return fmt.Errorf("enqueue sequence %d: %w", sequence, err)
	}

	metrics.RelayPushes.WithLabelValues("queued").Inc()
	p.events.publish(Event{Kind: EventEnqueued, Sequence: sequence, Handle: handle, Time: p.now()})
	return nil
}

// Serve consumes queued-transfer completions until the context is canceled
// or the transport closes its completion stream. It implements
// suture.Service so the supervisor restarts it on failure.
func (p *Publisher) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-p.queued.Completions():
			if !ok {
				return nil
			}
			p.handleCompletion(ctx, res)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (p *Publisher) String() string {
	return "relay-publisher"
}

func (p *Publisher) handleCompletion(ctx context.Context, res transport.TransferResult) {
	// Feed the outcome to the breaker. While the breaker is open Execute
	// fails fast without recording; the recovery timeout then half-opens
	// it so fresh outcomes close or re-open it.
	_, _ = p.breaker.Execute(func() (any, error) {
		return nil, res.Err
	})

	if res.Err == nil {
		p.settle(res.Handle)
		return
	}

	p.retry(ctx, res)
}

// settle removes an acknowledged transfer and releases its payload.
func (p *Publisher) settle(handle string) {
	p.pendingMu.Lock()
	entry, ok := p.pending[handle]
	if ok {
		delete(p.pending, handle)
	}
	metrics.RelayPendingTransfers.Set(float64(len(p.pending)))
	p.pendingMu.Unlock()

	if !ok {
		return
	}
	p.events.publish(Event{Kind: EventDelivered, Sequence: entry.sequence, Handle: handle, Attempt: entry.attempts, Time: p.now()})
}

// retry re-enqueues a failed transfer after its next backoff delay, or
// abandons it when the elapsed budget is exhausted.
func (p *Publisher) retry(ctx context.Context, res transport.TransferResult) {
	p.pendingMu.Lock()
	entry, ok := p.pending[res.Handle]
	if !ok {
		p.pendingMu.Unlock()
		return
	}

	delay := entry.backoff.NextBackOff()
	if delay == backoff.Stop {
		delete(p.pending, res.Handle)
		metrics.RelayPendingTransfers.Set(float64(len(p.pending)))
		p.pendingMu.Unlock()

		metrics.RelayAbandoned.Inc()
		p.events.publish(Event{Kind: EventAbandoned, Sequence: entry.sequence, Handle: res.Handle, Attempt: entry.attempts, Error: res.Err.Error(), Time: p.now()})
		p.logger.Error().Uint64("sequence", entry.sequence).Int("attempts", entry.attempts).Err(res.Err).
			Msg("queued transfer abandoned after retry budget")
		return
	}

	entry.attempts++
	attempt := entry.attempts
	entry.timer = time.AfterFunc(delay, func() {
		p.stopMu.Lock()
		stopped := p.stopped
		p.stopMu.Unlock()
		if stopped {
			return
		}
		if err := p.queued.Enqueue(ctx, res.Handle, entry.payload); err != nil {
			p.logger.Error().Str("handle", res.Handle).Err(err).Msg("retry enqueue failed")
			p.removePending(res.Handle)
		}
	})
	p.pendingMu.Unlock()

	metrics.RelayRetries.Inc()
	p.events.publish(Event{Kind: EventRetry, Sequence: entry.sequence, Handle: res.Handle, Attempt: attempt, Error: res.Err.Error(), Time: p.now()})
	p.logger.Debug().Uint64("sequence", entry.sequence).Int("attempt", attempt).Dur("delay", delay).
		Msg("queued transfer retry scheduled")
}

func (p *Publisher) removePending(handle string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	delete(p.pending, handle)
	metrics.RelayPendingTransfers.Set(float64(len(p.pending)))
}

// Stop halts retry timers, clears the throttle state, and closes the
// event stream. In-flight queued transfers complete or fail on their own
// rather than being force-aborted.
func (p *Publisher) Stop() {
	p.stopMu.Lock()
	if p.stopped {
		p.stopMu.Unlock()
		return
	}
	p.stopped = true
	p.stopMu.Unlock()

	p.pendingMu.Lock()
	for _, entry := range p.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	p.pendingMu.Unlock()

	p.state = channelState{}
	p.events.close()
}
