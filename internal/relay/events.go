// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package relay

import (
	"sync"
	"time"
)

// EventKind classifies publisher events.
type EventKind string

const (
	// EventLatestPushed: a sample went out on the latest-only channel.
	EventLatestPushed EventKind = "latest_pushed"
	// EventThrottled: the latest-only push was skipped by the throttle.
	EventThrottled EventKind = "throttled"
	// EventImmediateSent: a sample was delivered over the live link.
	EventImmediateSent EventKind = "immediate_sent"
	// EventFallback: an immediate send failed and fell back to the queue.
	EventFallback EventKind = "fallback"
	// EventEnqueued: a sample was handed to the queued channel.
	EventEnqueued EventKind = "enqueued"
	// EventDelivered: a queued transfer was acknowledged.
	EventDelivered EventKind = "delivered"
	// EventRetry: a queued transfer failed and will be retried.
	EventRetry EventKind = "retry"
	// EventAbandoned: a queued transfer exhausted its retry budget.
	EventAbandoned EventKind = "abandoned"
)

// Event describes one observable publisher action. Any number of
// independent subscribers (tests included) can watch the publisher.
type Event struct {
	Kind     EventKind `json:"kind"`
	Sequence uint64    `json:"sequence,omitempty"`
	Handle   string    `json:"handle,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// eventBus fans events out to subscribers. Sends never block the
// publisher: a subscriber that falls behind loses events rather than
// stalling sample production.
type eventBus struct {
	mu     sync.Mutex
	subs   []chan Event
	buffer int
	closed bool
}

func newEventBus(buffer int) *eventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &eventBus{buffer: buffer}
}

func (b *eventBus) subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
