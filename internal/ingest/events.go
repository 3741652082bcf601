// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package ingest

import (
	"sync"
	"time"

	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// Status classifies the outcome of accepting one payload.
type Status string

const (
	// StatusAccepted: the sample entered history.
	StatusAccepted Status = "accepted"
	// StatusDuplicate: the sequence was already admitted; idempotent no-op.
	StatusDuplicate Status = "duplicate"
	// StatusQualityRejected: the accuracy or plausibility gate rejected it.
	StatusQualityRejected Status = "quality_rejected"
	// StatusDecodeFailed: the payload could not be decoded.
	StatusDecodeFailed Status = "decode_failed"
)

// Outcome reports what happened to one payload.
type Outcome struct {
	Status Status
	// Sample is populated for every status except StatusDecodeFailed.
	Sample telemetry.Sample
	// Reason explains quality rejections ("accuracy" or "jump").
	Reason string
	// Err carries the decode error for StatusDecodeFailed.
	Err error
}

// Event is the observable record of one pipeline decision. Decode errors
// are events too: a malformed payload is never a silent drop.
type Event struct {
	Status Status           `json:"status"`
	Sample telemetry.Sample `json:"sample,omitempty"`
	Reason string           `json:"reason,omitempty"`
	Error  string           `json:"error,omitempty"`
	Time   time.Time        `json:"time"`
}

// Counters is a point-in-time copy of the pipeline's drop counters.
type Counters struct {
	Accepted     uint64 `json:"accepted"`
	DedupDrops   uint64 `json:"dedup_drops"`
	QualityDrops uint64 `json:"quality_drops"`
	DecodeErrors uint64 `json:"decode_errors"`
}

// eventBus fans pipeline events out to subscribers without ever blocking
// acceptance. A slow subscriber loses events.
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
