// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package ingest

import (
	"sort"

	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// historyBuffer retains accepted samples ordered by capture timestamp,
// not arrival order. When the buffer exceeds capacity it evicts the
// sample with the oldest timestamp.
//
// Not safe for concurrent use; the pipeline serializes access.
type historyBuffer struct {
	samples []telemetry.Sample
	cap     int
}

func newHistoryBuffer(capacity int) *historyBuffer {
	if capacity <= 0 {
		capacity = 300
	}
	return &historyBuffer{
		samples: make([]telemetry.Sample, 0, capacity+1),
		cap:     capacity,
	}
}

// insert places the sample at its timestamp position and trims to
// capacity. Late arrivals land in the middle; eviction always removes
// index 0, the oldest timestamp.
func (h *historyBuffer) insert(s telemetry.Sample) {
	idx := sort.Search(len(h.samples), func(i int) bool {
		return h.samples[i].Timestamp.After(s.Timestamp)
	})
	h.samples = append(h.samples, telemetry.Sample{})
	copy(h.samples[idx+1:], h.samples[idx:])
	h.samples[idx] = s

	if len(h.samples) > h.cap {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:len(h.samples)-1]
	}
}

// newest returns the sample with the latest timestamp, or false when empty.
func (h *historyBuffer) newest() (telemetry.Sample, bool) {
	if len(h.samples) == 0 {
		return telemetry.Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// snapshot returns a copy of the buffer in timestamp order.
func (h *historyBuffer) snapshot() []telemetry.Sample {
	out := make([]telemetry.Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// len reports the retained sample count.
func (h *historyBuffer) len() int {
	return len(h.samples)
}
