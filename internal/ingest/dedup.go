// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package ingest

// dedupWindow is a bounded membership set over recently admitted
// (session, sequence) keys. Once a key is admitted it can never be
// re-admitted for as long as it remains in the window; the window evicts
// in admission order when full.
//
// Not safe for concurrent use; the pipeline serializes access.
type dedupWindow struct {
	seen  map[string]struct{}
	order []string
	cap   int
}

func newDedupWindow(capacity int) *dedupWindow {
	if capacity <= 0 {
		capacity = 512
	}
	return &dedupWindow{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// admit returns false when the key was already admitted. Otherwise it
// records the key, evicting the oldest admission if the window is full,
// and returns true.
func (w *dedupWindow) admit(key string) bool {
	if _, dup := w.seen[key]; dup {
		return false
	}
	if len(w.order) >= w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.seen, oldest)
	}
	w.seen[key] = struct{}{}
	w.order = append(w.order, key)
	return true
}

// len reports the current membership count.
func (w *dedupWindow) len() int {
	return len(w.seen)
}
