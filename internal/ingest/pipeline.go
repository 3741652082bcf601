// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package ingest implements the consumer-side pipeline: decode,
// deduplicate, quality-gate, and retain incoming samples, maintaining a
// time-ordered history and an anti-regressing latest pointer.
package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/config"
	"github.com/tomtom215/trackrelay/internal/metrics"
	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// PerfSink receives accepted samples for latency/power accounting.
// Implemented by the performance monitor.
type PerfSink interface {
	Observe(sample telemetry.Sample, receivedAt time.Time)
}

// Pipeline serializes sample acceptance across the three arrival paths.
// Payloads may arrive concurrently from all channels; a single mutex
// preserves the dedup and ordering invariants.
type Pipeline struct {
	cfg    config.IngestConfig
	logger zerolog.Logger
	perf   PerfSink
	events *eventBus

	mu        sync.Mutex
	dedup     *dedupWindow
	history   *historyBuffer
	latest    telemetry.Sample
	hasLatest bool
	counters  Counters

	// now is swapped in tests to fix receipt times.
	now func() time.Time
}

// NewPipeline builds a pipeline. perf may be nil when no performance
// accounting is wanted (some tests).
func NewPipeline(cfg config.IngestConfig, perf PerfSink, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		logger:  logger,
		perf:    perf,
		events:  newEventBus(cfg.EventBuffer),
		dedup:   newDedupWindow(cfg.DedupWindow),
		history: newHistoryBuffer(cfg.HistoryCapacity),
		now:     time.Now,
	}
}

// Subscribe returns a stream of pipeline events for independent
// observers (websocket feed, tests).
func (p *Pipeline) Subscribe() <-chan Event {
	return p.events.subscribe()
}

// Accept ingests one wire payload from any channel and reports the
// outcome. It is safe to call concurrently.
func (p *Pipeline) Accept(raw []byte) Outcome {
	receivedAt := p.now()

	sample, err := telemetry.DecodeSample(raw)
	if err != nil {
		p.mu.Lock()
		p.counters.DecodeErrors++
		p.mu.Unlock()

		metrics.IngestDecodeErrors.Inc()
		p.events.publish(Event{Status: StatusDecodeFailed, Error: err.Error(), Time: receivedAt})
		p.logger.Warn().Err(err).Msg("payload decode failed")
		return Outcome{Status: StatusDecodeFailed, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := dedupKey(sample)
	if !p.dedup.admit(key) {
		p.counters.DedupDrops++
		metrics.IngestDedupDrops.Inc()
		p.events.publish(Event{Status: StatusDuplicate, Sample: sample, Time: receivedAt})
		return Outcome{Status: StatusDuplicate, Sample: sample}
	}

	if reason := p.qualityReject(sample); reason != "" {
		p.counters.QualityDrops++
		metrics.IngestQualityDrops.WithLabelValues(reason).Inc()
		p.events.publish(Event{Status: StatusQualityRejected, Sample: sample, Reason: reason, Time: receivedAt})
		p.logger.Debug().Uint64("sequence", sample.Sequence).Str("reason", reason).Msg("sample rejected by quality gate")
		return Outcome{Status: StatusQualityRejected, Sample: sample, Reason: reason}
	}

	p.history.insert(sample)
	metrics.IngestHistorySize.Set(float64(p.history.len()))

	// Anti-regression: a late-arriving queued sample must never overwrite
	// a newer sample already shown.
	if !p.hasLatest || sample.Timestamp.After(p.latest.Timestamp) {
		p.latest = sample
		p.hasLatest = true
	}

	p.counters.Accepted++
	metrics.IngestAccepted.Inc()
	metrics.IngestLatency.Observe(receivedAt.Sub(sample.Timestamp).Seconds())

	if p.perf != nil {
		p.perf.Observe(sample, receivedAt)
	}

	p.events.publish(Event{Status: StatusAccepted, Sample: sample, Time: receivedAt})
	return Outcome{Status: StatusAccepted, Sample: sample}
}

// qualityReject applies the configured gates and returns the rejection
// reason, or "" when the sample passes.
func (p *Pipeline) qualityReject(sample telemetry.Sample) string {
	if sample.HorizontalAccuracy > p.cfg.MaxHorizontalAccuracy {
		return "accuracy"
	}

	prev, ok := p.history.newest()
	if !ok {
		return ""
	}

	dt := sample.Timestamp.Sub(prev.Timestamp)
	if dt < 0 {
		dt = -dt
	}
	// Clamp tiny gaps so a burst of near-simultaneous fixes does not imply
	// absurd speeds from GPS jitter alone.
	if dt < 100*time.Millisecond {
		dt = 100 * time.Millisecond
	}

	dist := telemetry.DistanceMeters(prev, sample)
	if dist/dt.Seconds() > p.cfg.MaxPlausibleSpeed {
		return "jump"
	}
	return ""
}

// Latest returns the newest accepted sample by capture timestamp. The
// boolean is false until the first acceptance.
func (p *Pipeline) Latest() (telemetry.Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.hasLatest
}

// History returns a time-ordered copy of the retained samples.
func (p *Pipeline) History() []telemetry.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.snapshot()
}

// CountersSnapshot returns a copy of the drop counters.
func (p *Pipeline) CountersSnapshot() Counters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters
}

// Close shuts the event stream down.
func (p *Pipeline) Close() {
	p.events.close()
}

func dedupKey(s telemetry.Sample) string {
	return fmt.Sprintf("%s:%d", s.SessionID, s.Sequence)
}
