// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package tuner selects the active tracking preset from power and motion
// signals. The capture loop consumes the preset to adjust its own
// sampling and transmission cadence.
package tuner

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/config"
	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// presets are the built-in preset table, indexed by name.
var presets = map[telemetry.PresetName]telemetry.TrackingPreset{
	telemetry.PresetAggressive: {
		Name:             telemetry.PresetAggressive,
		Accuracy:         telemetry.AccuracyBest,
		SamplingInterval: time.Second,
		TransmitInterval: time.Second,
	},
	telemetry.PresetBalanced: {
		Name:             telemetry.PresetBalanced,
		Accuracy:         telemetry.AccuracyNavigation,
		SamplingInterval: 5 * time.Second,
		TransmitInterval: 10 * time.Second,
	},
	telemetry.PresetSaver: {
		Name:             telemetry.PresetSaver,
		Accuracy:         telemetry.AccuracyCoarse,
		SamplingInterval: 30 * time.Second,
		TransmitInterval: time.Minute,
	},
}

// emergencyPreset is derived, not configured: it always takes the
// highest accuracy class and the fastest cadences present in the table,
// so a stale low-power accuracy class can never persist under an
// emergency cadence.
func emergencyPreset() telemetry.TrackingPreset {
	out := telemetry.TrackingPreset{
		Name:             telemetry.PresetEmergency,
		Accuracy:         telemetry.AccuracyCoarse,
		SamplingInterval: time.Hour,
		TransmitInterval: time.Hour,
	}
	for _, p := range presets {
		if p.Accuracy > out.Accuracy {
			out.Accuracy = p.Accuracy
		}
		if p.SamplingInterval < out.SamplingInterval {
			out.SamplingInterval = p.SamplingInterval
		}
		if p.TransmitInterval < out.TransmitInterval {
			out.TransmitInterval = p.TransmitInterval
		}
	}
	return out
}

// Tuner is the adaptive preset state machine. Update is called on every
// power/motion observation; emergency is an explicit operator override
// checked before everything else.
type Tuner struct {
	cfg    config.TunerConfig
	logger zerolog.Logger

	mu        sync.Mutex
	emergency bool
	current   telemetry.TrackingPreset
	changes   []chan telemetry.TrackingPreset
}

// New creates a tuner starting in the balanced preset.
func New(cfg config.TunerConfig, logger zerolog.Logger) *Tuner {
	return &Tuner{
		cfg:     cfg,
		logger:  logger,
		current: presets[telemetry.PresetBalanced],
	}
}

// Update evaluates the transition rule and returns the active preset:
// emergency first, then low power, then stationary, then aggressive.
func (t *Tuner) Update(powerFraction, speed float64) telemetry.TrackingPreset {
	t.mu.Lock()
	defer t.mu.Unlock()

	var next telemetry.TrackingPreset
	switch {
	case t.emergency:
		next = emergencyPreset()
	case powerFraction < t.cfg.LowPowerThreshold:
		next = presets[telemetry.PresetSaver]
	case speed < t.cfg.StationarySpeed:
		next = presets[telemetry.PresetBalanced]
	default:
		next = presets[telemetry.PresetAggressive]
	}

	if next.Name != t.current.Name {
		t.logger.Info().
			Str("from", string(t.current.Name)).
			Str("to", string(next.Name)).
			Float64("power", powerFraction).
			Float64("speed", speed).
			Msg("tracking preset changed")
		t.current = next
		for _, ch := range t.changes {
			select {
			case ch <- next:
			default:
			}
		}
	}
	return t.current
}

// SetEmergency engages or releases the operator override. The next
// Update applies it; engaging also applies it immediately.
func (t *Tuner) SetEmergency(on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.emergency == on {
		return
	}
	t.emergency = on
	t.logger.Warn().Bool("emergency", on).Msg("emergency override changed")

	if on {
		t.current = emergencyPreset()
		for _, ch := range t.changes {
			select {
			case ch <- t.current:
			default:
			}
		}
	}
}

// Current returns the active preset.
func (t *Tuner) Current() telemetry.TrackingPreset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Changes returns a stream of preset transitions for the capture loop.
func (t *Tuner) Changes() <-chan telemetry.TrackingPreset {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan telemetry.TrackingPreset, 8)
	t.changes = append(t.changes, ch)
	return ch
}
