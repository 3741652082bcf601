// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package telemetry

import "time"

// AccuracyClass is the sampling accuracy requested from the positioning
// hardware. Higher values cost more power.
type AccuracyClass int

const (
	// AccuracyCoarse trades precision for battery (cell/wifi class fixes).
	AccuracyCoarse AccuracyClass = iota
	// AccuracyNavigation is standard GPS-quality positioning.
	AccuracyNavigation
	// AccuracyBest requests the highest fidelity the hardware can deliver.
	AccuracyBest
)

// String returns the accuracy class name.
func (a AccuracyClass) String() string {
	switch a {
	case AccuracyCoarse:
		return "coarse"
	case AccuracyNavigation:
		return "navigation"
	case AccuracyBest:
		return "best"
	default:
		return "unknown"
	}
}

// PresetName identifies a tracking preset.
type PresetName string

const (
	// PresetAggressive: fastest cadence, highest accuracy. High battery cost.
	PresetAggressive PresetName = "aggressive"
	// PresetBalanced: moderate cadence for low-motion periods.
	PresetBalanced PresetName = "balanced"
	// PresetSaver: minimum viable tracking under low battery.
	PresetSaver PresetName = "saver"
	// PresetEmergency: operator override. Always the highest accuracy class
	// and fastest cadence regardless of battery level.
	PresetEmergency PresetName = "emergency"
)

// TrackingPreset bundles the sampling and transmission parameters the
// capture loop applies. Selected by the adaptive tuner on every
// power/motion update.
type TrackingPreset struct {
	Name             PresetName    `json:"name"`
	Accuracy         AccuracyClass `json:"accuracy"`
	SamplingInterval time.Duration `json:"sampling_interval"`
	TransmitInterval time.Duration `json:"transmit_interval"`
}
