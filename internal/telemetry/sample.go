// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package telemetry defines the sample model and versioned wire format
// exchanged between the wearable producer and the companion consumer.
package telemetry

import (
	"math"
	"time"
)

// Sample is one positional telemetry reading. It is an immutable value:
// once constructed it is passed by value and never mutated, so it is safe
// to share across the producer, transport, and ingestion goroutines.
type Sample struct {
	// Timestamp is when the fix was captured on the wearable.
	Timestamp time.Time `json:"timestamp"`

	// Source tags the producing peer (e.g. "watch").
	Source string `json:"source"`

	// SessionID identifies the paired session this sample belongs to.
	// Sequence numbers are unique only within a session.
	SessionID string `json:"session_id"`

	// Sequence is a strictly monotonic per-session counter starting at 1.
	Sequence uint64 `json:"sequence"`

	// Position.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Altitude in meters. Nil when the fix had no vertical solution.
	Altitude *float64 `json:"altitude,omitempty"`

	// HorizontalAccuracy is the estimated horizontal error radius in meters.
	HorizontalAccuracy float64 `json:"horizontal_accuracy"`

	// VerticalAccuracy is the estimated vertical error in meters.
	VerticalAccuracy float64 `json:"vertical_accuracy,omitempty"`

	// Speed over ground in m/s.
	Speed float64 `json:"speed"`

	// Course over ground in degrees from true north.
	Course float64 `json:"course"`

	// Heading in degrees. Nil when the wearable has no magnetometer fix.
	Heading *float64 `json:"heading,omitempty"`

	// PowerLevel is the wearable battery fraction in [0,1].
	PowerLevel float64 `json:"power_level"`
}

// Validate checks required fields and ranges. A zero timestamp, missing
// session, zero sequence, or out-of-range coordinates are rejected.
func (s Sample) Validate() error {
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "required"}
	}
	if s.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "required"}
	}
	if s.Sequence == 0 {
		return &ValidationError{Field: "sequence", Message: "must be >= 1"}
	}
	if s.Latitude < -90 || s.Latitude > 90 {
		return &ValidationError{Field: "latitude", Message: "out of range"}
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return &ValidationError{Field: "longitude", Message: "out of range"}
	}
	if s.PowerLevel < 0 || s.PowerLevel > 1 {
		return &ValidationError{Field: "power_level", Message: "must be in [0,1]"}
	}
	if s.HorizontalAccuracy < 0 {
		return &ValidationError{Field: "horizontal_accuracy", Message: "must be >= 0"}
	}
	return nil
}

// earthRadiusMeters is the mean earth radius used for haversine distances.
const earthRadiusMeters = 6371000.0

// DistanceMeters returns the haversine great-circle distance between two
// samples in meters.
func DistanceMeters(a, b Sample) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
