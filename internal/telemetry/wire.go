// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package telemetry

import (
	"fmt"

	"github.com/goccy/go-json"
)

// SchemaVersion is the current wire schema version.
// Increment when making breaking changes to the envelope or Sample fields.
// The consumer accepts any version in [1, SchemaVersion] so producer and
// consumer tolerate version skew during staggered upgrades.
const SchemaVersion = 1

// Envelope is the self-describing wire record carrying a Sample.
// Every payload on every channel uses this envelope; the explicit
// schema_version field is what lets the two peers skew.
type Envelope struct {
	SchemaVersion int    `json:"schema_version"`
	Sample        Sample `json:"sample"`
}

// EncodeSample serializes a sample into a versioned wire payload.
func EncodeSample(s Sample) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	data, err := json.Marshal(Envelope{
		SchemaVersion: SchemaVersion,
		Sample:        s,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

// DecodeSample parses a wire payload back into a Sample.
// Payloads with a missing, zero, or too-new schema version fail with
// ErrSchemaVersion; malformed payloads fail with ErrDecode.
func DecodeSample(data []byte) (Sample, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if env.SchemaVersion < 1 || env.SchemaVersion > SchemaVersion {
		return Sample{}, fmt.Errorf("%w: got %d, support 1..%d",
			ErrSchemaVersion, env.SchemaVersion, SchemaVersion)
	}
	if err := env.Sample.Validate(); err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return env.Sample, nil
}
