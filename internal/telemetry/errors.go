// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package telemetry

import "errors"

// ErrDecode is returned when a wire payload cannot be decoded.
// Decode failures are counted and surfaced as events, never silently dropped.
var ErrDecode = errors.New("payload decode failed")

// ErrSchemaVersion is returned when a payload carries a schema version the
// consumer does not understand (zero, missing, or newer than supported).
var ErrSchemaVersion = errors.New("unsupported schema version")

// ErrEncode is returned when a sample cannot be serialized for transmission.
// It is distinct from transport failures so the caller can tell a local
// serialization bug from a delivery problem.
var ErrEncode = errors.New("sample encode failed")

// ErrLinkNotReady is returned when the paired session is not yet usable.
// Transient: samples are queued, never dropped.
var ErrLinkNotReady = errors.New("link not reachable")

// ErrCaptureAuthorizationDenied is a fatal producer-side permission failure.
// It must never be conflated with transient link errors.
var ErrCaptureAuthorizationDenied = errors.New("capture authorization denied")

// ValidationError describes a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "telemetry: field " + e.Field + ": " + e.Message
}
