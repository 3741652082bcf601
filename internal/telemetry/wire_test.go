// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package telemetry

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func validSample() Sample {
	return Sample{
		Timestamp:          time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Source:             "watch",
		SessionID:          "b2f1c9d4",
		Sequence:           42,
		Latitude:           47.6205,
		Longitude:          -122.3493,
		HorizontalAccuracy: 8.5,
		VerticalAccuracy:   12.0,
		Speed:              1.4,
		Course:             270.0,
		PowerLevel:         0.82,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	in := validSample()
	alt := 56.2
	in.Altitude = &alt

	data, err := EncodeSample(in)
	if err != nil {
		t.Fatalf("EncodeSample: %v", err)
	}

	out, err := DecodeSample(data)
	if err != nil {
		t.Fatalf("DecodeSample: %v", err)
	}
	if out.Sequence != in.Sequence {
		t.Errorf("Sequence = %d, want %d", out.Sequence, in.Sequence)
	}
	if !out.Timestamp.Equal(in.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
	if out.Altitude == nil || *out.Altitude != alt {
		t.Errorf("Altitude = %v, want %v", out.Altitude, alt)
	}
	if out.Heading != nil {
		t.Errorf("Heading = %v, want nil", out.Heading)
	}
}

func TestEncodeCarriesSchemaVersion(t *testing.T) {
	t.Parallel()

	data, err := EncodeSample(validSample())
	if err != nil {
		t.Fatalf("EncodeSample: %v", err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if _, ok := env["schema_version"]; !ok {
		t.Fatal("wire payload is missing explicit schema_version field")
	}
}

func TestDecodeRejectsVersionSkew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		version int
	}{
		{"zero version", 0},
		{"future version", SchemaVersion + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data, err := json.Marshal(Envelope{
				SchemaVersion: tt.version,
				Sample:        validSample(),
			})
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if _, err := DecodeSample(data); !errors.Is(err, ErrSchemaVersion) {
				t.Errorf("DecodeSample err = %v, want ErrSchemaVersion", err)
			}
		})
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	t.Parallel()

	if _, err := DecodeSample([]byte("{not json")); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodeSample err = %v, want ErrDecode", err)
	}
}

func TestEncodeInvalidSample(t *testing.T) {
	t.Parallel()

	s := validSample()
	s.Sequence = 0
	if _, err := EncodeSample(s); !errors.Is(err, ErrEncode) {
		t.Errorf("EncodeSample err = %v, want ErrEncode", err)
	}
}

func TestSampleValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Sample)
		field  string
	}{
		{"zero timestamp", func(s *Sample) { s.Timestamp = time.Time{} }, "timestamp"},
		{"empty session", func(s *Sample) { s.SessionID = "" }, "session_id"},
		{"zero sequence", func(s *Sample) { s.Sequence = 0 }, "sequence"},
		{"latitude high", func(s *Sample) { s.Latitude = 91 }, "latitude"},
		{"longitude low", func(s *Sample) { s.Longitude = -181 }, "longitude"},
		{"power above one", func(s *Sample) { s.PowerLevel = 1.2 }, "power_level"},
		{"negative accuracy", func(s *Sample) { s.HorizontalAccuracy = -1 }, "horizontal_accuracy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := validSample()
			tt.mutate(&s)

			err := s.Validate()
			if err == nil {
				t.Fatal("Validate should fail")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	t.Parallel()

	a := validSample()
	b := a
	if d := DistanceMeters(a, b); d != 0 {
		t.Errorf("distance to self = %f, want 0", d)
	}

	// One degree of latitude is ~111.19 km on a 6371 km sphere.
	b.Latitude = a.Latitude + 1.0
	d := DistanceMeters(a, b)
	if math.Abs(d-111195) > 200 {
		t.Errorf("one-degree latitude distance = %f, want ~111195", d)
	}
}
