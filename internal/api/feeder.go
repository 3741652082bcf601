// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package api

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/ingest"
	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// Feeder bridges pipeline and tuner event streams onto the WebSocket
// hub so display clients see positions and preset changes live.
type Feeder struct {
	hub     *Hub
	ingest  <-chan ingest.Event
	presets <-chan telemetry.TrackingPreset
	logger  zerolog.Logger
}

// NewFeeder wires the event streams to the hub.
func NewFeeder(hub *Hub, ingestEvents <-chan ingest.Event, presets <-chan telemetry.TrackingPreset, logger zerolog.Logger) *Feeder {
	return &Feeder{
		hub:     hub,
		ingest:  ingestEvents,
		presets: presets,
		logger:  logger,
	}
}

// Serve forwards events until the context ends or both streams close.
func (f *Feeder) Serve(ctx context.Context) error {
	ingestEvents := f.ingest
	presets := f.presets

	for ingestEvents != nil || presets != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-ingestEvents:
			if !ok {
				ingestEvents = nil
				continue
			}
			switch ev.Status {
			case ingest.StatusAccepted:
				f.hub.Broadcast(MessageTypePosition, ev.Sample)
			case ingest.StatusQualityRejected:
				f.hub.Broadcast(MessageTypeRejected, map[string]any{
					"reason":   ev.Reason,
					"sequence": ev.Sample.Sequence,
				})
			}

		case preset, ok := <-presets:
			if !ok {
				presets = nil
				continue
			}
			f.hub.Broadcast(MessageTypePreset, preset)
		}
	}

	f.logger.Debug().Msg("event streams closed, feeder exiting")
	return nil
}

// String names the service in supervisor logs.
func (f *Feeder) String() string { return "event-feeder" }
