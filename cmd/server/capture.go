// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package main

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/tomtom215/trackrelay/internal/perf"
	"github.com/tomtom215/trackrelay/internal/relay"
	"github.com/tomtom215/trackrelay/internal/telemetry"
	"github.com/tomtom215/trackrelay/internal/transport"
	"github.com/tomtom215/trackrelay/internal/tuner"
)

// captureLoop is the development stand-in for a real wearable. It walks
// a position track at a cadence driven by the adaptive tuner, drains a
// battery model, and periodically drops the link to exercise the queued
// delivery path.
type captureLoop struct {
	publisher *relay.Publisher
	tuner     *tuner.Tuner
	transport *transport.SessionTransport
	monitor   *perf.Monitor
	logger    zerolog.Logger

	// authorize is the sensor permission check, consulted before each
	// acquisition. The simulated sensor is always authorized.
	authorize func() error
}

func newCaptureLoop(publisher *relay.Publisher, tn *tuner.Tuner, tr *transport.SessionTransport, monitor *perf.Monitor, logger zerolog.Logger) *captureLoop {
	return &captureLoop{
		publisher: publisher,
		tuner:     tn,
		transport: tr,
		monitor:   monitor,
		logger:    logger,
		authorize: func() error { return nil },
	}
}

// Serve runs the synthetic walk until the context is canceled. The rate
// limiter tracks the active preset's sampling interval; preset changes
// retune it on the fly.
func (l *captureLoop) Serve(ctx context.Context) error {
	// Start near Greenwich and wander.
	lat, lon := 51.4769, 0.0005
	heading := rand.Float64() * 2 * math.Pi
	power := 1.0
	speed := 1.4 // walking pace, m/s

	l.transport.SetReachable(true)
	l.monitor.SetReachable(true)

	preset := l.tuner.Update(power, speed)
	limiter := rate.NewLimiter(rate.Every(preset.SamplingInterval), 1)

	linkTicker := time.NewTicker(45 * time.Second)
	defer linkTicker.Stop()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		// A revoked capture permission is fatal, not transient: restarting
		// the loop cannot recover it, so the supervisor must not try.
		if err := l.authorize(); err != nil {
			if errors.Is(err, telemetry.ErrCaptureAuthorizationDenied) {
				l.logger.Error().Err(err).Msg("capture authorization revoked, stopping")
				return suture.ErrDoNotRestart
			}
			return err
		}

		select {
		case <-linkTicker.C:
			// Drop the link one interval in four to exercise fallback
			// and queued retry.
			up := rand.IntN(4) != 0
			l.transport.SetReachable(up)
			l.monitor.SetReachable(up)
			l.logger.Debug().Bool("reachable", up).Msg("simulated link change")
		default:
		}

		// Random walk: drift the heading, occasionally sprint or stop.
		heading += (rand.Float64() - 0.5) * 0.6
		switch rand.IntN(10) {
		case 0:
			speed = 0.0
		case 1:
			speed = 4.5
		default:
			speed = 1.4
		}

		step := speed * preset.SamplingInterval.Seconds()
		lat += step * math.Cos(heading) / 111320.0
		lon += step * math.Sin(heading) / (111320.0 * math.Cos(lat*math.Pi/180))

		power -= 0.0001 * preset.SamplingInterval.Seconds()
		if power < 0 {
			power = 0
		}

		sample := telemetry.Sample{
			Timestamp:          time.Now().UTC(),
			Latitude:           lat,
			Longitude:          lon,
			HorizontalAccuracy: simulatedAccuracy(preset.Accuracy),
			VerticalAccuracy:   8,
			Speed:              speed,
			Course:             math.Mod(heading*180/math.Pi+360, 360),
			PowerLevel:         power,
		}
		if err := l.publisher.Publish(ctx, sample); err != nil {
			l.logger.Warn().Err(err).Msg("publish failed")
		}

		next := l.tuner.Update(power, speed)
		if next.SamplingInterval != preset.SamplingInterval {
			limiter.SetLimit(rate.Every(next.SamplingInterval))
		}
		preset = next
	}
}

// String names the service in supervisor logs.
func (l *captureLoop) String() string { return "capture-loop" }

// simulatedAccuracy maps the accuracy class to a plausible error radius
// with some jitter.
func simulatedAccuracy(class telemetry.AccuracyClass) float64 {
	switch class {
	case telemetry.AccuracyBest:
		return 3 + rand.Float64()*3
	case telemetry.AccuracyNavigation:
		return 6 + rand.Float64()*6
	default:
		return 20 + rand.Float64()*25
	}
}
