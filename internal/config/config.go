// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package config loads layered Trackrelay configuration via Koanf v2:
// built-in defaults, then an optional YAML file, then environment
// variables (highest priority).
package config

import "time"

// Config is the root configuration for the relay and ingestion pipeline.
type Config struct {
	Log    LogConfig    `koanf:"log"`
	Relay  RelayConfig  `koanf:"relay"`
	Ingest IngestConfig `koanf:"ingest"`
	Tuner  TunerConfig  `koanf:"tuner"`
	Perf   PerfConfig   `koanf:"perf"`
	Store  StoreConfig  `koanf:"store"`
	Server ServerConfig `koanf:"server"`
}

// LogConfig controls the zerolog global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// RelayConfig controls the producer-side publisher.
type RelayConfig struct {
	// Source tags outgoing samples (carried on the wire).
	Source string `koanf:"source" validate:"required"`

	// ThrottleInterval is the minimum spacing between latest-channel pushes.
	ThrottleInterval time.Duration `koanf:"throttle_interval" validate:"gt=0"`

	// AccuracyBypassDelta pushes immediately when horizontal accuracy moved
	// at least this many meters since the last push, regardless of throttle.
	AccuracyBypassDelta float64 `koanf:"accuracy_bypass_delta" validate:"gt=0"`

	// Queued-channel retry policy: bounded exponential backoff.
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval" validate:"gt=0"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval" validate:"gt=0"`
	RetryMaxElapsed      time.Duration `koanf:"retry_max_elapsed" validate:"gt=0"`

	// BreakerFailureThreshold is the consecutive queued-transfer failures
	// before delivery is reported as degraded.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold" validate:"gte=1"`

	// BreakerRecoveryTimeout is how long the breaker stays open before
	// probing the channel again.
	BreakerRecoveryTimeout time.Duration `koanf:"breaker_recovery_timeout" validate:"gt=0"`

	// EventBuffer is the per-subscriber buffer for publish events.
	EventBuffer int `koanf:"event_buffer" validate:"gte=1"`
}

// IngestConfig controls the consumer-side pipeline.
type IngestConfig struct {
	// HistoryCapacity bounds the retained sample history. The recommended
	// range is 50-500.
	HistoryCapacity int `koanf:"history_capacity" validate:"gte=50,lte=500"`

	// DedupWindow bounds the recent-sequence membership set.
	DedupWindow int `koanf:"dedup_window" validate:"gte=1"`

	// MaxHorizontalAccuracy rejects fixes with a larger error radius (meters).
	MaxHorizontalAccuracy float64 `koanf:"max_horizontal_accuracy" validate:"gt=0"`

	// MaxPlausibleSpeed rejects samples implying travel faster than this
	// (m/s) relative to the previously accepted sample.
	MaxPlausibleSpeed float64 `koanf:"max_plausible_speed" validate:"gt=0"`

	// EventBuffer is the per-subscriber buffer for pipeline events.
	EventBuffer int `koanf:"event_buffer" validate:"gte=1"`
}

// TunerConfig controls the adaptive preset state machine.
type TunerConfig struct {
	// LowPowerThreshold switches to the saver preset below this fraction.
	LowPowerThreshold float64 `koanf:"low_power_threshold" validate:"gt=0,lt=1"`

	// StationarySpeed switches to the balanced preset below this speed (m/s).
	StationarySpeed float64 `koanf:"stationary_speed" validate:"gt=0"`
}

// PerfConfig controls the performance monitor.
type PerfConfig struct {
	// LatencyWindow caps the rolling latency observation window.
	LatencyWindow int `koanf:"latency_window" validate:"gte=1"`

	// DrainMinInterval is the minimum elapsed time between battery
	// observations before a drain rate is computed.
	DrainMinInterval time.Duration `koanf:"drain_min_interval" validate:"gt=0"`

	// DrainSmoothingAlpha is the EMA coefficient for the smoothed drain rate.
	DrainSmoothingAlpha float64 `koanf:"drain_smoothing_alpha" validate:"gt=0,lte=1"`

	// SnapshotInterval is how often a performance snapshot is persisted.
	SnapshotInterval time.Duration `koanf:"snapshot_interval" validate:"gt=0"`
}

// StoreConfig controls the shared snapshot store.
type StoreConfig struct {
	// Path is the BadgerDB directory for persisted performance snapshots.
	// Empty selects an in-memory store (tests, ephemeral runs).
	Path string `koanf:"path"`
}

// ServerConfig controls the read-only HTTP boundary for the display layer.
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Relay: RelayConfig{
			Source:                  "watch",
			ThrottleInterval:        500 * time.Millisecond,
			AccuracyBypassDelta:     5.0,
			RetryInitialInterval:    250 * time.Millisecond,
			RetryMaxInterval:        30 * time.Second,
			RetryMaxElapsed:         5 * time.Minute,
			BreakerFailureThreshold: 5,
			BreakerRecoveryTimeout:  30 * time.Second,
			EventBuffer:             256,
		},
		Ingest: IngestConfig{
			HistoryCapacity:       300,
			DedupWindow:           512,
			MaxHorizontalAccuracy: 50.0,
			MaxPlausibleSpeed:     12.0, // brisk run with margin
			EventBuffer:           256,
		},
		Tuner: TunerConfig{
			LowPowerThreshold: 0.20,
			StationarySpeed:   0.5,
		},
		Perf: PerfConfig{
			LatencyWindow:       100,
			DrainMinInterval:    time.Minute,
			DrainSmoothingAlpha: 0.3,
			SnapshotInterval:    30 * time.Second,
		},
		Store: StoreConfig{
			Path: "/data/trackrelay/snapshots",
		},
		Server: ServerConfig{
			Addr:            ":3858",
			ShutdownTimeout: 10 * time.Second,
		},
	}
}
