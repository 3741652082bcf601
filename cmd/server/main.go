// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package main is the entry point for the Trackrelay server.
//
// Trackrelay relays GPS telemetry from a wearable capture source to a
// companion display layer over three delivery channels: an immediate
// channel for low-latency sends while the link is reachable, a
// throttled latest-position channel, and a queued channel with
// guaranteed delivery and retry. The ingestion side deduplicates,
// quality-gates, and time-orders incoming samples, keeps a bounded
// history, and feeds performance accounting persisted to BadgerDB.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (TRACKRELAY_ prefix)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the
// supervisor tree stops all services, the HTTP server drains in-flight
// requests, and a final performance snapshot is flushed to the store.
//
// # Simulation Mode
//
// With -simulate a synthetic capture loop replaces a real wearable:
// it walks a position track, drains a battery model, and feeds the
// publisher at the cadence the adaptive tuner selects. This exercises
// the full relay and ingestion path in development.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/trackrelay/internal/api"
	"github.com/tomtom215/trackrelay/internal/config"
	"github.com/tomtom215/trackrelay/internal/ingest"
	"github.com/tomtom215/trackrelay/internal/logging"
	"github.com/tomtom215/trackrelay/internal/perf"
	"github.com/tomtom215/trackrelay/internal/relay"
	"github.com/tomtom215/trackrelay/internal/supervisor"
	"github.com/tomtom215/trackrelay/internal/transport"
	"github.com/tomtom215/trackrelay/internal/tuner"
)

func main() {
	simulate := flag.Bool("simulate", false, "run a synthetic capture loop instead of waiting for a wearable")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Caller: cfg.Log.Caller,
	})

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("store_path", cfg.Store.Path).
		Bool("simulate", *simulate).
		Msg("Starting Trackrelay")

	store, closeStore, err := perf.OpenStore(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logging.Error().Err(err).Msg("Error closing snapshot store")
		}
	}()

	// Session transport. One instance carries all three channels; the
	// capture side publishes and the ingest side subscribes.
	tr := transport.New(transport.DefaultConfig(), logging.With("transport"))
	defer func() {
		if err := tr.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing transport")
		}
	}()
	// The host process stands in for the platform lifecycle collaborator:
	// background execution is guaranteed for as long as it runs.
	tr.SetKeepaliveActive(true)

	monitor := perf.NewMonitor(cfg.Perf, logging.With("perf"))
	pipeline := ingest.NewPipeline(cfg.Ingest, monitor, logging.With("ingest"))
	defer pipeline.Close()

	consumer := ingest.NewConsumer(tr, pipeline, logging.With("ingest"))

	publisher, err := relay.NewPublisher(cfg.Relay, tr, tr, tr, tr, logging.With("relay"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build publisher")
	}
	defer publisher.Stop()

	tn := tuner.New(cfg.Tuner, logging.With("tuner"))
	hub := api.NewHub(logging.With("websocket"))
	feeder := api.NewFeeder(hub, pipeline.Subscribe(), tn.Changes(), logging.With("websocket"))
	recorder := perf.NewRecorder(monitor, store, cfg.Perf.SnapshotInterval, logging.With("perf"))

	handler := api.NewHandler(pipeline, monitor, store, tn, publisher, hub, logging.With("api"))
	server := api.NewServer(cfg.Server.Addr, api.NewRouter(handler), cfg.Server.ShutdownTimeout)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddRelayService(publisher)
	if *simulate {
		tree.AddRelayService(newCaptureLoop(publisher, tn, tr, monitor, logging.With("capture")))
	}
	tree.AddIngestService(consumer)
	tree.AddIngestService(feeder)
	tree.AddIngestService(recorder)
	tree.AddAPIService(hub)
	tree.AddAPIService(server)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("session_id", publisher.SessionID()).Msg("Supervisor tree starting")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited with error")
		os.Exit(1)
	}

	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		for _, svc := range report {
			logging.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	logging.Info().Msg("Trackrelay stopped")
}
