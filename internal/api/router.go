// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

// Package api serves the companion display layer: a small read-mostly
// JSON API, a live WebSocket feed, and Prometheus metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP routing tree.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handler.Health)
		r.Get("/latest", handler.Latest)
		r.Get("/history", handler.History)
		r.Get("/performance", handler.Performance)
		r.Get("/performance/history", handler.PerformanceHistory)
		r.Get("/preset", handler.Preset)
		r.Post("/preset/emergency", handler.Emergency)
		r.Get("/status", handler.Status)
		r.Get("/ws", handler.WebSocket)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
