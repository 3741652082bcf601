// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/ingest"
	"github.com/tomtom215/trackrelay/internal/perf"
	"github.com/tomtom215/trackrelay/internal/telemetry"
)

// SampleSource exposes the ingestion pipeline's read side.
type SampleSource interface {
	Latest() (telemetry.Sample, bool)
	History() []telemetry.Sample
	CountersSnapshot() ingest.Counters
}

// PerfSource exposes the live performance window.
type PerfSource interface {
	Snapshot() perf.Snapshot
}

// PresetController exposes the adaptive tuner.
type PresetController interface {
	Current() telemetry.TrackingPreset
	SetEmergency(on bool)
}

// RelayStatus exposes producer-side delivery health and the lifecycle
// signals the producer observes.
type RelayStatus interface {
	SessionID() string
	Degraded() bool
	PendingTransfers() int
	LinkReachable() bool
	KeepaliveActive() bool
}

// Handler serves the read-only display API.
type Handler struct {
	samples  SampleSource
	perf     PerfSource
	store    perf.SnapshotStore
	presets  PresetController
	relay    RelayStatus
	hub      *Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler wires the API surface to its sources.
func NewHandler(samples SampleSource, perfSrc PerfSource, store perf.SnapshotStore, presets PresetController, relay RelayStatus, hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{
		samples: samples,
		perf:    perfSrc,
		store:   store,
		presets: presets,
		relay:   relay,
		hub:     hub,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Latest returns the most recent accepted position.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	sample, ok := h.samples.Latest()
	if !ok {
		h.writeError(w, http.StatusNotFound, "no position received yet")
		return
	}
	h.writeJSON(w, http.StatusOK, sample)
}

// History returns the retained sample history, oldest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	samples := h.samples.History()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(samples),
		"samples": samples,
	})
}

// Performance returns the live performance window.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.perf.Snapshot())
}

// PerformanceHistory returns persisted snapshots, newest first.
func (h *Handler) PerformanceHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			h.writeError(w, http.StatusBadRequest, "limit must be an integer in [1,1000]")
			return
		}
		limit = n
	}

	snaps, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read snapshot history")
		h.writeError(w, http.StatusInternalServerError, "snapshot store unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(snaps),
		"snapshots": snaps,
	})
}

// Preset returns the active tracking preset.
func (h *Handler) Preset(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.presets.Current())
}

// emergencyRequest is the body for the emergency override endpoint.
type emergencyRequest struct {
	Enabled bool `json:"enabled"`
}

// Emergency engages or releases the emergency tracking override.
func (h *Handler) Emergency(w http.ResponseWriter, r *http.Request) {
	var req emergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.presets.SetEmergency(req.Enabled)
	h.writeJSON(w, http.StatusOK, h.presets.Current())
}

// Status aggregates relay and ingestion health for the display layer.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counters := h.samples.CountersSnapshot()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"time":       time.Now().UTC().Format(time.RFC3339),
		"session_id": h.relay.SessionID(),
		"relay": map[string]any{
			"degraded":          h.relay.Degraded(),
			"pending_transfers": h.relay.PendingTransfers(),
		},
		"link": map[string]any{
			"reachable":        h.relay.LinkReachable(),
			"keepalive_active": h.relay.KeepaliveActive(),
		},
		"ingest": map[string]any{
			"accepted":       counters.Accepted,
			"dedup_drops":    counters.DedupDrops,
			"quality_drops":  counters.QualityDrops,
			"decode_errors":  counters.DecodeErrors,
			"history_length": len(h.samples.History()),
		},
		"websocket_clients": h.hub.ClientCount(),
	})
}

// WebSocket upgrades the connection and attaches it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	NewClient(h.hub, conn, h.logger).Start()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
