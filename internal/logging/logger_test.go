// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})

	Info().Str("channel", "latest").Msg("push")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if entry["message"] != "push" {
		t.Errorf("message = %v, want push", entry["message"])
	}
	if entry["channel"] != "latest" {
		t.Errorf("channel = %v, want latest", entry["channel"])
	}
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})

	Debug().Msg("hidden")
	Info().Msg("hidden")
	Warn().Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("below-level messages were emitted: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn message missing from output: %s", out)
	}
}

func TestInitInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "nonsense", Format: "json", Output: &buf})

	Debug().Msg("debug")
	Info().Msg("info")

	out := buf.String()
	if strings.Contains(out, "debug") {
		t.Error("debug should be filtered when level falls back to info")
	}
	if !strings.Contains(out, "info") {
		t.Error("info should be emitted when level falls back to info")
	}
}

func TestWithComponentField(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})

	logger := With("relay")
	logger.Info().Msg("started")

	if !strings.Contains(buf.String(), `"component":"relay"`) {
		t.Errorf("component field missing: %s", buf.String())
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "json", Output: &buf})

	if err := SetLevel("error"); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	Info().Msg("hidden")
	Error().Msg("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info emitted after level raised to error")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("error missing after level raised to error")
	}

	if err := SetLevel("bogus"); err == nil {
		t.Error("SetLevel should reject unknown levels")
	}
}

func TestSlogHandlerRoutesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	slogger := slog.New(NewSlogHandler())
	slogger.Info("supervisor event", "service", "http-server")

	out := buf.String()
	if !strings.Contains(out, "supervisor event") {
		t.Errorf("slog message not routed to zerolog: %s", out)
	}
	if !strings.Contains(out, `"service":"http-server"`) {
		t.Errorf("slog attr not routed to zerolog: %s", out)
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	slogger := slog.New(NewSlogHandler()).WithGroup("suture").With("tree", "root")
	slogger.Warn("restart")

	if !strings.Contains(buf.String(), `"suture.tree":"root"`) {
		t.Errorf("grouped attr key not prefixed: %s", buf.String())
	}
}
