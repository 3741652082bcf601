// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags plus cross-field constraints that tags
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Relay.RetryMaxInterval < c.Relay.RetryInitialInterval {
		return fmt.Errorf("relay.retry_max_interval (%v) must be >= relay.retry_initial_interval (%v)",
			c.Relay.RetryMaxInterval, c.Relay.RetryInitialInterval)
	}
	if c.Relay.RetryMaxElapsed < c.Relay.RetryMaxInterval {
		return fmt.Errorf("relay.retry_max_elapsed (%v) must be >= relay.retry_max_interval (%v)",
			c.Relay.RetryMaxElapsed, c.Relay.RetryMaxInterval)
	}
	if c.Ingest.DedupWindow < c.Ingest.HistoryCapacity {
		return fmt.Errorf("ingest.dedup_window (%d) must be >= ingest.history_capacity (%d) or duplicates can re-enter history",
			c.Ingest.DedupWindow, c.Ingest.HistoryCapacity)
	}

	return nil
}
