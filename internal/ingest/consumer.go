// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package ingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/transport"
)

// Subscriber is the transport surface the consumer needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error)
}

// Consumer drains the three delivery channels into the pipeline. Each
// channel gets its own goroutine; the pipeline's internal lock provides
// the single-writer acceptance the ordering invariants need.
type Consumer struct {
	sub      Subscriber
	pipeline *Pipeline
	logger   zerolog.Logger
}

// NewConsumer wires a consumer against a subscriber and pipeline.
func NewConsumer(sub Subscriber, pipeline *Pipeline, logger zerolog.Logger) *Consumer {
	return &Consumer{sub: sub, pipeline: pipeline, logger: logger}
}

// Serve subscribes to all three channel topics and feeds every payload to
// the pipeline until the context is canceled. Implements suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	topics := []string{
		transport.TopicImmediate,
		transport.TopicLatest,
		transport.TopicQueued,
	}

	var wg sync.WaitGroup
	for _, topic := range topics {
		msgs, err := c.sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}

		wg.Add(1)
		go func(topic string, msgs <-chan *message.Message) {
			defer wg.Done()
			c.drain(topic, msgs)
		}(topic, msgs)
	}

	wg.Wait()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logging.
func (c *Consumer) String() string {
	return "ingest-consumer"
}

func (c *Consumer) drain(topic string, msgs <-chan *message.Message) {
	for msg := range msgs {
		outcome := c.pipeline.Accept(msg.Payload)
		// Every payload is acked: the pipeline's dedup window and counters
		// are the durable record of what happened, and a nack would only
		// redeliver a payload we have already decided about.
		msg.Ack()

		if outcome.Status == StatusDecodeFailed {
			c.logger.Warn().Str("topic", topic).Err(outcome.Err).Msg("undecodable payload")
		}
	}
}
