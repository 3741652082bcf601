// Trackrelay - Wearable GPS Telemetry Relay and Ingestion
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackrelay

package api

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/trackrelay/internal/metrics"
)

// WebSocket message types.
const (
	MessageTypePosition = "position"
	MessageTypePreset   = "preset_change"
	MessageTypeRejected = "sample_rejected"
	MessageTypePing     = "ping"
	MessageTypePong     = "pong"
)

// Message is the WebSocket envelope sent to display clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of connected display clients and fans messages
// out to them.
type Hub struct {
	logger zerolog.Logger

	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Serve runs the hub loop under supervision. Lifecycle events take
// priority over broadcasts so client state is settled before fan-out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.register:
			h.addClient(client)
			continue
		case client := <-h.unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// String names the service in supervisor logs.
func (h *Hub) String() string { return "websocket-hub" }

// Broadcast queues a message for all clients, dropping it when the
// broadcast buffer is full.
func (h *Hub) Broadcast(messageType string, data any) {
	msg := Message{Type: messageType, Data: data}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("message_type", messageType).Msg("broadcast channel full, dropping message")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
	h.logger.Info().Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(n))
	h.logger.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// fanOut delivers to clients in ID order. A client whose send buffer is
// full is dropped rather than blocking the hub.
func (h *Hub) fanOut(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
	metrics.WebsocketClients.Set(float64(len(h.clients)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	n := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Set(0)
	h.logger.Info().Int("clients_closed", n).Msg("websocket hub stopped")
}
