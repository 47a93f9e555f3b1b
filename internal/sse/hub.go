// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package sse fans out server-sent events to connected clients.
package sse

import (
	"slices"
	"sync"
)

// TopicMaintenance carries maintenance status changes.
const TopicMaintenance = "maintenance"

// Hub manages SSE clients per topic.
type Hub struct {
	clients map[string][]chan string
	mu      sync.RWMutex
}

// NewHub creates a new SSE hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string][]chan string),
	}
}

// Register adds a new client channel for topic.
// Returns the channel to receive events on.
func (h *Hub) Register(topic string) chan string {
	ch := make(chan string, 10) // buffered to prevent blocking

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[topic] = append(h.clients[topic], ch)
	return ch
}

// Unregister removes and closes a client channel.
func (h *Hub) Unregister(topic string, ch chan string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := slices.DeleteFunc(h.clients[topic], func(c chan string) bool {
		return c == ch
	})
	if len(clients) == 0 {
		delete(h.clients, topic)
	} else {
		h.clients[topic] = clients
	}

	close(ch)
}

// Publish sends a message to all clients of topic. Clients with a full
// buffer miss the message.
func (h *Hub) Publish(topic, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients[topic] {
		select {
		case ch <- message:
		default:
			// Channel full, skip
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}
