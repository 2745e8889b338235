package main

import (
	"encoding/json"
	"sync"

	"github.com/rhollis/albd/pkg/ipc"
)

// eventHub fans job_update and tree_changed events out to subscribed IPC
// connections.
type eventHub struct {
	logger  ipc.Logger
	mu      sync.Mutex
	clients map[*eventClient]struct{}
}

type eventClient struct {
	send chan json.RawMessage
}

func newEventHub(logger ipc.Logger) *eventHub {
	return &eventHub{
		logger:  logger,
		clients: make(map[*eventClient]struct{}),
	}
}

func (h *eventHub) register() *eventClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	client := &eventClient{send: make(chan json.RawMessage, 16)}
	h.clients[client] = struct{}{}
	return client
}

func (h *eventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *eventHub) broadcast(e event) {
	payload, err := e.payload()
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("event marshal error: %v", err)
		}
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			if h.logger != nil {
				h.logger.Printf("dropping event for slow client")
			}
		}
	}
}
