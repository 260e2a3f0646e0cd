// Package sse fans pipeline events out to server-sent event clients.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"birdwatch-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// Event names sent to clients
const (
	EventCapture  = "capture"
	EventSnapshot = "snapshot"
)

// Message is one event with its JSON payload
type Message struct {
	Event string
	Data  []byte
}

// Client is the channel of a single connected SSE client
type Client chan Message

// Hub manages the connected clients and broadcasts messages to them
type Hub struct {
	clients    map[Client]bool
	broadcast  chan Message
	register   chan Client
	unregister chan Client
	done       chan struct{}

	// mu guards clients for ClientCount
	mu sync.Mutex
}

// CaptureData is the payload of a capture event
type CaptureData struct {
	ID            string               `json:"id"`
	Image         string               `json:"image"`
	Timestamp     time.Time            `json:"timestamp"`
	DetectionInfo models.DetectionInfo `json:"detection_info"`
	Detections    []models.Detection   `json:"detections"`
}

// NewHub creates a hub. Messages are only delivered while Run is running.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 100),
		register:   make(chan Client),
		unregister: make(chan Client),
		clients:    make(map[Client]bool),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes
// every client channel
func (h *Hub) Run(ctx context.Context) {
	log.Info("SSE hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			log.Info("SSE hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client registered, %d connected", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Debugf("SSE client unregistered, %d connected", count)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client <- msg:
				default:
					log.Warn("SSE client is not keeping up, disconnecting it")
					delete(h.clients, client)
					close(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Register adds client. It returns false when the hub is stopped.
func (h *Hub) Register(client Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client and closes its channel
func (h *Hub) Unregister(client Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish marshals payload and queues it for all clients. The message is
// dropped when the broadcast queue is full.
func (h *Hub) Publish(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.WithError(err).WithField("event", event).Error("Failed to marshal SSE payload")
		return
	}
	select {
	case h.broadcast <- Message{Event: event, Data: data}:
	default:
		log.WithField("event", event).Warn("SSE broadcast queue full, message dropped")
	}
}

// PublishCapture sends a capture event. imageRef is the URL of the capture image.
func (h *Hub) PublishCapture(c models.Capture, imageRef string) {
	h.Publish(EventCapture, CaptureData{
		ID:            c.ID,
		Image:         imageRef,
		Timestamp:     c.CreatedAt,
		DetectionInfo: c.Info(),
		Detections:    c.Detections,
	})
}
