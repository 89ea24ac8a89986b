// Package websocket streams pipeline events to dashboard clients.
package websocket

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hivetrap/backend/internal/events"
)

// Feed manages WebSocket connections for the live event feed. Every
// event published on the bus is forwarded to every connected client.
type Feed struct {
	bus        *events.EventBus
	clients    map[*websocket.Conn]bool
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
}

// NewFeed creates a feed over the given bus.
func NewFeed(bus *events.EventBus) *Feed {
	return &Feed{
		bus:        bus,
		clients:    make(map[*websocket.Conn]bool),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
	}
}

// Run pumps bus events to clients until ctx ends.
func (f *Feed) Run(ctx context.Context) {
	stream := f.bus.Subscribe()
	defer f.bus.Unsubscribe(stream)

	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return

		case client := <-f.register:
			f.mu.Lock()
			f.clients[client] = true
			total := len(f.clients)
			f.mu.Unlock()
			log.Printf("📡 WebSocket client connected (total: %d)", total)

		case client := <-f.unregister:
			f.mu.Lock()
			if _, ok := f.clients[client]; ok {
				delete(f.clients, client)
				client.Close()
			}
			total := len(f.clients)
			f.mu.Unlock()
			log.Printf("📡 WebSocket client disconnected (total: %d)", total)

		case event := <-stream:
			f.mu.Lock()
			for client := range f.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("WebSocket write error: %v", err)
					client.Close()
					delete(f.clients, client)
				}
			}
			f.mu.Unlock()
		}
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (f *Feed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	f.register <- conn

	// Drain client frames; any read error ends the connection.
	go func() {
		defer func() {
			f.unregister <- conn
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (f *Feed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for client := range f.clients {
		client.Close()
	}
	f.clients = make(map[*websocket.Conn]bool)
}

// GetStatistics returns feed statistics for the stats endpoint.
func (f *Feed) GetStatistics() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return map[string]interface{}{
		"connected_clients": len(f.clients),
	}
}
