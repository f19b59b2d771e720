package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

const sendBuffer = 64

// Broadcaster is what the rest of the server needs from the hub.
type Broadcaster interface {
	Broadcast(eventType string, data any)
}

// Hub maintains the set of open browser connections and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	connected func() bool
	upgrader  websocket.Upgrader
}

// New builds a hub. connected reports current controller connectivity for the
// status message every new client receives.
func New(connected func() bool) *Hub {
	if connected == nil {
		connected = func() bool { return false }
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		connected:  connected,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetCheckOrigin restricts which browser origins may open a socket.
func (h *Hub) SetCheckOrigin(fn func(r *http.Request) bool) {
	h.upgrader.CheckOrigin = fn
}

// Run services registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client", client.ID).Int("clients", n).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client", client.ID).Int("clients", n).Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.Send <- message:
				default:
					// Stalled client: this message is dropped, the connection stays.
					log.Warn().Str("client", client.ID).Msg("WebSocket send buffer full, dropping message")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast serializes {type, data} and queues it for every open client.
func (h *Hub) Broadcast(eventType string, data any) {
	message, err := Encode(eventType, data)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("Failed to encode broadcast")
		return
	}

	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
		log.Warn().Str("event", eventType).Msg("Broadcast queue full, dropping event")
	}
}

// Encode builds the wire form of one realtime event.
func Encode(eventType string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(model.Event{Type: eventType, Data: payload})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		Send: make(chan []byte, sendBuffer),
	}

	// Queued ahead of registration so it precedes any broadcast.
	status, err := Encode(model.EventArduinoStatus, map[string]bool{"connected": h.connected()})
	if err == nil {
		client.Send <- status
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
