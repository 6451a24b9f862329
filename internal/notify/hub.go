package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"stockease/internal/logger"
	"stockease/internal/metrics"
	"stockease/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is what browser clients receive
type Message struct {
	Type    models.EnvelopeKind `json:"type"`
	Payload interface{}         `json:"payload"`
}

// Hub maintains the set of connected dashboard clients and broadcasts
// weight updates and alerts to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

// NewHub creates a hub; Run must be started before clients connect
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client
func (h *Hub) Run(ctx context.Context) {
	log := logger.WithComponent("ws_hub")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			log.Info().Msg("websocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			log.Debug().Str("remote_addr", client.remoteAddr()).Msg("websocket client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Debug().Str("remote_addr", client.remoteAddr()).Msg("websocket client unregistered")
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// client is not keeping up
					log.Warn().Str("remote_addr", client.remoteAddr()).Msg("websocket send buffer full, removing client")
					close(client.send)
					delete(h.clients, client)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Name implements Sink
func (h *Hub) Name() string { return "websocket" }

// Publish broadcasts one envelope as a Message
func (h *Hub) Publish(ctx context.Context, envelope *models.Envelope) error {
	var payload interface{}
	switch envelope.Kind {
	case models.KindAlert:
		payload = envelope.Alert
	case models.KindWeight:
		payload = envelope.Weight
	default:
		return nil
	}

	data, err := json.Marshal(Message{Type: envelope.Kind, Payload: payload})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishBatch broadcasts the envelopes in order
func (h *Hub) PublishBatch(ctx context.Context, envelopes []*models.Envelope) error {
	for _, e := range envelopes {
		if err := h.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// ServeWS upgrades the request and attaches the connection to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log := logger.WithComponent("ws_hub")
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
