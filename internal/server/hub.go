package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/scrypster/chronicle/pkg/types"
)

// Event is one evolution state change pushed to websocket subscribers.
type Event struct {
	InteractionID string               `json:"interaction_id"`
	State         types.EvolutionState `json:"state"`
	At            time.Time            `json:"at"`
}

// EventHub manages websocket connections and broadcasts evolution events.
type EventHub struct {
	clients    map[hubClient]bool
	broadcast  chan Event
	register   chan hubClient
	unregister chan hubClient
	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// hubClient allows both real connections and test fakes.
type hubClient interface {
	sendChannel() chan []byte
	closeConn()
}

type wsClient struct {
	hub  *EventHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendChannel() chan []byte { return c.send }

func (c *wsClient) closeConn() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

// NewEventHub creates a hub; call Run in its own goroutine.
func NewEventHub() *EventHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventHub{
		clients:    make(map[hubClient]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan hubClient),
		unregister: make(chan hubClient),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *EventHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: websocket client connected (total: %d)", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.sendChannel())
			}
			count := len(h.clients)
			h.mu.Unlock()
			log.Printf("server: websocket client disconnected (total: %d)", count)

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("server: marshal event: %v", err)
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.sendChannel() <- data:
				default:
					// Slow consumer, drop it.
					close(client.sendChannel())
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and closes every client connection.
func (h *EventHub) Stop() {
	h.cancel()

	h.mu.Lock()
	for client := range h.clients {
		close(client.sendChannel())
		client.closeConn()
	}
	h.clients = make(map[hubClient]bool)
	h.mu.Unlock()
}

// Broadcast queues an event for every subscriber. Never blocks; when the
// queue is full the event is dropped.
func (h *EventHub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("server: event queue full, dropping %s/%s", event.InteractionID, event.State)
	}
}

// drop hands a client to the run loop for removal. After Stop the loop is
// gone, so the send is abandoned instead of blocking the pump goroutine.
func (h *EventHub) drop(client hubClient) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// OnStateChange adapts the hub to the engine's state change callback.
func (h *EventHub) OnStateChange(interactionID string, state types.EvolutionState) {
	h.Broadcast(Event{InteractionID: interactionID, State: state, At: time.Now()})
}

// ServeHTTP upgrades the request to a websocket subscription.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	go client.writePump()
	go client.readPump()
}

// writePump sends queued events to the connection.
func (c *wsClient) writePump() {
	defer c.closeConn()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			c.hub.drop(c)
			return
		}
	}
}

// readPump drains the connection to detect disconnects. Client messages are
// ignored; the feed is one-way.
func (c *wsClient) readPump() {
	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			c.hub.drop(c)
			return
		}
	}
}
