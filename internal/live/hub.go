// Package live streams lifecycle events to connected operator dashboards
// over WebSocket. Instead of polling, operators subscribe to events as they
// happen: managed-service requests awaiting review, plan changes, add-on
// purchases, and degraded billing syncs needing follow-up.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rankpilot/rankpilot/internal/metrics"
)

// EventType for lifecycle events.
type EventType string

const (
	EventManagedRequested EventType = "managed_service.requested"
	EventManagedApproved  EventType = "managed_service.approved"
	EventManagedRejected  EventType = "managed_service.rejected"
	EventManagedCanceled  EventType = "managed_service.canceled"
	EventPlanChanged      EventType = "plan.changed"
	EventAddOnAttached    EventType = "addon.attached"
	EventAddOnDetached    EventType = "addon.detached"
	EventBillingSyncFail  EventType = "billing.sync_failed"
)

// Event is one lifecycle event on the feed.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscription filters for a connected client.
type Subscription struct {
	AllEvents  bool        `json:"allEvents"`
	EventTypes []EventType `json:"eventTypes"`
	AgencyIDs  []string    `json:"agencyIds"`
}

// MaxClients caps concurrent WebSocket connections.
const MaxClients = 1000

// Hub owns the client set and fans events out to matching subscriptions.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; blocks late upgrades
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
}

// NewHub creates an event-feed hub; call Run to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run is the hub loop. It exits when ctx is cancelled, after closing every
// client connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("event feed started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("event feed shutting down, closing client connections")
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends the close frame
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveEventSubscribers.Set(0)
			h.logger.Info("event feed stopped")
			return

		case client := <-h.register:
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.totalClients.Add(1)
	if current := int64(len(h.clients)); current > h.peakClients.Load() {
		h.peakClients.Store(current)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveEventSubscribers.Set(float64(n))
	h.logger.Info("feed client connected", "total", n)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveEventSubscribers.Set(float64(n))
	h.logger.Info("feed client disconnected", "total", n)
}

// fanOut delivers event to every matching client. Clients whose send buffer
// is full are dropped rather than allowed to stall the loop.
func (h *Hub) fanOut(event *Event) {
	h.totalEvents.Add(1)
	payload, _ := json.Marshal(event)

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !h.matches(client, event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) > 0 {
		h.mu.Lock()
		for _, client := range slow {
			if _, ok := h.clients[client]; ok {
				close(client.send)
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// matches applies the client's subscription filters to event.
func (h *Hub) matches(client *Client, event *Event) bool {
	client.mu.RLock()
	sub := client.sub
	client.mu.RUnlock()

	if sub.AllEvents {
		return true
	}

	if len(sub.EventTypes) > 0 {
		found := false
		for _, t := range sub.EventTypes {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(sub.AgencyIDs) > 0 {
		if data, ok := event.Data.(map[string]interface{}); ok {
			agencyID, _ := data["agencyId"].(string)
			found := false
			for _, id := range sub.AgencyIDs {
				if id == agencyID {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}

	return true
}

// Broadcast queues an event, dropping it if the feed is saturated.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast channel full, dropping event")
	}
}

// Publish broadcasts a typed event stamped with the current time.
func (h *Hub) Publish(typ EventType, data map[string]interface{}) {
	h.Broadcast(&Event{Type: typ, Timestamp: time.Now(), Data: data})
}

// Stats returns feed counters for the health endpoint.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades the request and registers the connection with a
// default subscribe-to-everything filter.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}
