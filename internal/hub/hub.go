package hub

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// Event types pushed to the members of a relationship.
const (
	EventRelationshipEnded   = "relationship_ended"
	EventResumeRequested     = "resume_requested"
	EventResumeCancelled     = "resume_cancelled"
	EventRelationshipResumed = "relationship_resumed"
	EventPostCreated         = "post_created"
	EventPostDeleted         = "post_deleted"
)

// Event represents a real-time event to be sent to clients.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client is a single SSE connection of one relationship member. The handler
// drains it until the hub closes it.
type Client chan []byte

// ClientBuffer is the number of events a client may lag behind before new
// events are dropped for it.
const ClientBuffer = 16

// Hub fans relationship events out to the connected members.
type Hub struct {
	relationships map[uint]map[Client]bool
	mu            sync.RWMutex
	logger        *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		relationships: make(map[uint]map[Client]bool),
		logger:        logger,
	}
}

// Subscribe registers a new client for a relationship and returns it.
func (h *Hub) Subscribe(relationshipID uint) Client {
	client := make(Client, ClientBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.relationships[relationshipID]; !ok {
		h.relationships[relationshipID] = make(map[Client]bool)
	}
	h.relationships[relationshipID][client] = true
	return client
}

// Unsubscribe removes a client and closes its channel.
func (h *Hub) Unsubscribe(relationshipID uint, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.relationships[relationshipID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client)
	if len(clients) == 0 {
		delete(h.relationships, relationshipID)
	}
}

// Subscribers returns the number of clients connected to a relationship.
func (h *Hub) Subscribers(relationshipID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.relationships[relationshipID])
}

// Broadcast sends an event to every client of a relationship. It never blocks:
// a client whose buffer is full misses the event.
func (h *Hub) Broadcast(relationshipID uint, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.relationships[relationshipID]
	if !ok {
		return
	}

	messageBytes, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode hub event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	for client := range clients {
		select {
		case client <- messageBytes:
		default:
			h.logger.Debug("dropping event for slow client",
				zap.Uint("relationship_id", relationshipID), zap.String("type", event.Type))
		}
	}
}
