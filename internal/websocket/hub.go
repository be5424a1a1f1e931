package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	ws "github.com/coder/websocket"
)

// Event types pushed to dashboard clients.
const (
	EventSubmissionCompleted = "submission_completed"
	EventSubmissionFailed    = "submission_failed"
	EventPointsCredited      = "points_credited"
	EventRewardRedeemed      = "reward_redeemed"
	EventBoostChanged        = "boost_changed"
	EventTaskPublished       = "task_published"
)

// Message is a real-time event broadcast to all connected clients. MemberID
// identifies whose balances or submissions changed; clients filter locally.
type Message struct {
	Type     string         `json:"type"`
	MemberID int64          `json:"member_id,omitempty"`
	ID       int64          `json:"id,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// NewMessage creates an event message.
func NewMessage(eventType string, memberID, id int64, extra map[string]any) Message {
	return Message{
		Type:     eventType,
		MemberID: memberID,
		ID:       id,
		Extra:    extra,
	}
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client with a full buffer; drop rather than block.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a WebSocket and runs it as a hub client
// until the connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true, // origin is enforced by the CORS layer in front
	})
	if err != nil {
		h.logger.Warn("websocket accept", "error", err)
		return
	}
	NewClient(h, conn).Run(r.Context())
}
