package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
)

const (
	frameError       = "ERROR"
	framePool        = "REQUEST_POOL"
	poolRefreshLimit = 50
)

type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery
	logger     *slog.Logger
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID int64
	send   chan []byte
}

// SessionFrames is what the heartbeat and in-call frames are routed to.
type SessionFrames interface {
	UpdatePing(ctx context.Context, sessionID int64, userID int64) (*services.PingResult, error)
	EstimateFee(ctx context.Context, sessionID int64, userID int64) (*services.FeeEstimate, error)
	RaiseHand(ctx context.Context, sessionID int64, userID int64) error
}

type PoolLister interface {
	ListPool(ctx context.Context, therapistID int64, limit int) ([]models.SessionRequest, error)
}

type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type delivery struct {
	userIDs []int64
	payload []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[int64]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 256),
		logger:     logger,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

// Run owns the connection registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for userID, set := range h.clients {
				for client := range set {
					close(client.send)
				}
				delete(h.clients, userID)
			}
			return
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case message := <-h.broadcast:
			for _, userID := range message.userIDs {
				h.sendToUser(userID, message.payload)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Notify pushes an event to every live connection of the given users. Users without
// a connection are skipped.
func (h *Hub) Notify(userIDs []int64, event models.Event) {
	if len(userIDs) == 0 {
		return
	}
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	encoded, err := json.Marshal(Message{
		Type:      event.Type,
		Payload:   event.Payload,
		Timestamp: formatTimestamp(at),
	})
	if err != nil {
		h.logger.Error("hub encode event", "type", event.Type, "error", err)
		return
	}

	select {
	case h.broadcast <- &delivery{userIDs: userIDs, payload: encoded}:
	default:
		h.logger.Warn("hub backlog full, push dropped", "type", event.Type, "users", len(userIDs))
	}
}

func (h *Hub) sendToUser(userID int64, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

type inboundFrame struct {
	Type      string `json:"type"`
	SessionID int64  `json:"session_id"`
}

func (c *Client) ReadPump(sessions SessionFrames, pool PoolLister, role string) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleFrame(context.Background(), payload, sessions, pool, role)
	}
}

func (c *Client) handleFrame(
	ctx context.Context,
	payload []byte,
	sessions SessionFrames,
	pool PoolLister,
	role string,
) {
	var incoming inboundFrame
	if err := json.Unmarshal(payload, &incoming); err != nil {
		writeError(c, "invalid message payload")
		return
	}

	switch incoming.Type {
	case models.EventPingReceived:
		if incoming.SessionID <= 0 {
			writeError(c, "invalid session id")
			return
		}
		if _, err := sessions.UpdatePing(ctx, incoming.SessionID, c.userID); err != nil {
			c.hub.logger.Debug("ping rejected", "session_id", incoming.SessionID, "user_id", c.userID, "error", err)
			writeError(c, frameErrorText(err))
		}
	case models.EventSessionFeeUpdate:
		if incoming.SessionID <= 0 {
			writeError(c, "invalid session id")
			return
		}
		estimate, err := sessions.EstimateFee(ctx, incoming.SessionID, c.userID)
		if err != nil {
			writeError(c, frameErrorText(err))
			return
		}
		writeFrame(c, Message{Type: models.EventSessionFeeUpdate, Payload: estimate})
	case models.EventSessionRiseHand:
		if incoming.SessionID <= 0 {
			writeError(c, "invalid session id")
			return
		}
		if err := sessions.RaiseHand(ctx, incoming.SessionID, c.userID); err != nil {
			writeError(c, frameErrorText(err))
		}
	case models.EventRequestStatusUpdated:
		if role != models.RoleTherapist {
			writeError(c, "forbidden")
			return
		}
		requests, err := pool.ListPool(ctx, c.userID, poolRefreshLimit)
		if err != nil {
			writeError(c, frameErrorText(err))
			return
		}
		writeFrame(c, Message{Type: framePool, Payload: requests})
	default:
		writeError(c, "unsupported message type")
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func frameErrorText(err error) string {
	var statusErr *services.RequestStatusError
	switch {
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.Is(err, services.ErrForbidden):
		return "forbidden"
	case errors.Is(err, services.ErrInvalidStateTransition):
		return "session is not live"
	case errors.Is(err, services.ErrTherapistNotFound):
		return "therapist not found"
	default:
		return "request failed"
	}
}

func writeError(client *Client, message string) {
	writeFrame(client, Message{Type: frameError, Error: message})
}

func writeFrame(client *Client, message Message) {
	message.Timestamp = formatTimestamp(time.Now())
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case client.send <- payload:
	default:
		client.hub.Unregister(client)
	}
}

func formatTimestamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}
