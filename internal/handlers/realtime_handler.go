package handlers

import (
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	chatws "github.com/saeid-a/TherapyCallBack/internal/websocket"
	"github.com/saeid-a/TherapyCallBack/pkg/utils"
)

// RealtimeHandler upgrades authenticated clients onto the notification hub.
type RealtimeHandler struct {
	hub       *chatws.Hub
	sessions  chatws.SessionFrames
	pool      chatws.PoolLister
	jwtSecret string
}

func NewRealtimeHandler(
	hub *chatws.Hub,
	sessions chatws.SessionFrames,
	pool chatws.PoolLister,
	jwtSecret string,
) *RealtimeHandler {
	return &RealtimeHandler{
		hub:       hub,
		sessions:  sessions,
		pool:      pool,
		jwtSecret: jwtSecret,
	}
}

func (h *RealtimeHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}
	if _, err := strconv.ParseInt(claims.UserID, 10, 64); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *RealtimeHandler) HandleWebSocket(conn *websocket.Conn) {
	rawUserID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil {
		_ = conn.Close()
		return
	}
	client := chatws.NewClient(h.hub, conn, userID)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.sessions, h.pool, role)
}

func (h *RealtimeHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}
