package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
	"github.com/shopspring/decimal"
)

type SessionHandler struct {
	service sessionApplicationService
}

type sessionApplicationService interface {
	CreateDirectSession(ctx context.Context, therapistID int64, input services.CreateDirectSessionInput) (*models.Session, error)
	GetSession(ctx context.Context, actorID int64, role string, sessionID int64) (*models.Session, error)
	AcceptSession(ctx context.Context, sessionID int64, therapistID int64) (*models.Session, error)
	JoinSession(ctx context.Context, sessionID int64, userID int64) (*models.Session, error)
	UpdatePing(ctx context.Context, sessionID int64, userID int64) (*services.PingResult, error)
	LeaveSession(ctx context.Context, sessionID int64, userID int64) (*services.LeaveResult, error)
	RejectSession(ctx context.Context, sessionID int64, therapistID int64) (*models.Session, error)
	UpdateWalletOnCall(ctx context.Context, sessionID int64, userID int64, reportedMinutes decimal.Decimal) (*services.LeaveResult, error)
}

func NewSessionHandler(service sessionApplicationService) *SessionHandler {
	return &SessionHandler{service: service}
}

type createDirectSessionRequest struct {
	ClientID    int64   `json:"client_id"`
	SessionType string  `json:"session_type"`
	StreamID    *string `json:"stream_id"`
}

type callMinutesRequest struct {
	Minutes decimal.Decimal `json:"minutes"`
}

func (h *SessionHandler) CreateDirectSession(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createDirectSessionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.SessionType = strings.ToUpper(strings.TrimSpace(req.SessionType))
	if req.SessionType != models.SessionTypePrivate && req.SessionType != models.SessionTypeChatSession {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "session_type must be PRIVATE or CHAT_SESSION"})
	}
	if req.ClientID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "client_id is required"})
	}

	session, err := h.service.CreateDirectSession(c.Context(), userID, services.CreateDirectSessionInput{
		ClientID:    req.ClientID,
		SessionType: req.SessionType,
		StreamID:    req.StreamID,
	})
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.GetSession(c.Context(), userID, role, sessionID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) AcceptSession(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.AcceptSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *SessionHandler) JoinSession(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.JoinSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

// Ping is the HTTP fallback for clients that cannot keep the websocket open.
func (h *SessionHandler) Ping(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	result, err := h.service.UpdatePing(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(result)
}

func (h *SessionHandler) LeaveSession(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	result, err := h.service.LeaveSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(result)
}

func (h *SessionHandler) RejectSession(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	session, err := h.service.RejectSession(c.Context(), sessionID, userID)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

// RecordCallMinutes bills a call that ran without heartbeats.
func (h *SessionHandler) RecordCallMinutes(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	sessionID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid session id"})
	}

	var req callMinutesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Minutes.IsNegative() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "minutes must not be negative"})
	}

	result, err := h.service.UpdateWalletOnCall(c.Context(), sessionID, userID, req.Minutes)
	if err != nil {
		return mapSessionError(c, err)
	}

	return c.JSON(result)
}

func mapSessionError(c *fiber.Ctx, err error) error {
	var statusErr *services.RequestStatusError
	switch {
	case errors.As(err, &statusErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": statusErr.Error(), "status": statusErr.Status})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInsufficientFunds):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Insufficient balance"})
	case errors.Is(err, services.ErrTransactionSettled), errors.Is(err, services.ErrDuplicateTransaction):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrTherapistBusy), errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrTherapistNotJoined), errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrRetryable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Please retry"})
	case errors.Is(err, services.ErrTherapistNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Therapist not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Session not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process session request"})
	}
}
