package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
)

type requestApplicationService interface {
	CreateRequest(ctx context.Context, clientID int64, input services.CreateRequestInput) (*models.SessionRequest, error)
	ListPool(ctx context.Context, therapistID int64, limit int) ([]models.SessionRequest, error)
	GetRequest(ctx context.Context, userID int64, role string, requestID int64) (*models.SessionRequest, error)
	AcceptTherapistRequest(ctx context.Context, therapistID int64, requestID int64, streamID string) (*models.Session, error)
	AcceptScheduledRequest(ctx context.Context, therapistID int64, requestID int64) (*models.SessionRequest, error)
	StartScheduledRequest(ctx context.Context, therapistID int64, requestID int64, streamID string) (*models.Session, error)
	WithdrawRequest(ctx context.Context, clientID int64, requestID int64) (*models.SessionRequest, error)
	WithdrawAllSessionRequests(ctx context.Context, clientID int64) (int, error)
}

type RequestHandler struct {
	service requestApplicationService
}

func NewRequestHandler(service requestApplicationService) *RequestHandler {
	return &RequestHandler{service: service}
}

type createSessionRequestRequest struct {
	TherapistID *int64   `json:"therapist_id"`
	Categories  []string `json:"categories"`
	Note        *string  `json:"note"`
	StartTime   *string  `json:"start_time"`
	EndTime     *string  `json:"end_time"`
}

type streamRequest struct {
	StreamID string `json:"stream_id"`
}

func (h *RequestHandler) CreateRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req createSessionRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	input := services.CreateRequestInput{
		TherapistID: req.TherapistID,
		Categories:  req.Categories,
		Note:        req.Note,
	}
	if req.Note != nil && strings.TrimSpace(*req.Note) == "" {
		input.Note = nil
	}
	if req.StartTime != nil || req.EndTime != nil {
		if req.StartTime == nil || req.EndTime == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_time and end_time must be sent together"})
		}
		startTime, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.StartTime))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_time must be a valid RFC3339 timestamp"})
		}
		endTime, err := time.Parse(time.RFC3339, strings.TrimSpace(*req.EndTime))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_time must be a valid RFC3339 timestamp"})
		}
		if req.TherapistID == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "therapist_id is required for a scheduled session"})
		}
		input.StartTime = &startTime
		input.EndTime = &endTime
	}

	request, err := h.service.CreateRequest(c.Context(), userID, input)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"request": request})
}

func (h *RequestHandler) ListPool(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	limit := parsePositiveInt(c.Query("limit"), maxPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	requests, err := h.service.ListPool(c.Context(), userID, limit)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"requests": requests})
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requestID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}

	request, err := h.service.GetRequest(c.Context(), userID, role, requestID)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"request": request})
}

// AcceptRequest is the therapist claiming a pooled request. Only the first claim wins.
func (h *RequestHandler) AcceptRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requestID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}

	var req streamRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	session, err := h.service.AcceptTherapistRequest(c.Context(), userID, requestID, req.StreamID)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *RequestHandler) AcceptScheduledRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requestID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}

	request, err := h.service.AcceptScheduledRequest(c.Context(), userID, requestID)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"request": request})
}

func (h *RequestHandler) StartScheduledRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requestID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}

	var req streamRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
	}

	session, err := h.service.StartScheduledRequest(c.Context(), userID, requestID, req.StreamID)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"session": session})
}

func (h *RequestHandler) WithdrawRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	requestID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request id"})
	}

	request, err := h.service.WithdrawRequest(c.Context(), userID, requestID)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"request": request})
}

func (h *RequestHandler) WithdrawAll(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	withdrawn, err := h.service.WithdrawAllSessionRequests(c.Context(), userID)
	if err != nil {
		return mapRequestError(c, err)
	}

	return c.JSON(fiber.Map{"withdrawn": withdrawn})
}

func mapRequestError(c *fiber.Ctx, err error) error {
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
	case errors.Is(err, services.ErrScheduleConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Requested time conflicts with another session"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "An open request or session already exists"})
	case errors.Is(err, services.ErrTherapistBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrDuplicateTransaction):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrInvalidStateTransition):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrRetryable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Please retry"})
	case errors.Is(err, services.ErrTherapistNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Therapist not found"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Request not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process session request"})
	}
}
