package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type profileStore interface {
	GetUserProfile(ctx context.Context, userID int64) (*models.UserProfile, error)
	GetTherapistProfile(ctx context.Context, userID int64) (*models.TherapistProfile, error)
	SetAvailability(ctx context.Context, userID int64, isOnline bool) (*models.TherapistProfile, error)
}

type ProfileHandler struct {
	profiles profileStore
}

func NewProfileHandler(profiles profileStore) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

type availabilityRequest struct {
	IsOnline *bool `json:"is_online"`
}

func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || (role != models.RoleUser && role != models.RoleTherapist) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var profile any
	if role == models.RoleTherapist {
		profile, err = h.profiles.GetTherapistProfile(c.Context(), userID)
	} else {
		profile, err = h.profiles.GetUserProfile(c.Context(), userID)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch profile"})
	}

	return c.JSON(fiber.Map{"profile": profile})
}

// SetAvailability toggles whether the therapist is offered pooled requests.
func (h *ProfileHandler) SetAvailability(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req availabilityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.IsOnline == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "is_online is required"})
	}

	profile, err := h.profiles.SetAvailability(c.Context(), userID, *req.IsOnline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Profile not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update availability"})
	}

	return c.JSON(fiber.Map{"profile": profile})
}

func parseProfileUserID(c *fiber.Ctx) (int64, error) {
	userIDValue := c.Locals("user_id")
	userIDStr, ok := userIDValue.(string)
	if !ok {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(userIDStr, 10, 64)
}
