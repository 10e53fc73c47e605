package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
)

type therapistMatchmaker interface {
	MatchTherapists(ctx context.Context, request *models.SessionRequest, limit int) ([]models.TherapistWithScore, error)
}

type therapistLookup interface {
	GetTherapistProfile(ctx context.Context, userID int64) (*models.TherapistProfile, error)
}

type TherapistDiscoveryHandler struct {
	therapists therapistLookup
	matcher    therapistMatchmaker
}

func NewTherapistDiscoveryHandler(therapists therapistLookup, matcher therapistMatchmaker) *TherapistDiscoveryHandler {
	return &TherapistDiscoveryHandler{therapists: therapists, matcher: matcher}
}

// GetRecommendedTherapists previews who a pooled request with these categories would reach.
func (h *TherapistDiscoveryHandler) GetRecommendedTherapists(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var categories []string
	if raw := strings.TrimSpace(c.Query("categories")); raw != "" {
		categories = services.CleanCategories(strings.Split(raw, ","))
	}

	therapists, err := h.matcher.MatchTherapists(c.Context(), &models.SessionRequest{
		ClientID:   userID,
		Categories: categories,
	}, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch recommended therapists"})
	}

	return c.JSON(fiber.Map{"therapists": therapists})
}

func (h *TherapistDiscoveryHandler) GetTherapist(c *fiber.Ctx) error {
	therapistID, ok := parseIDParam(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid therapist id"})
	}

	therapist, err := h.therapists.GetTherapistProfile(c.Context(), therapistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Therapist not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch therapist"})
	}

	return c.JSON(fiber.Map{"therapist": therapist})
}
