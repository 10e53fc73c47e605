package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/saeid-a/TherapyCallBack/internal/billing"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
	"github.com/shopspring/decimal"
)

type walletApplicationService interface {
	GetWallet(ctx context.Context, userID int64) (*models.Wallet, error)
	WalletCheckForSessionRequest(ctx context.Context, userID int64) error
	ListTransactions(ctx context.Context, userID int64, page int, limit int) ([]models.Transaction, int, error)
	WithdrawWalletBalance(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Wallet, error)
	CompletePayout(ctx context.Context, userID int64, amount decimal.Decimal) (*models.Wallet, error)
}

type WalletHandler struct {
	service walletApplicationService
}

func NewWalletHandler(service walletApplicationService) *WalletHandler {
	return &WalletHandler{service: service}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type payoutRequest struct {
	UserID int64           `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	wallet, err := h.service.GetWallet(c.Context(), userID)
	if err != nil {
		return mapWalletError(c, err)
	}

	return c.JSON(fiber.Map{"wallet": wallet})
}

// CheckForRequest reports whether the caller may open a session request right now.
func (h *WalletHandler) CheckForRequest(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	if err := h.service.WalletCheckForSessionRequest(c.Context(), userID); err != nil {
		if errors.Is(err, services.ErrInsufficientFunds) {
			return c.JSON(fiber.Map{"eligible": false, "reason": "Insufficient balance"})
		}
		return mapWalletError(c, err)
	}

	return c.JSON(fiber.Map{"eligible": true})
}

func (h *WalletHandler) ListTransactions(c *fiber.Ctx) error {
	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	transactions, total, err := h.service.ListTransactions(c.Context(), userID, page, limit)
	if err != nil {
		return mapWalletError(c, err)
	}

	return c.JSON(fiber.Map{
		"transactions": transactions,
		"pagination":   buildPaginationMeta(page, limit, total),
	})
}

func (h *WalletHandler) Withdraw(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleTherapist {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if !req.Amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be greater than 0"})
	}

	wallet, err := h.service.WithdrawWalletBalance(c.Context(), userID, req.Amount)
	if err != nil {
		return mapWalletError(c, err)
	}

	return c.JSON(fiber.Map{"wallet": wallet})
}

// CompletePayout is the admin confirming money left the platform for a therapist.
func (h *WalletHandler) CompletePayout(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	var req payoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.UserID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id is required"})
	}
	if !req.Amount.IsPositive() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "amount must be greater than 0"})
	}

	wallet, err := h.service.CompletePayout(c.Context(), req.UserID, req.Amount)
	if err != nil {
		return mapWalletError(c, err)
	}

	return c.JSON(fiber.Map{"wallet": wallet})
}

func mapWalletError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, billing.ErrInvalidAmount):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.Is(err, services.ErrPaymentVerification):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Payment verification failed"})
	case errors.Is(err, services.ErrForbidden), errors.Is(err, billing.ErrWalletClosed):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrInsufficientFunds):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "Insufficient balance"})
	case errors.Is(err, services.ErrDuplicateTransaction), errors.Is(err, services.ErrTransactionSettled):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, services.ErrRetryable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Please retry"})
	case errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Wallet not found"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process wallet request"})
	}
}
