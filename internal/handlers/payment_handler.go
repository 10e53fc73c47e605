package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/services"
	"github.com/shopspring/decimal"
)

type topupApplicationService interface {
	CreateTopupOrder(ctx context.Context, userID int64, amount decimal.Decimal) (*services.TopupOrderResult, error)
	VerifyTopup(ctx context.Context, userID int64, gatewayOrderID string, paymentID string, signature string) (*models.Wallet, error)
}

type PaymentHandler struct {
	service topupApplicationService
}

func NewPaymentHandler(service topupApplicationService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

type verifyTopupRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

func (h *PaymentHandler) CreateTopupOrder(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
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

	result, err := h.service.CreateTopupOrder(c.Context(), userID, req.Amount)
	if err != nil {
		return mapWalletError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *PaymentHandler) VerifyTopup(c *fiber.Ctx) error {
	role, ok := c.Locals("role").(string)
	if !ok || role != models.RoleUser {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	}

	userID, err := parseProfileUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req verifyTopupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	req.Signature = strings.TrimSpace(req.Signature)
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "order id, payment id and signature are required"})
	}

	wallet, err := h.service.VerifyTopup(c.Context(), userID, req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		return mapWalletError(c, err)
	}

	return c.JSON(fiber.Map{"wallet": wallet})
}
