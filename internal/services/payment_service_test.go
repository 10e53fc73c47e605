package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/saeid-a/TherapyCallBack/internal/logging"
	"github.com/shopspring/decimal"
)

type stubOrderCreator struct {
	data map[string]interface{}
	err  error
}

func (s *stubOrderCreator) Create(data map[string]interface{}, _ map[string]string) (map[string]interface{}, error) {
	s.data = data
	if s.err != nil {
		return nil, s.err
	}
	return map[string]interface{}{"id": "order_123"}, nil
}

func fixedNow() time.Time {
	return time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
}

func sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyGatewaySignature(t *testing.T) {
	signature := sign("secret", "order_1", "pay_1")

	if !VerifyGatewaySignature("secret", "order_1", "pay_1", signature) {
		t.Fatalf("expected a valid signature to verify")
	}
	if VerifyGatewaySignature("other", "order_1", "pay_1", signature) {
		t.Fatalf("expected a signature from another secret to fail")
	}
	if VerifyGatewaySignature("secret", "order_1", "pay_2", signature) {
		t.Fatalf("expected a signature for another payment to fail")
	}
}

func TestVerifyTopupRejectsBadSignatureBeforeTouchingStorage(t *testing.T) {
	service := &PaymentService{keySecret: "secret", logger: logging.Discard()}

	_, err := service.VerifyTopup(context.Background(), 1, "order_1", "pay_1", "deadbeef")
	if !errors.Is(err, ErrPaymentVerification) {
		t.Fatalf("expected ErrPaymentVerification, got %v", err)
	}

	_, err = service.VerifyTopup(context.Background(), 1, "", "pay_1", "deadbeef")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateTopupOrderValidatesAmount(t *testing.T) {
	orders := &stubOrderCreator{}
	service := &PaymentService{orders: orders, currency: "INR", logger: logging.Discard()}

	for _, amount := range []string{"0", "-5", "100000.01"} {
		if _, err := service.CreateTopupOrder(context.Background(), 1, decimal.RequireFromString(amount)); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("amount %s: expected ErrInvalidInput, got %v", amount, err)
		}
	}
	if orders.data != nil {
		t.Fatalf("expected no gateway call for invalid amounts")
	}
}

func TestCreateTopupOrderSurfacesGatewayFailure(t *testing.T) {
	orders := &stubOrderCreator{err: errors.New("gateway down")}
	service := &PaymentService{orders: orders, currency: "INR", logger: logging.Discard(), now: fixedNow}

	if _, err := service.CreateTopupOrder(context.Background(), 42, decimal.RequireFromString("150.255")); err == nil {
		t.Fatalf("expected the gateway error to surface")
	}
	if got := orders.data["amount"]; got != int64(15026) {
		t.Fatalf("expected 15026 paise, got %v", got)
	}
	if got := orders.data["receipt"]; got != "wallet_topup_42_20300101120000" {
		t.Fatalf("unexpected receipt %v", got)
	}
}
