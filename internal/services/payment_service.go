package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	razorpay "github.com/razorpay/razorpay-go"
	"github.com/saeid-a/TherapyCallBack/internal/billing"
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/saeid-a/TherapyCallBack/internal/repository"
	"github.com/shopspring/decimal"
)

var (
	maxTopupAmount = decimal.NewFromInt(100000)
	paiseFactor    = decimal.NewFromInt(100)
)

type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type TopupOrderResult struct {
	Order    *models.TopupOrder `json:"order"`
	KeyID    string             `json:"key"`
	Currency string             `json:"currency"`
	Paise    int64              `json:"amount_paise"`
}

type PaymentService struct {
	db         *pgxpool.Pool
	wallet     *WalletService
	orders     orderCreator
	keyID      string
	keySecret  string
	vatPercent decimal.Decimal
	currency   string
	logger     *slog.Logger
	now        func() time.Time
}

func NewPaymentService(
	db *pgxpool.Pool,
	wallet *WalletService,
	keyID string,
	keySecret string,
	vatPercent decimal.Decimal,
	logger *slog.Logger,
) *PaymentService {
	client := razorpay.NewClient(keyID, keySecret)
	return &PaymentService{
		db:         db,
		wallet:     wallet,
		orders:     client.Order,
		keyID:      keyID,
		keySecret:  keySecret,
		vatPercent: vatPercent,
		currency:   "INR",
		logger:     logger,
		now:        time.Now,
	}
}

// CreateTopupOrder opens a gateway order the client pays against. The wallet is only
// credited once VerifyTopup accepts the gateway signature.
func (s *PaymentService) CreateTopupOrder(
	ctx context.Context,
	userID int64,
	amount decimal.Decimal,
) (*TopupOrderResult, error) {
	if !amount.IsPositive() || amount.GreaterThan(maxTopupAmount) {
		return nil, ErrInvalidInput
	}
	amount = amount.Round(2)
	paise := amount.Mul(paiseFactor).IntPart()

	gatewayOrder, err := s.orders.Create(map[string]interface{}{
		"amount":          paise,
		"currency":        s.currency,
		"receipt":         "wallet_topup_" + strconv.FormatInt(userID, 10) + "_" + s.now().UTC().Format("20060102150405"),
		"payment_capture": 1,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	gatewayOrderID, _ := gatewayOrder["id"].(string)
	if gatewayOrderID == "" {
		return nil, fmt.Errorf("create gateway order: response has no id")
	}

	order := &models.TopupOrder{
		UserID:         userID,
		GatewayOrderID: gatewayOrderID,
		Amount:         amount,
		TaxAmount:      billing.VATPortion(amount, s.vatPercent),
		Status:         models.TopupStatusPending,
	}
	if err := repository.NewTopupOrderRepository(s.db).Create(ctx, order); err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}

	return &TopupOrderResult{
		Order:    order,
		KeyID:    s.keyID,
		Currency: s.currency,
		Paise:    paise,
	}, nil
}

// VerifyTopup checks the gateway signature and credits the order amount using the
// gateway payment id as tid, so a replayed confirmation cannot credit twice.
func (s *PaymentService) VerifyTopup(
	ctx context.Context,
	userID int64,
	gatewayOrderID string,
	paymentID string,
	signature string,
) (*models.Wallet, error) {
	if gatewayOrderID == "" || paymentID == "" || signature == "" {
		return nil, ErrInvalidInput
	}
	if !VerifyGatewaySignature(s.keySecret, gatewayOrderID, paymentID, signature) {
		s.logger.Warn("topup signature mismatch", "user_id", userID, "order_id", gatewayOrderID)
		return nil, ErrPaymentVerification
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	orderRepo := repository.NewTopupOrderRepository(tx)
	order, err := orderRepo.GetByGatewayOrderIDForUpdate(ctx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidInput
		}
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	if order.Status != models.TopupStatusPending {
		return nil, ErrDuplicateTransaction
	}

	wallet, err := s.wallet.addBalanceInTx(ctx, tx, userID, order.Amount, order.TaxAmount, paymentID)
	if err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}
	if err := orderRepo.MarkCompleted(ctx, order.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateDBError(err, ErrDuplicateTransaction)
	}

	s.wallet.publishWalletUpdated(userID)
	return wallet, nil
}

// VerifyGatewaySignature checks hex(HMAC-SHA256(secret, orderID|paymentID)).
func VerifyGatewaySignature(secret, gatewayOrderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
