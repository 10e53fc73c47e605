package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeTopup             = "TOPUP"
	TransactionTypeWithdraw          = "WITHDRAW"
	TransactionTypeHoldRequest       = "HOLD_REQUEST"
	TransactionTypeCommissionDeduct  = "COMMISSION_DEDUCTION"
	TransactionTypeRevertTransaction = "REVERT_TRANSACTION"
	TransactionTypeSubscription      = "SUBSCRIPTION"
	TransactionStatusPending         = "PENDING"
	TransactionStatusSuccess         = "SUCCESS"
	TransactionStatusFailed          = "FAILED"
)

type Transaction struct {
	ID                   int64           `json:"id"`
	UserID               int64           `json:"user_id"`
	Tid                  string          `json:"tid"`
	Type                 string          `json:"type"`
	Status               string          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	HoldedMainBalance    decimal.Decimal `json:"holded_main_balance"`
	HoldedBonusBalance   decimal.Decimal `json:"holded_bonus_balance"`
	HoldedTrialMinutes   decimal.Decimal `json:"holded_trial_minutes"`
	TherapistAmount      decimal.Decimal `json:"therapist_amount"`
	CommissionAmount     decimal.Decimal `json:"commission_amount"`
	VATCharge            decimal.Decimal `json:"vat_charge"`
	TherapistVATCharge   decimal.Decimal `json:"therapist_vat_charge"`
	PlatformVATCharge    decimal.Decimal `json:"platform_vat_charge"`
	UsedFreeTrialMinutes decimal.Decimal `json:"used_free_trial_minutes"`
	ExtraCharge          decimal.Decimal `json:"extra_charge"`
	SessionID            *int64          `json:"session_id,omitempty"`
	CounterpartyID       *int64          `json:"counterparty_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

type CallHistory struct {
	ID          int64           `json:"id"`
	SessionID   int64           `json:"session_id"`
	ClientID    int64           `json:"client_id"`
	TherapistID int64           `json:"therapist_id"`
	Tid         string          `json:"tid"`
	Minutes     decimal.Decimal `json:"minutes"`
	Amount      decimal.Decimal `json:"amount"`
	Source      string          `json:"source"`
	CreatedAt   time.Time       `json:"created_at"`
}

const (
	CallSourceHeartbeat = "heartbeat"
	CallSourceManual    = "manual"
)

type TopupOrder struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	Amount         decimal.Decimal `json:"amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const (
	TopupStatusPending   = "pending"
	TopupStatusCompleted = "completed"
)
