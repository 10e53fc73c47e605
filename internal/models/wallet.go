package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WalletStatusActive = "ACTIVE"
	WalletStatusClosed = "CLOSED"
)

type Wallet struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	MainBalance        decimal.Decimal `json:"main_balance"`
	BonusBalance       decimal.Decimal `json:"bonus_balance"`
	HoldedMainBalance  decimal.Decimal `json:"holded_main_balance"`
	HoldedBonusBalance decimal.Decimal `json:"holded_bonus_balance"`
	FreeTrialMinutes   decimal.Decimal `json:"free_trial_minutes"`
	HoldedTrialMinutes decimal.Decimal `json:"holded_trial_minutes"`
	FreeSessionsUsed   int             `json:"free_sessions_used"`
	WithdrawalBalance  decimal.Decimal `json:"withdrawal_balance"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SpendableBalance is what a new hold or a commit may draw from.
func (w Wallet) SpendableBalance() decimal.Decimal {
	return w.MainBalance.Add(w.BonusBalance)
}
