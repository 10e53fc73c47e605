package billing

import (
	"errors"

	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrWalletClosed      = errors.New("wallet is closed")
)

var trialUnit = decimal.NewFromInt(1)

// Hold is what one PENDING transaction keeps reserved on a wallet.
type Hold struct {
	Main         decimal.Decimal
	Bonus        decimal.Decimal
	TrialMinutes decimal.Decimal
}

func (h Hold) Amount() decimal.Decimal {
	return h.Main.Add(h.Bonus)
}

// HoldFromTransaction reads the reserved snapshot back from a hold row.
func HoldFromTransaction(tx *models.Transaction) Hold {
	return Hold{
		Main:         tx.HoldedMainBalance,
		Bonus:        tx.HoldedBonusBalance,
		TrialMinutes: tx.HoldedTrialMinutes,
	}
}

// TrialEligible reports whether free-trial minutes may still be spent.
func TrialEligible(wallet models.Wallet, maxFreeSessions int) bool {
	return wallet.FreeTrialMinutes.IsPositive() && wallet.FreeSessionsUsed < maxFreeSessions
}

// CanOpenRequest is the preflight gate before a request may enter the pool.
func CanOpenRequest(wallet models.Wallet, unitAmount decimal.Decimal, maxFreeSessions int) error {
	if wallet.Status == models.WalletStatusClosed {
		return ErrWalletClosed
	}
	if TrialEligible(wallet, maxFreeSessions) {
		return nil
	}
	if wallet.SpendableBalance().GreaterThanOrEqual(unitAmount) && unitAmount.IsPositive() {
		return nil
	}
	return ErrInsufficientFunds
}

// ReserveHold reserves one trial unit when the trial is still usable, otherwise
// amount from bonus first and main for the rest.
func ReserveHold(wallet *models.Wallet, amount decimal.Decimal, maxFreeSessions int) (Hold, error) {
	if wallet.Status == models.WalletStatusClosed {
		return Hold{}, ErrWalletClosed
	}
	if TrialEligible(*wallet, maxFreeSessions) {
		minutes := decimal.Min(trialUnit, wallet.FreeTrialMinutes)
		wallet.FreeTrialMinutes = wallet.FreeTrialMinutes.Sub(minutes)
		wallet.HoldedTrialMinutes = wallet.HoldedTrialMinutes.Add(minutes)
		return Hold{Main: decimal.Zero, Bonus: decimal.Zero, TrialMinutes: minutes}, nil
	}

	if !amount.IsPositive() {
		return Hold{}, ErrInvalidAmount
	}
	if wallet.SpendableBalance().LessThan(amount) {
		return Hold{}, ErrInsufficientFunds
	}

	fromBonus := decimal.Min(wallet.BonusBalance, amount)
	fromMain := amount.Sub(fromBonus)

	wallet.BonusBalance = wallet.BonusBalance.Sub(fromBonus)
	wallet.MainBalance = wallet.MainBalance.Sub(fromMain)
	wallet.HoldedBonusBalance = wallet.HoldedBonusBalance.Add(fromBonus)
	wallet.HoldedMainBalance = wallet.HoldedMainBalance.Add(fromMain)

	return Hold{Main: fromMain, Bonus: fromBonus, TrialMinutes: decimal.Zero}, nil
}

// ReleaseHold moves a hold back into spendable balances.
func ReleaseHold(wallet *models.Wallet, hold Hold) {
	wallet.HoldedMainBalance = nonNegative(wallet.HoldedMainBalance.Sub(hold.Main))
	wallet.HoldedBonusBalance = nonNegative(wallet.HoldedBonusBalance.Sub(hold.Bonus))
	wallet.HoldedTrialMinutes = nonNegative(wallet.HoldedTrialMinutes.Sub(hold.TrialMinutes))

	wallet.MainBalance = wallet.MainBalance.Add(hold.Main)
	wallet.BonusBalance = wallet.BonusBalance.Add(hold.Bonus)
	wallet.FreeTrialMinutes = wallet.FreeTrialMinutes.Add(hold.TrialMinutes)
}

// ApplyDeduction debits a client wallet whose hold has already been released.
// The deduction is capped to the spendable balance and the capped value is returned.
func ApplyDeduction(wallet *models.Wallet, d Deduction) Deduction {
	d = d.CapTo(wallet.SpendableBalance())

	charge := d.TotalCharge()
	fromBonus := decimal.Min(wallet.BonusBalance, charge)
	wallet.BonusBalance = wallet.BonusBalance.Sub(fromBonus)
	wallet.MainBalance = wallet.MainBalance.Sub(charge.Sub(fromBonus))

	if d.UsedFreeTrialMinutes.IsPositive() {
		used := decimal.Min(d.UsedFreeTrialMinutes, wallet.FreeTrialMinutes)
		wallet.FreeTrialMinutes = wallet.FreeTrialMinutes.Sub(used)
		wallet.FreeSessionsUsed++
	}
	return d
}

// Credit adds funds to the main balance.
func Credit(wallet *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if wallet.Status == models.WalletStatusClosed {
		return ErrWalletClosed
	}
	wallet.MainBalance = wallet.MainBalance.Add(amount)
	return nil
}

// MoveToWithdrawal sets main balance aside for the next payout.
func MoveToWithdrawal(wallet *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if wallet.MainBalance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	wallet.MainBalance = wallet.MainBalance.Sub(amount)
	wallet.WithdrawalBalance = wallet.WithdrawalBalance.Add(amount)
	return nil
}

// CompletePayout clears funds that have been paid out of the withdrawal balance.
func CompletePayout(wallet *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if wallet.WithdrawalBalance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	wallet.WithdrawalBalance = wallet.WithdrawalBalance.Sub(amount)
	return nil
}

func nonNegative(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}
