package billing

import (
	"math/rand"
	"testing"

	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func totalFunds(w models.Wallet) decimal.Decimal {
	return w.MainBalance.Add(w.BonusBalance).Add(w.HoldedMainBalance).Add(w.HoldedBonusBalance)
}

func totalTrial(w models.Wallet) decimal.Decimal {
	return w.FreeTrialMinutes.Add(w.HoldedTrialMinutes)
}

func assertNotNegative(t *testing.T, w models.Wallet) {
	t.Helper()
	for name, value := range map[string]decimal.Decimal{
		"main":         w.MainBalance,
		"bonus":        w.BonusBalance,
		"holded main":  w.HoldedMainBalance,
		"holded bonus": w.HoldedBonusBalance,
		"trial":        w.FreeTrialMinutes,
		"holded trial": w.HoldedTrialMinutes,
		"withdrawal":   w.WithdrawalBalance,
	} {
		require.Falsef(t, value.IsNegative(), "%s went negative: %s", name, value)
	}
}

func TestCanOpenRequest(t *testing.T) {
	unit := dec("2")

	assert.NoError(t, CanOpenRequest(models.Wallet{MainBalance: dec("2")}, unit, 3))
	assert.NoError(t, CanOpenRequest(models.Wallet{FreeTrialMinutes: dec("5")}, unit, 3))
	assert.ErrorIs(t, CanOpenRequest(models.Wallet{FreeTrialMinutes: dec("5"), FreeSessionsUsed: 3}, unit, 3), ErrInsufficientFunds)
	assert.ErrorIs(t, CanOpenRequest(models.Wallet{MainBalance: dec("1"), BonusBalance: dec("0.99")}, unit, 3), ErrInsufficientFunds)
	assert.ErrorIs(t, CanOpenRequest(models.Wallet{MainBalance: dec("9"), Status: models.WalletStatusClosed}, unit, 3), ErrWalletClosed)
}

func TestReserveHoldTrialPath(t *testing.T) {
	wallet := models.Wallet{FreeTrialMinutes: dec("10"), MainBalance: dec("50")}

	hold, err := ReserveHold(&wallet, dec("5"), 3)
	require.NoError(t, err)

	assertDecimal(t, "1", hold.TrialMinutes, "held trial")
	assertDecimal(t, "0", hold.Amount(), "held money")
	assertDecimal(t, "9", wallet.FreeTrialMinutes, "trial")
	assertDecimal(t, "1", wallet.HoldedTrialMinutes, "holded trial")
	assertDecimal(t, "50", wallet.MainBalance, "main")
}

func TestReserveHoldTrialPathTakesFractionalRemainder(t *testing.T) {
	wallet := models.Wallet{FreeTrialMinutes: dec("0.5")}

	hold, err := ReserveHold(&wallet, dec("5"), 3)
	require.NoError(t, err)

	assertDecimal(t, "0.5", hold.TrialMinutes, "held trial")
	assertDecimal(t, "0", wallet.FreeTrialMinutes, "trial")
}

func TestReserveHoldTakesBonusFirst(t *testing.T) {
	wallet := models.Wallet{MainBalance: dec("10"), BonusBalance: dec("3")}

	hold, err := ReserveHold(&wallet, dec("5"), 3)
	require.NoError(t, err)

	assertDecimal(t, "3", hold.Bonus, "held bonus")
	assertDecimal(t, "2", hold.Main, "held main")
	assertDecimal(t, "0", wallet.BonusBalance, "bonus")
	assertDecimal(t, "8", wallet.MainBalance, "main")
	assertDecimal(t, "3", wallet.HoldedBonusBalance, "holded bonus")
	assertDecimal(t, "2", wallet.HoldedMainBalance, "holded main")
}

func TestReserveHoldInsufficient(t *testing.T) {
	wallet := models.Wallet{MainBalance: dec("1"), BonusBalance: dec("1")}

	_, err := ReserveHold(&wallet, dec("5"), 3)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assertDecimal(t, "1", wallet.MainBalance, "main")
	assertDecimal(t, "1", wallet.BonusBalance, "bonus")
}

func TestReleaseHoldRestoresWallet(t *testing.T) {
	original := models.Wallet{MainBalance: dec("10"), BonusBalance: dec("3"), FreeTrialMinutes: decimal.Zero}
	wallet := original

	hold, err := ReserveHold(&wallet, dec("5"), 3)
	require.NoError(t, err)
	ReleaseHold(&wallet, hold)

	assert.True(t, wallet.MainBalance.Equal(original.MainBalance))
	assert.True(t, wallet.BonusBalance.Equal(original.BonusBalance))
	assert.True(t, wallet.HoldedMainBalance.IsZero())
	assert.True(t, wallet.HoldedBonusBalance.IsZero())
}

func TestHoldFromTransaction(t *testing.T) {
	hold := HoldFromTransaction(&models.Transaction{
		HoldedMainBalance:  dec("2"),
		HoldedBonusBalance: dec("1"),
		HoldedTrialMinutes: dec("0"),
	})
	assertDecimal(t, "3", hold.Amount(), "amount")
}

func TestApplyDeductionDebitsBonusThenMain(t *testing.T) {
	wallet := models.Wallet{MainBalance: dec("10"), BonusBalance: dec("4"), FreeTrialMinutes: dec("2")}
	d := ComputeDeduction(wallet, dec("8"), Referral{}, flatRates())

	applied := ApplyDeduction(&wallet, d)

	assertDecimal(t, "6", applied.TotalCharge(), "charge")
	assertDecimal(t, "0", wallet.BonusBalance, "bonus")
	assertDecimal(t, "8", wallet.MainBalance, "main")
	assertDecimal(t, "0", wallet.FreeTrialMinutes, "trial")
	assert.Equal(t, 1, wallet.FreeSessionsUsed)
}

func TestApplyDeductionNeverOverdraws(t *testing.T) {
	wallet := models.Wallet{MainBalance: dec("3")}
	d := ComputeDeduction(wallet, dec("30"), Referral{}, flatRates())

	applied := ApplyDeduction(&wallet, d)

	assertDecimal(t, "3", applied.TotalCharge(), "charge")
	assertDecimal(t, "27", applied.Shortfall, "shortfall")
	assertNotNegative(t, wallet)
	assert.Equal(t, 0, wallet.FreeSessionsUsed)
}

func TestWithdrawalFlow(t *testing.T) {
	wallet := models.Wallet{MainBalance: dec("40")}

	require.NoError(t, MoveToWithdrawal(&wallet, dec("25")))
	assertDecimal(t, "15", wallet.MainBalance, "main")
	assertDecimal(t, "25", wallet.WithdrawalBalance, "withdrawal")

	assert.ErrorIs(t, MoveToWithdrawal(&wallet, dec("16")), ErrInsufficientFunds)
	assert.ErrorIs(t, CompletePayout(&wallet, dec("26")), ErrInsufficientFunds)
	require.NoError(t, CompletePayout(&wallet, dec("25")))
	assertDecimal(t, "0", wallet.WithdrawalBalance, "withdrawal")

	assert.ErrorIs(t, Credit(&wallet, decimal.Zero), ErrInvalidAmount)
	require.NoError(t, Credit(&wallet, dec("5")))
	assertDecimal(t, "20", wallet.MainBalance, "main")
}

// Random hold/release sequences must conserve funds and trial minutes.
func TestHoldReleaseConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		wallet := models.Wallet{
			MainBalance:      decimal.NewFromInt(int64(rng.Intn(100))),
			BonusBalance:     decimal.NewFromInt(int64(rng.Intn(20))),
			FreeTrialMinutes: decimal.NewFromInt(int64(rng.Intn(4))),
		}
		funds := totalFunds(wallet)
		trial := totalTrial(wallet)
		var open []Hold

		for step := 0; step < 40; step++ {
			if len(open) > 0 && rng.Intn(2) == 0 {
				i := rng.Intn(len(open))
				ReleaseHold(&wallet, open[i])
				open = append(open[:i], open[i+1:]...)
			} else {
				amount := decimal.NewFromInt(int64(1 + rng.Intn(15)))
				hold, err := ReserveHold(&wallet, amount, 3)
				if err == nil {
					open = append(open, hold)
				} else {
					require.ErrorIs(t, err, ErrInsufficientFunds)
				}
			}

			require.Truef(t, totalFunds(wallet).Equal(funds), "run %d step %d: funds drifted", run, step)
			require.Truef(t, totalTrial(wallet).Equal(trial), "run %d step %d: trial drifted", run, step)
			assertNotNegative(t, wallet)
		}
	}
}

// Commits reduce client funds by exactly the charge and never drive anything negative.
func TestCommitSequenceConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	rates := flatRates()

	for run := 0; run < 50; run++ {
		client := models.Wallet{
			MainBalance:      decimal.NewFromInt(int64(rng.Intn(60))),
			BonusBalance:     decimal.NewFromInt(int64(rng.Intn(10))),
			FreeTrialMinutes: decimal.NewFromInt(int64(rng.Intn(6))),
		}
		var therapist models.Wallet

		for step := 0; step < 10; step++ {
			hold, err := ReserveHold(&client, rates.PerMinuteRate, rates.MaxFreeSessions)
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientFunds)
				break
			}
			before := totalFunds(client)

			ReleaseHold(&client, hold)
			minutes := decimal.NewFromInt(int64(rng.Intn(20))).Add(dec("0.5"))
			applied := ApplyDeduction(&client, ComputeDeduction(client, minutes, Referral{}, rates))
			require.NoError(t, creditIfPositive(&therapist, applied.TherapistShare()))

			require.Truef(t, totalFunds(client).Equal(before.Sub(applied.TotalCharge())),
				"run %d step %d: client funds off", run, step)
			assertNotNegative(t, client)
			assertNotNegative(t, therapist)
		}
	}
}

func creditIfPositive(wallet *models.Wallet, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	return Credit(wallet, amount)
}
