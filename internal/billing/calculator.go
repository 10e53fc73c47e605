// Package billing turns call minutes into a charge and applies holds, commits and
// releases to a wallet value. Nothing in here touches storage.
package billing

import (
	"github.com/saeid-a/TherapyCallBack/internal/models"
	"github.com/shopspring/decimal"
)

var (
	hundred     = decimal.NewFromInt(100)
	sixty       = decimal.NewFromInt(60)
	half        = decimal.RequireFromString("0.5")
	centsPlaces = int32(2)
)

// Config holds the platform-wide billing knobs.
type Config struct {
	PerMinuteRate            decimal.Decimal
	MaxFreeSessions          int
	DefaultCommissionPercent decimal.Decimal
	VATPercent               decimal.Decimal
	ReferralExtraPercent     decimal.Decimal
	HoldUnitMinutes          decimal.Decimal
}

// HoldUnitAmount is the amount reserved for one billing unit at the platform rate.
func (c Config) HoldUnitAmount() decimal.Decimal {
	unit := c.HoldUnitMinutes
	if !unit.IsPositive() {
		unit = decimal.NewFromInt(1)
	}
	return c.PerMinuteRate.Mul(unit).Round(centsPlaces)
}

// Rates are the per-call parameters once therapist overrides are resolved.
type Rates struct {
	PerMinuteRate         decimal.Decimal
	MaxFreeSessions       int
	CommissionPercent     decimal.Decimal
	VATPercent            decimal.Decimal
	ProviderVATRegistered bool
	ReferralExtraPercent  decimal.Decimal
}

// Referral describes the client/therapist referral relationship for one call.
type Referral struct {
	ReferredByProvider bool
	ProviderHourlyRate *decimal.Decimal
}

// RatesFor resolves the commission override and VAT registration of a therapist.
func RatesFor(cfg Config, therapist *models.TherapistProfile) Rates {
	rates := Rates{
		PerMinuteRate:        cfg.PerMinuteRate,
		MaxFreeSessions:      cfg.MaxFreeSessions,
		CommissionPercent:    cfg.DefaultCommissionPercent,
		VATPercent:           cfg.VATPercent,
		ReferralExtraPercent: cfg.ReferralExtraPercent,
	}
	if therapist == nil {
		return rates
	}
	if therapist.CommissionPercent != nil &&
		!therapist.CommissionPercent.IsNegative() &&
		therapist.CommissionPercent.LessThanOrEqual(hundred) {
		rates.CommissionPercent = *therapist.CommissionPercent
	}
	rates.ProviderVATRegistered = therapist.VATRegistered
	return rates
}

// ReferralFor builds the referral relationship between a client profile and a therapist.
func ReferralFor(client *models.UserProfile, therapist *models.TherapistProfile) Referral {
	if client == nil || therapist == nil || client.ReferredBy == nil {
		return Referral{}
	}
	if *client.ReferredBy != therapist.UserID {
		return Referral{}
	}
	return Referral{ReferredByProvider: true, ProviderHourlyRate: therapist.HourlyRate}
}

// Deduction is the full outcome of billing one call.
// TherapistShare() + CommissionAmount + PlatformVATCharge always equals TotalCharge().
type Deduction struct {
	Rate                      decimal.Decimal `json:"rate"`
	CallMinutes               decimal.Decimal `json:"call_minutes"`
	ChargeMinutes             decimal.Decimal `json:"charge_minutes"`
	DeductAmount              decimal.Decimal `json:"deduct_amount"`
	UsedFreeTrialMinutes      decimal.Decimal `json:"used_free_trial_minutes"`
	RemainingFreeTrialMinutes decimal.Decimal `json:"remaining_free_trial_minutes"`
	ExtraCharge               decimal.Decimal `json:"extra_charge"`
	UsesReferralOverride      bool            `json:"uses_referral_override"`
	TherapistAmount           decimal.Decimal `json:"therapist_amount"`
	CommissionAmount          decimal.Decimal `json:"commission_amount"`
	VATCharge                 decimal.Decimal `json:"vat_charge"`
	TherapistVATCharge        decimal.Decimal `json:"therapist_vat_charge"`
	PlatformVATCharge         decimal.Decimal `json:"platform_vat_charge"`
	Shortfall                 decimal.Decimal `json:"shortfall"`
}

// TotalCharge is what leaves the client's spendable balance.
func (d Deduction) TotalCharge() decimal.Decimal {
	return d.DeductAmount.Add(d.ExtraCharge).Sub(d.Shortfall)
}

// TherapistShare is what gets credited to the therapist's main balance.
func (d Deduction) TherapistShare() decimal.Decimal {
	return d.TherapistAmount.Add(d.TherapistVATCharge)
}

// ComputeDeduction bills callMinutes for a client wallet. It is deterministic
// and has no side effects.
func ComputeDeduction(
	wallet models.Wallet,
	callMinutes decimal.Decimal,
	referral Referral,
	rates Rates,
) Deduction {
	if callMinutes.IsNegative() {
		callMinutes = decimal.Zero
	}

	d := Deduction{
		Rate:                      rates.PerMinuteRate,
		CallMinutes:               callMinutes,
		ChargeMinutes:             callMinutes,
		UsedFreeTrialMinutes:      decimal.Zero,
		RemainingFreeTrialMinutes: wallet.FreeTrialMinutes,
	}

	if referral.ReferredByProvider && referral.ProviderHourlyRate != nil && referral.ProviderHourlyRate.IsPositive() {
		d.Rate = referral.ProviderHourlyRate.Div(sixty)
		d.UsesReferralOverride = true
	}

	if TrialEligible(wallet, rates.MaxFreeSessions) {
		used := decimal.Min(wallet.FreeTrialMinutes, callMinutes)
		d.UsedFreeTrialMinutes = used
		d.RemainingFreeTrialMinutes = wallet.FreeTrialMinutes.Sub(used)
		d.ChargeMinutes = callMinutes.Sub(used)
	}

	// Whole minutes plus the pro-rata part of the last started minute.
	whole := d.ChargeMinutes.Floor()
	fraction := d.ChargeMinutes.Sub(whole)
	d.DeductAmount = whole.Mul(d.Rate).Add(fraction.Mul(d.Rate)).Round(centsPlaces)

	if d.UsesReferralOverride {
		d.ExtraCharge = d.DeductAmount.Mul(rates.ReferralExtraPercent).Div(hundred).Round(centsPlaces)
		d.TherapistAmount = d.DeductAmount
		d.CommissionAmount = d.ExtraCharge
		return d
	}

	d.VATCharge = extractVAT(d.DeductAmount, rates.VATPercent)
	if rates.ProviderVATRegistered {
		d.TherapistVATCharge = d.VATCharge.Mul(half).Round(centsPlaces)
		d.PlatformVATCharge = d.VATCharge.Sub(d.TherapistVATCharge)
	} else {
		d.PlatformVATCharge = d.VATCharge
	}

	net := d.DeductAmount.Sub(d.VATCharge)
	d.CommissionAmount = net.Mul(rates.CommissionPercent).Div(hundred).Round(centsPlaces)
	d.TherapistAmount = net.Sub(d.CommissionAmount)
	return d
}

// CapTo limits the charge to what the client can actually pay. The missing part is
// taken from the platform side first so the therapist is paid whenever possible.
func (d Deduction) CapTo(available decimal.Decimal) Deduction {
	if available.IsNegative() {
		available = decimal.Zero
	}
	missing := d.TotalCharge().Sub(available)
	if !missing.IsPositive() {
		return d
	}
	d.Shortfall = d.Shortfall.Add(missing)

	take := func(part *decimal.Decimal) {
		if !missing.IsPositive() {
			return
		}
		cut := decimal.Min(*part, missing)
		*part = part.Sub(cut)
		missing = missing.Sub(cut)
	}
	take(&d.CommissionAmount)
	take(&d.PlatformVATCharge)
	take(&d.TherapistVATCharge)
	take(&d.TherapistAmount)
	if !d.UsesReferralOverride {
		d.VATCharge = d.TherapistVATCharge.Add(d.PlatformVATCharge)
	}
	return d
}

// VATPortion is the VAT already contained in a gross amount.
func VATPortion(gross, percent decimal.Decimal) decimal.Decimal {
	return extractVAT(gross, percent)
}

func extractVAT(gross, percent decimal.Decimal) decimal.Decimal {
	if !percent.IsPositive() || !gross.IsPositive() {
		return decimal.Zero
	}
	return gross.Mul(percent).Div(hundred.Add(percent)).Round(centsPlaces)
}
