package credit

import (
	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed decimal.Decimal
	Blocked bool
	Reason  Reason

	// Cap is the effective earning cap; Used is EarningUsed before the credit.
	Cap  decimal.Decimal
	Used decimal.Decimal

	// Clamped is set when Allowed is below the requested amount.
	Clamped bool
}

func blocked(r Reason) Decision {
	return Decision{Blocked: true, Reason: r}
}

// Authorize applies the membership gate and earning cap to a requested
// credit of type t. It never returns a negative allowance.
//
// The persisted EarningCap is used when it agrees with DepositTotal times
// the plan multiplier; otherwise the cap is recomputed and the caller is
// expected to persist Decision.Cap.
func Authorize(p *plan.Plan, a *ledger.Account, t plan.IncomeType, requested decimal.Decimal) Decision {
	if !requested.IsPositive() {
		return blocked(ReasonInvalidAmount)
	}
	if !a.IsPremium() {
		return blocked(ReasonFreeIDBlocked)
	}
	if !a.DepositTotal.IsPositive() {
		return blocked(ReasonNoDeposit)
	}

	limit := a.EarningCap
	if expected := p.Cap(a.DepositTotal); !limit.Equal(expected) {
		limit = expected
	}
	d := Decision{Cap: limit, Used: a.EarningUsed}

	if p.IsExempt(t) {
		d.Allowed = requested
		return d
	}

	remaining := limit.Sub(a.EarningUsed)
	if !remaining.IsPositive() {
		d.Blocked = true
		d.Reason = ReasonCapReached
		return d
	}
	if requested.GreaterThan(remaining) {
		d.Allowed = remaining
		d.Clamped = true
	} else {
		d.Allowed = requested
	}
	return d
}
