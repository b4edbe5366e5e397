package payout

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// ROIResult is one account's daily ROI credit plus the generation override
// it fed.
type ROIResult struct {
	credit.Result
	Levels []LevelResult `json:"levels,omitempty"`
}

// DailyROI credits one account's ROI for day (YYYY-MM-DD). The account's
// LastROIDay marker is checked and set in the credit transaction, so a
// second call for the same day is rejected with ALREADY_PROCESSED. On
// success the credited ROI, scaled by ROIAffiliatePercent, is the base of
// a generation walk.
func (d *Distributor) DailyROI(ctx context.Context, p *plan.Plan, username, day string) (ROIResult, error) {
	res, err := d.credit.Credit(ctx, p, credit.Request{
		Username: username,
		Type:     plan.ROI,
		Remark:   "Daily ROI " + day,
		Compute: func(a *ledger.Account) (decimal.Decimal, credit.Reason) {
			if a.LastROIDay == day {
				return decimal.Zero, credit.ReasonAlreadyProcessed
			}
			if !a.IsPremium() {
				return decimal.Zero, credit.ReasonFreeIDBlocked
			}
			if !a.DepositTotal.IsPositive() {
				return decimal.Zero, credit.ReasonNoDeposit
			}
			if !p.ROIPercentPerDay.IsPositive() {
				return decimal.Zero, credit.ReasonNotEligible
			}
			return plan.PercentOf(a.DepositTotal, p.ROIPercentPerDay), credit.ReasonNone
		},
		Apply: func(a *ledger.Account, _ decimal.Decimal) {
			a.LastROIDay = day
		},
	})
	out := ROIResult{Result: res}
	if err != nil || !res.OK {
		return out, err
	}

	pool := plan.PercentOf(res.Credited, p.ROIAffiliatePercent)
	out.Levels, err = d.Generation(ctx, p, username, pool, "ROI level income")
	return out, err
}
