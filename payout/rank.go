package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

var errNoChange = errors.New("payout: no change")

// Promotion reports the outcome of a rank evaluation.
type Promotion struct {
	Username string `json:"username"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	Label    string `json:"label,omitempty"`
	Promoted bool   `json:"promoted"`
}

// PromoteRank moves a premium account to the highest rank tier its
// personal deposit and team investment qualify for, when that tier is
// above the current one. A promotion starts a fresh payout window: the
// days used reset and the daily amount and total days come from the new
// tier. Accounts never move down.
func (d *Distributor) PromoteRank(ctx context.Context, p *plan.Plan, username string) (Promotion, error) {
	out := Promotion{Username: ledger.NormalizeUsername(username)}
	_, err := d.store.UpdateAccount(ctx, username, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		out.From, out.To, out.Promoted = a.RankStar, a.RankStar, false
		if !a.IsPremium() {
			return nil, errNoChange
		}
		tier, ok := p.QualifyingRank(a.DepositTotal, a.TeamInvestment)
		if !ok || tier.Star <= a.RankStar {
			return nil, errNoChange
		}
		a.RankStar = tier.Star
		a.RankLabel = tier.Label
		a.RankDailyAmount = tier.DailyBonus
		a.RankDaysTotal = tier.TotalDays
		a.RankDaysUsed = 0
		a.RankStatus = ledger.RankActive

		out.To, out.Label, out.Promoted = tier.Star, tier.Label, true
		return nil, nil
	})
	switch {
	case errors.Is(err, errNoChange):
		return out, nil
	case err != nil:
		return out, fmt.Errorf("payout: promote %s: %w", out.Username, err)
	}
	d.log.Info("payout: rank promoted", "user", out.Username, "from", out.From, "to", out.To)
	return out, nil
}

// PayRank credits one day of an active rank window. A day is consumed only
// when something is credited; once every day is used the window completes.
func (d *Distributor) PayRank(ctx context.Context, p *plan.Plan, username, day string) (credit.Result, error) {
	return d.credit.Credit(ctx, p, credit.Request{
		Username: username,
		Type:     plan.Rank,
		Remark:   "Rank bonus " + day,
		Compute: func(a *ledger.Account) (decimal.Decimal, credit.Reason) {
			if a.RankStatus != ledger.RankActive || a.RankDaysUsed >= a.RankDaysTotal {
				return decimal.Zero, credit.ReasonRankInactive
			}
			if a.LastRankDay == day {
				return decimal.Zero, credit.ReasonAlreadyProcessed
			}
			return a.RankDailyAmount, credit.ReasonNone
		},
		Apply: func(a *ledger.Account, _ decimal.Decimal) {
			a.RankDaysUsed++
			a.LastRankDay = day
			if a.RankDaysUsed >= a.RankDaysTotal {
				a.RankStatus = ledger.RankCompleted
			}
		},
	})
}
