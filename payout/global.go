package payout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// GlobalOptions adjusts a global bonus run.
type GlobalOptions struct {
	// OverrideTotal replaces the computed pool base when positive.
	OverrideTotal decimal.Decimal
	// PoolPercents overrides a tier's pool percentage by tier name.
	PoolPercents map[string]decimal.Decimal
}

func (o GlobalOptions) percentFor(t plan.GlobalTier) decimal.Decimal {
	if pct, ok := o.PoolPercents[t.Name]; ok {
		return pct
	}
	return t.PoolPercent
}

// TierPreview describes one global tier before anything is credited.
type TierPreview struct {
	Name      string          `json:"name"`
	Percent   decimal.Decimal `json:"percent"`
	Pool      decimal.Decimal `json:"pool"`
	Members   []string        `json:"members"`
	PerMember decimal.Decimal `json:"perMember"`
}

// GlobalPreview is the computed distribution of a global bonus run.
type GlobalPreview struct {
	TotalSales decimal.Decimal `json:"totalSales"`
	LastSales  decimal.Decimal `json:"lastSales"`
	NewSales   decimal.Decimal `json:"newSales"`
	Extra      decimal.Decimal `json:"extra"`
	Effective  decimal.Decimal `json:"effective"`
	Tiers      []TierPreview   `json:"tiers"`
}

// PreviewGlobal computes the pools and member bands for a global run from
// the current premium accounts without crediting anything.
func (d *Distributor) PreviewGlobal(ctx context.Context, p *plan.Plan, opts GlobalOptions) (*GlobalPreview, error) {
	accounts, err := d.store.ListAccounts(ctx, ledger.Filter{Membership: ledger.Premium})
	if err != nil {
		return nil, fmt.Errorf("payout: list premium accounts: %w", err)
	}

	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.DepositTotal)
	}
	newSales := total.Sub(p.GlobalLastSales)
	if newSales.IsNegative() {
		newSales = decimal.Zero
	}
	effective := newSales.Add(p.GlobalManualExtra)
	if opts.OverrideTotal.IsPositive() {
		effective = opts.OverrideTotal
	}

	pv := &GlobalPreview{
		TotalSales: total,
		LastSales:  p.GlobalLastSales,
		NewSales:   newSales,
		Extra:      p.GlobalManualExtra,
		Effective:  effective,
	}
	// Each account belongs to at most one tier. Accounts are listed in
	// username order, so members are too.
	members := make(map[string][]string, len(p.GlobalTiers))
	for _, a := range accounts {
		if t, ok := p.GlobalTierFor(a.DepositTotal); ok {
			members[t.Name] = append(members[t.Name], a.Username)
		}
	}
	for _, t := range p.GlobalTiers {
		pct := opts.percentFor(t)
		tp := TierPreview{
			Name:    t.Name,
			Percent: pct,
			Pool:    plan.PercentOf(effective, pct),
			Members: members[t.Name],
		}
		if n := len(tp.Members); n > 0 {
			tp.PerMember = tp.Pool.Div(decimal.NewFromInt(int64(n))).RoundDown(sharePlaces)
		}
		pv.Tiers = append(pv.Tiers, tp)
	}
	return pv, nil
}

// PlanGlobal freezes a preview into a run with one payout per member. A
// tier with an empty pool or no members contributes no payouts. The run's
// NewSales is the amount the baseline advances by once it completes.
func (d *Distributor) PlanGlobal(ctx context.Context, p *plan.Plan, opts GlobalOptions) (*plan.GlobalRun, error) {
	pv, err := d.PreviewGlobal(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	run := &plan.GlobalRun{
		ID:        uuid.NewString(),
		NewSales:  pv.NewSales,
		Effective: pv.Effective,
		CreatedAt: d.credit.Now(),
	}
	for _, t := range pv.Tiers {
		if !t.Pool.IsPositive() || len(t.Members) == 0 {
			continue
		}
		for i, amt := range SplitEqual(t.Pool, len(t.Members)) {
			run.Payouts = append(run.Payouts, plan.GlobalPayout{
				Username: t.Members[i],
				Tier:     t.Name,
				Amount:   amt,
			})
		}
	}
	return run, nil
}

// PayGlobalShare credits one payout of run runID. The account's
// LastGlobalRun marker makes a repeated payout of the same run a no-op.
func (d *Distributor) PayGlobalShare(ctx context.Context, p *plan.Plan, runID string, po plan.GlobalPayout) (credit.Result, error) {
	return d.credit.Credit(ctx, p, credit.Request{
		Username: po.Username,
		Type:     plan.Global,
		Remark:   fmt.Sprintf("Global bonus tier %s", po.Tier),
		Compute: func(a *ledger.Account) (decimal.Decimal, credit.Reason) {
			if a.LastGlobalRun == runID {
				return decimal.Zero, credit.ReasonAlreadyProcessed
			}
			if !po.Amount.IsPositive() {
				return decimal.Zero, credit.ReasonInvalidAmount
			}
			return po.Amount, credit.ReasonNone
		},
		Apply: func(a *ledger.Account, _ decimal.Decimal) {
			a.LastGlobalRun = runID
		},
	})
}
