package payout

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// AddTeamInvestment adds amount to the TeamInvestment of every sponsor
// above from, up to UplineHopLimit hops. It returns the number of uplines
// updated.
func (d *Distributor) AddTeamInvestment(ctx context.Context, p *plan.Plan, from string, amount decimal.Decimal) (int, error) {
	if !amount.IsPositive() {
		return 0, nil
	}
	src, err := d.lookup(ctx, from)
	if err != nil || src == nil {
		return 0, err
	}

	visited := map[string]bool{src.Username: true}
	upline := src.Sponsor
	hops := 0
	for upline != "" && hops < p.UplineHopLimit && !visited[upline] {
		if err := ctx.Err(); err != nil {
			return hops, err
		}
		visited[upline] = true
		updated, err := d.store.UpdateAccount(ctx, upline, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
			a.TeamInvestment = a.TeamInvestment.Add(amount)
			return nil, nil
		})
		if errors.Is(err, ledger.ErrAccountNotFound) {
			break
		}
		if err != nil {
			return hops, fmt.Errorf("payout: team investment of %s: %w", upline, err)
		}
		hops++
		upline = updated.Sponsor
	}
	return hops, nil
}

// Totals are the derived team figures of one account.
type Totals struct {
	TeamInvestment decimal.Decimal
	DirectCount    int
}

// TeamTotals recomputes team figures from a full account listing. Every
// account's deposit counts toward each sponsor above it, up to hopLimit
// hops; DirectCount counts premium accounts sponsored directly. Every
// listed account gets an entry.
func TeamTotals(accounts []*ledger.Account, hopLimit int) map[string]Totals {
	byName := make(map[string]*ledger.Account, len(accounts))
	out := make(map[string]Totals, len(accounts))
	for _, a := range accounts {
		byName[a.Username] = a
		out[a.Username] = Totals{TeamInvestment: decimal.Zero}
	}

	for _, a := range accounts {
		if a.Sponsor != "" && a.IsPremium() {
			if t, ok := out[a.Sponsor]; ok {
				t.DirectCount++
				out[a.Sponsor] = t
			}
		}
		if !a.DepositTotal.IsPositive() {
			continue
		}
		visited := map[string]bool{a.Username: true}
		upline := a.Sponsor
		for hops := 0; upline != "" && hops < hopLimit && !visited[upline]; hops++ {
			sp, ok := byName[upline]
			if !ok {
				break
			}
			visited[upline] = true
			t := out[upline]
			t.TeamInvestment = t.TeamInvestment.Add(a.DepositTotal)
			out[upline] = t
			upline = sp.Sponsor
		}
	}
	return out
}
