// Package payout implements the per-income-type distribution algorithms.
// Every money movement goes through credit.Crediter; functions here only
// decide who gets what.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/logger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// Distributor runs the distribution algorithms against a ledger store.
type Distributor struct {
	store  ledger.Store
	credit *credit.Crediter
	log    *slog.Logger
}

// NewDistributor creates a Distributor. The Crediter must share store.
func NewDistributor(store ledger.Store, c *credit.Crediter, log *slog.Logger) *Distributor {
	return &Distributor{store: store, credit: c, log: logger.OrDiscard(log)}
}

// Crediter returns the underlying credit primitive.
func (d *Distributor) Crediter() *credit.Crediter { return d.credit }

// lookup reads an account, reporting a missing one as (nil, nil).
func (d *Distributor) lookup(ctx context.Context, username string) (*ledger.Account, error) {
	a, err := d.store.GetAccount(ctx, username)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payout: read %s: %w", username, err)
	}
	return a, nil
}

// SponsorBonus credits the direct sponsor of from with sponsorPercent of
// amount. It is a single hop with no gate beyond the credit guard.
func (d *Distributor) SponsorBonus(ctx context.Context, p *plan.Plan, from string, amount decimal.Decimal) (credit.Result, error) {
	res := credit.Result{Type: plan.Sponsor}
	src, err := d.lookup(ctx, from)
	if err != nil {
		return res, err
	}
	if src == nil {
		res.Reason = credit.ReasonUserNotFound
		return res, nil
	}
	if src.Sponsor == "" {
		res.Reason = credit.ReasonNoUpline
		return res, nil
	}
	return d.credit.Credit(ctx, p, credit.Request{
		Username: src.Sponsor,
		Type:     plan.Sponsor,
		Amount:   plan.PercentOf(amount, p.SponsorPercent),
		Remark:   fmt.Sprintf("Sponsor bonus from %s", src.Username),
	})
}
