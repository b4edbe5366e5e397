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

// PropagateVolume adds amount to the left or right volume of every
// placement ancestor of from, according to the side the deposit descends
// from. The walk is bounded by BinaryHopLimit and stops at the root, a
// missing parent, or a repeated node. It returns the number of ancestors
// updated.
func (d *Distributor) PropagateVolume(ctx context.Context, p *plan.Plan, from string, amount decimal.Decimal) (int, error) {
	if !amount.IsPositive() {
		return 0, nil
	}
	src, err := d.lookup(ctx, from)
	if err != nil || src == nil {
		return 0, err
	}

	visited := map[string]bool{src.Username: true}
	parent, side := src.PlacementParent, src.PlacementSide
	hops := 0
	for parent != "" && hops < p.BinaryHopLimit {
		if err := ctx.Err(); err != nil {
			return hops, err
		}
		if visited[parent] || !side.Valid() {
			break
		}
		visited[parent] = true

		s := side
		updated, err := d.store.UpdateAccount(ctx, parent, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
			if s == ledger.Left {
				a.LeftVolume = a.LeftVolume.Add(amount)
			} else {
				a.RightVolume = a.RightVolume.Add(amount)
			}
			return nil, nil
		})
		if errors.Is(err, ledger.ErrAccountNotFound) {
			break
		}
		if err != nil {
			return hops, fmt.Errorf("payout: propagate volume to %s: %w", parent, err)
		}
		hops++
		parent, side = updated.PlacementParent, updated.PlacementSide
	}
	return hops, nil
}

// MatchResult is a binary matching credit with the volumes it consumed.
type MatchResult struct {
	credit.Result
	Left    decimal.Decimal `json:"left"`
	Right   decimal.Decimal `json:"right"`
	Matched decimal.Decimal `json:"matched"`
}

// Match pairs an account's accumulated left and right volume. The smaller
// side is matched and paid at percent (the plan's BinaryPercent when zero),
// optionally clamped by BinaryDailyCap. On a successful credit the matched
// volume is consumed: the remainders move into the carry fields and the
// fresh volumes reset. A rejected credit leaves the volumes untouched.
func (d *Distributor) Match(ctx context.Context, p *plan.Plan, username string, percent decimal.Decimal) (MatchResult, error) {
	if !percent.IsPositive() {
		percent = p.BinaryPercent
	}

	var left, right, matched decimal.Decimal
	res, err := d.credit.Credit(ctx, p, credit.Request{
		Username: username,
		Type:     plan.Binary,
		Remark:   "Binary matching bonus",
		Compute: func(a *ledger.Account) (decimal.Decimal, credit.Reason) {
			left = a.LeftVolume.Add(a.CarryLeft)
			right = a.RightVolume.Add(a.CarryRight)
			matched = decimal.Min(left, right)
			if !matched.IsPositive() {
				return decimal.Zero, credit.ReasonNothingToMatch
			}
			gross := plan.PercentOf(matched, percent)
			if p.BinaryDailyCap.IsPositive() && gross.GreaterThan(p.BinaryDailyCap) {
				gross = p.BinaryDailyCap
			}
			if !gross.IsPositive() {
				return decimal.Zero, credit.ReasonNothingToMatch
			}
			return gross, credit.ReasonNone
		},
		Apply: func(a *ledger.Account, _ decimal.Decimal) {
			a.CarryLeft = left.Sub(matched)
			a.CarryRight = right.Sub(matched)
			a.LeftVolume = decimal.Zero
			a.RightVolume = decimal.Zero
		},
	})
	return MatchResult{Result: res, Left: left, Right: right, Matched: matched}, err
}
