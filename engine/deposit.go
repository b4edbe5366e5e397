package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/payout"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// DepositResult reports a deposit and every distribution it triggered.
type DepositResult struct {
	Username   string               `json:"username"`
	Amount     decimal.Decimal      `json:"amount"`
	Upgraded   bool                 `json:"upgraded"`
	Account    *ledger.Account      `json:"account"`
	Sponsor    credit.Result        `json:"sponsor"`
	Generation []payout.LevelResult `json:"generation,omitempty"`
	Gift       *credit.Result       `json:"gift,omitempty"`
	VolumeHops int                  `json:"volumeHops"`
	TeamHops   int                  `json:"teamHops"`
}

type depositMode int

const (
	modeTopUp depositMode = iota
	modeUpgrade
	modeWalletUpgrade
)

// OnDeposit records a top-up by a premium member and runs the deposit
// distributions.
func (e *Engine) OnDeposit(ctx context.Context, username string, amount decimal.Decimal) (*DepositResult, error) {
	return e.deposit(ctx, username, amount, modeTopUp)
}

// OnUpgrade records an activation deposit. A free account becomes premium
// and its sponsor's direct count goes up by one; on a premium account it
// behaves like OnDeposit.
func (e *Engine) OnUpgrade(ctx context.Context, username string, amount decimal.Decimal) (*DepositResult, error) {
	return e.deposit(ctx, username, amount, modeUpgrade)
}

// UpgradeFromWallet is OnUpgrade paid from the member's activation wallet.
// The wallet debit and the deposit commit together.
func (e *Engine) UpgradeFromWallet(ctx context.Context, username string, amount decimal.Decimal) (*DepositResult, error) {
	return e.deposit(ctx, username, amount, modeWalletUpgrade)
}

// deposit commits the deposit itself, then runs the side effects. The
// deposit stands even if a later step fails; the step errors are joined
// and returned with the partial result. Team figures left short by a
// failure are repaired by RunTeamRecalc.
func (e *Engine) deposit(ctx context.Context, username string, amount decimal.Decimal, mode depositMode) (*DepositResult, error) {
	username = ledger.NormalizeUsername(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	p, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}

	res := &DepositResult{Username: username, Amount: amount}
	acct, err := e.store.UpdateAccount(ctx, username, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		res.Upgraded = false
		switch mode {
		case modeTopUp:
			if !a.IsPremium() {
				return nil, ErrNotPremium
			}
		case modeWalletUpgrade:
			if a.AddBalance.LessThan(amount) {
				return nil, ErrInsufficientFunds
			}
			a.AddBalance = a.AddBalance.Sub(amount)
		}
		if mode != modeTopUp && !a.IsPremium() {
			a.Membership = ledger.Premium
			res.Upgraded = true
		}
		a.DepositTotal = a.DepositTotal.Add(amount)
		a.EarningCap = p.Cap(a.DepositTotal)
		a.UpdatedAt = e.clock.Now().UTC()
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: deposit %s for %s: %w", amount, username, err)
	}
	res.Account = acct
	e.log.Info("engine: deposit recorded",
		"user", username,
		"amount", amount.String(),
		"upgraded", res.Upgraded,
		"deposit_total", acct.DepositTotal.String(),
	)

	var errs []error
	if res.Upgraded && acct.Sponsor != "" {
		if err := e.addDirect(ctx, acct.Sponsor); err != nil {
			errs = append(errs, err)
		}
	}

	res.Sponsor, err = e.dist.SponsorBonus(ctx, p, username, amount)
	if err != nil {
		errs = append(errs, err)
	}
	if p.GenerationOnDeposit {
		res.Generation, err = e.dist.Generation(ctx, p, username, amount, "Generation income")
		if err != nil {
			errs = append(errs, err)
		}
		for _, l := range res.Generation {
			if l.Err != nil {
				errs = append(errs, l.Err)
			}
		}
	}
	if res.VolumeHops, err = e.dist.PropagateVolume(ctx, p, username, amount); err != nil {
		errs = append(errs, err)
	}
	if res.TeamHops, err = e.dist.AddTeamInvestment(ctx, p, username, amount); err != nil {
		errs = append(errs, err)
	}
	if p.GiftPercent.IsPositive() {
		gift, err := e.credit.Credit(ctx, p, credit.Request{
			Username: username,
			Type:     plan.Gift,
			Amount:   plan.PercentOf(amount, p.GiftPercent),
			Remark:   "Deposit gift voucher",
		})
		if err != nil {
			errs = append(errs, err)
		}
		res.Gift = &gift
	}
	return res, errors.Join(errs...)
}

func (e *Engine) addDirect(ctx context.Context, sponsor string) error {
	_, err := e.store.UpdateAccount(ctx, sponsor, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		a.DirectCount++
		return nil, nil
	})
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("engine: direct count of %s: %w", sponsor, err)
}
