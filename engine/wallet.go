package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// FundWallet adds an approved external payment to the activation wallet.
func (e *Engine) FundWallet(ctx context.Context, username string, amount decimal.Decimal) (*ledger.Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if ledger.NormalizeUsername(username) == "" {
		return nil, ErrInvalidUsername
	}
	a, err := e.store.UpdateAccount(ctx, username, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		a.AddBalance = a.AddBalance.Add(amount)
		a.UpdatedAt = e.clock.Now().UTC()
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fund wallet of %s: %w", username, err)
	}
	return a, nil
}

// Withdraw pays out amount from the earning balance. TotalEarning is an
// audit figure and is not reduced.
func (e *Engine) Withdraw(ctx context.Context, username string, amount decimal.Decimal) (*ledger.Account, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if ledger.NormalizeUsername(username) == "" {
		return nil, ErrInvalidUsername
	}
	a, err := e.store.UpdateAccount(ctx, username, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		if a.EarningBalance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		a.EarningBalance = a.EarningBalance.Sub(amount)
		a.WithdrawTotal = a.WithdrawTotal.Add(amount)
		a.UpdatedAt = e.clock.Now().UTC()
		return nil, nil
	})
	if errors.Is(err, ErrInsufficientFunds) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("engine: withdraw for %s: %w", username, err)
	}
	e.log.Info("engine: withdrawal", "user", a.Username, "amount", amount.String())
	return a, nil
}

// IncomeSummary is the income barometer of one account.
type IncomeSummary struct {
	Username       string                              `json:"username"`
	Membership     ledger.Membership                   `json:"membership"`
	Deposit        decimal.Decimal                     `json:"deposit"`
	Income         map[plan.IncomeType]decimal.Decimal `json:"income"`
	TotalEarning   decimal.Decimal                     `json:"totalEarning"`
	EarningBalance decimal.Decimal                     `json:"earningBalance"`
	Withdrawn      decimal.Decimal                     `json:"withdrawn"`
	Cap            decimal.Decimal                     `json:"cap"`
	Used           decimal.Decimal                     `json:"used"`
	Remaining      decimal.Decimal                     `json:"remaining"`
	UsedPercent    decimal.Decimal                     `json:"usedPercent"`
}

// Summary reports per-type income and cap usage for username.
func (e *Engine) Summary(ctx context.Context, username string) (*IncomeSummary, error) {
	p, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	a, err := e.store.GetAccount(ctx, username)
	if err != nil {
		return nil, err
	}

	s := &IncomeSummary{
		Username:       a.Username,
		Membership:     a.Membership,
		Deposit:        a.DepositTotal,
		Income:         make(map[plan.IncomeType]decimal.Decimal, len(plan.IncomeTypes)),
		TotalEarning:   a.TotalEarning,
		EarningBalance: a.EarningBalance,
		Withdrawn:      a.WithdrawTotal,
		Cap:            p.Cap(a.DepositTotal),
		Used:           a.EarningUsed,
		Remaining:      decimal.Zero,
		UsedPercent:    decimal.Zero,
	}
	for _, t := range plan.IncomeTypes {
		s.Income[t] = *a.Bucket(t)
	}
	if s.Cap.IsPositive() {
		if rem := s.Cap.Sub(s.Used); rem.IsPositive() {
			s.Remaining = rem
		}
		s.UsedPercent = s.Used.Div(s.Cap).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return s, nil
}
