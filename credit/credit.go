package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/logger"
	"github.com/bitfsorg/libpayplan-go/metrics"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// errRejected aborts the store transaction on a business rejection.
var errRejected = errors.New("credit: rejected")

// Request describes one credit. When Compute is set it derives the amount
// from the locked account and Amount is ignored; a non-empty Reason from
// Compute rejects the credit. Apply runs after the balances are updated,
// inside the same transaction, and only when something was credited.
// Both hooks must be pure functions of the account they receive.
type Request struct {
	Username string
	Type     plan.IncomeType
	Amount   decimal.Decimal
	Remark   string

	Compute func(a *ledger.Account) (decimal.Decimal, Reason)
	Apply   func(a *ledger.Account, credited decimal.Decimal)
}

// Result is the structured outcome of a credit. OK is false for business
// rejections, which are not errors.
type Result struct {
	OK        bool            `json:"ok"`
	Username  string          `json:"username"`
	Type      plan.IncomeType `json:"type"`
	Requested decimal.Decimal `json:"requested"`
	Credited  decimal.Decimal `json:"credited"`
	Clamped   bool            `json:"clamped,omitempty"`
	Reason    Reason          `json:"reason,omitempty"`
}

// Config configures a Crediter.
type Config struct {
	Store  ledger.Store
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Crediter is the single code path that moves money into earning fields.
type Crediter struct {
	store ledger.Store
	clock clockwork.Clock
	log   *slog.Logger
}

// New creates a Crediter.
func New(cfg Config) *Crediter {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Crediter{
		store: cfg.Store,
		clock: clock,
		log:   logger.OrDiscard(cfg.Logger),
	}
}

// Credit authorizes and applies req against the plan snapshot p. The
// balance update, per-type bucket, cap usage, Apply hook and history entry
// commit together or not at all. Only store failures return an error.
func (c *Crediter) Credit(ctx context.Context, p *plan.Plan, req Request) (Result, error) {
	username := ledger.NormalizeUsername(req.Username)
	res := Result{Username: username, Type: req.Type, Requested: req.Amount}

	if !req.Type.Valid() {
		return res, fmt.Errorf("credit: %w: %q", plan.ErrUnknownIncomeType, req.Type)
	}
	if username == "" {
		return c.reject(res, ReasonInvalidUsername), nil
	}

	var (
		reason   Reason
		credited decimal.Decimal
		clamped  bool
		computed = req.Amount
	)
	_, err := c.store.UpdateAccount(ctx, username, func(a *ledger.Account) (*ledger.HistoryEntry, error) {
		reason, clamped = ReasonNone, false
		// The account exists at this point, so USER_NOT_FOUND wins over
		// every other rejection.
		if !p.IsEnabled(req.Type) {
			reason = ReasonTypeDisabled
			return nil, errRejected
		}
		amount := req.Amount
		if req.Compute != nil {
			var r Reason
			amount, r = req.Compute(a)
			if r != ReasonNone {
				reason = r
				return nil, errRejected
			}
		}
		computed = amount
		if !amount.IsPositive() {
			reason = ReasonInvalidAmount
			return nil, errRejected
		}

		d := Authorize(p, a, req.Type, amount)
		if d.Blocked {
			reason = d.Reason
			return nil, errRejected
		}

		now := c.clock.Now().UTC()
		a.EarningCap = d.Cap
		bucket := a.Bucket(req.Type)
		*bucket = bucket.Add(d.Allowed)
		a.EarningBalance = a.EarningBalance.Add(d.Allowed)
		a.TotalEarning = a.TotalEarning.Add(d.Allowed)
		if !p.IsExempt(req.Type) {
			a.EarningUsed = a.EarningUsed.Add(d.Allowed)
		}
		if req.Apply != nil {
			req.Apply(a, d.Allowed)
		}
		a.UpdatedAt = now

		credited, clamped = d.Allowed, d.Clamped
		return &ledger.HistoryEntry{
			ID:        uuid.NewString(),
			Username:  username,
			Type:      req.Type,
			Amount:    d.Allowed,
			Remark:    req.Remark,
			CreatedAt: now,
		}, nil
	})
	res.Requested = computed

	switch {
	case errors.Is(err, errRejected):
		return c.reject(res, reason), nil
	case errors.Is(err, ledger.ErrAccountNotFound):
		return c.reject(res, ReasonUserNotFound), nil
	case err != nil:
		metrics.CreditsTotal.WithLabelValues(string(req.Type), "error").Inc()
		return res, fmt.Errorf("credit: %s to %s: %w", req.Type, username, err)
	}

	res.OK = true
	res.Credited = credited
	res.Clamped = clamped
	metrics.CreditsTotal.WithLabelValues(string(req.Type), ReasonNone.Label()).Inc()
	metrics.CreditedAmountTotal.WithLabelValues(string(req.Type)).Add(credited.InexactFloat64())
	c.log.Debug("credit: applied",
		"user", username,
		"type", req.Type,
		"amount", credited.String(),
		"clamped", clamped,
		"remark", req.Remark,
	)
	return res, nil
}

// Now returns the crediter's clock time in UTC.
func (c *Crediter) Now() time.Time { return c.clock.Now().UTC() }

func (c *Crediter) reject(res Result, r Reason) Result {
	res.Reason = r
	metrics.CreditsTotal.WithLabelValues(string(res.Type), r.Label()).Inc()
	c.log.Debug("credit: rejected", "user", res.Username, "type", res.Type, "reason", r)
	return res
}
