// Package engine is the trigger surface of the compensation engine. Each
// operation loads the plan snapshot once and passes it down to the payout
// and batch layers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/batch"
	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/logger"
	"github.com/bitfsorg/libpayplan-go/payout"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// Config configures an Engine.
type Config struct {
	Store   ledger.Store
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Workers int
	Lock    batch.RunLock
}

// Engine ties the ledger store, credit primitive, distribution algorithms
// and batch runner together.
type Engine struct {
	store  ledger.Store
	clock  clockwork.Clock
	log    *slog.Logger
	credit *credit.Crediter
	dist   *payout.Distributor
	runner *batch.Runner
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine: %w: store", ledger.ErrNilParam)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	log := logger.OrDiscard(cfg.Logger)

	c := credit.New(credit.Config{Store: cfg.Store, Clock: clock, Logger: log})
	dist := payout.NewDistributor(cfg.Store, c, log)
	return &Engine{
		store:  cfg.Store,
		clock:  clock,
		log:    log,
		credit: c,
		dist:   dist,
		runner: batch.NewRunner(batch.Config{
			Store:       cfg.Store,
			Distributor: dist,
			Lock:        cfg.Lock,
			Workers:     cfg.Workers,
			Clock:       clock,
			Logger:      log,
		}),
	}, nil
}

// Plan returns the current plan snapshot, or the default plan when none
// has been stored.
func (e *Engine) Plan(ctx context.Context) (*plan.Plan, error) {
	return batch.LoadPlan(ctx, e.store)
}

// SavePlan validates p and stores it as the new plan. The global bonus
// baseline and any pending global run are engine state and are kept from
// the stored plan.
func (e *Engine) SavePlan(ctx context.Context, p *plan.Plan) (*plan.Plan, error) {
	if p == nil {
		return nil, fmt.Errorf("engine: %w: plan", ledger.ErrNilParam)
	}
	if err := plan.Validate(p); err != nil {
		return nil, err
	}
	saved, err := e.store.UpdatePlan(ctx, func(np *plan.Plan) error {
		next := p.Clone()
		next.GlobalLastSales = np.GlobalLastSales
		next.GlobalPending = np.GlobalPending
		next.Version = np.Version
		*np = *next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: save plan: %w", err)
	}
	e.log.Info("engine: plan saved", "version", saved.Version)
	return saved, nil
}

// Account returns the account for username.
func (e *Engine) Account(ctx context.Context, username string) (*ledger.Account, error) {
	return e.store.GetAccount(ctx, username)
}

// History returns username's credit statement in append order.
func (e *Engine) History(ctx context.Context, username string) ([]*ledger.HistoryEntry, error) {
	if ledger.NormalizeUsername(username) == "" {
		return nil, ErrInvalidUsername
	}
	return e.store.ListHistory(ctx, username)
}

// SendManualCredit is the admin credit path. It goes through the same
// credit primitive as every algorithm.
func (e *Engine) SendManualCredit(ctx context.Context, username string, amount decimal.Decimal, t plan.IncomeType, remark string) (credit.Result, error) {
	p, err := e.Plan(ctx)
	if err != nil {
		return credit.Result{}, err
	}
	if remark == "" {
		remark = "Manual " + t.String() + " credit"
	}
	return e.credit.Credit(ctx, p, credit.Request{
		Username: username,
		Type:     t,
		Amount:   amount,
		Remark:   remark,
	})
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// RunDailyROI runs the daily ROI batch for day (empty means today).
func (e *Engine) RunDailyROI(ctx context.Context, day string) (*batch.Summary, error) {
	return e.runner.RunDailyROI(ctx, day)
}

// RunRank runs rank promotion and the daily rank payout for day.
func (e *Engine) RunRank(ctx context.Context, day string) (*batch.Summary, error) {
	return e.runner.RunRank(ctx, day)
}

// RunBinary runs binary matching; a zero percent uses the plan's.
func (e *Engine) RunBinary(ctx context.Context, percent decimal.Decimal) (*batch.Summary, error) {
	return e.runner.RunBinary(ctx, percent)
}

// RunGlobalBonus distributes the global sales bonus.
func (e *Engine) RunGlobalBonus(ctx context.Context, opts payout.GlobalOptions) (*batch.Summary, error) {
	return e.runner.RunGlobal(ctx, opts)
}

// RunTeamRecalc rebuilds team investment and direct counts.
func (e *Engine) RunTeamRecalc(ctx context.Context) (*batch.Summary, error) {
	return e.runner.RunTeamRecalc(ctx)
}

// PreviewGlobal computes the global bonus figures without crediting.
func (e *Engine) PreviewGlobal(ctx context.Context, opts payout.GlobalOptions) (*payout.GlobalPreview, error) {
	p, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	return e.dist.PreviewGlobal(ctx, p, opts)
}

func isNotFound(err error) bool { return errors.Is(err, ledger.ErrAccountNotFound) }
