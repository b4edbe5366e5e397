// Package batch runs distribution algorithms across the member set. Runs
// are interruptible between accounts: credits already applied stand, and
// the per-account idempotency markers make a re-run safe.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/logger"
	"github.com/bitfsorg/libpayplan-go/metrics"
	"github.com/bitfsorg/libpayplan-go/payout"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// Run names, used for locking, metrics and summaries.
const (
	RunROI    = "roi"
	RunRank   = "rank"
	RunBinary = "binary"
	RunGlobal = "global"
	RunTeam   = "team"
)

// DayLayout is the format of batch day keys.
const DayLayout = "2006-01-02"

// DefaultWorkers is the per-run account concurrency when none is set.
const DefaultWorkers = 4

// Config configures a Runner.
type Config struct {
	Store       ledger.Store
	Distributor *payout.Distributor
	Lock        RunLock
	Workers     int
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Runner orchestrates batch runs.
type Runner struct {
	store   ledger.Store
	dist    *payout.Distributor
	lock    RunLock
	workers int
	clock   clockwork.Clock
	log     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		store:   cfg.Store,
		dist:    cfg.Distributor,
		lock:    cfg.Lock,
		workers: cfg.Workers,
		clock:   cfg.Clock,
		log:     logger.OrDiscard(cfg.Logger),
	}
	if r.lock == nil {
		r.lock = NewLocalLock()
	}
	if r.workers <= 0 {
		r.workers = DefaultWorkers
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	return r
}

// LoadPlan returns the stored plan, or the default plan when none is stored.
func LoadPlan(ctx context.Context, store ledger.Store) (*plan.Plan, error) {
	p, err := store.GetPlan(ctx)
	if errors.Is(err, ledger.ErrPlanNotFound) {
		return plan.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("batch: load plan: %w", err)
	}
	return p, nil
}

// Today returns the runner's current day key.
func (r *Runner) Today() string {
	return r.clock.Now().UTC().Format(DayLayout)
}

func (r *Runner) dayOrToday(day string) (string, error) {
	if day == "" {
		return r.Today(), nil
	}
	if _, err := time.Parse(DayLayout, day); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, day)
	}
	return day, nil
}

// begin takes the run lock and loads the plan snapshot for the run.
func (r *Runner) begin(ctx context.Context, run, day string) (*Summary, *plan.Plan, func(), error) {
	release, err := r.lock.Acquire(ctx, run)
	if err != nil {
		return nil, nil, nil, err
	}
	p, err := LoadPlan(ctx, r.store)
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	r.log.Info("batch: run started", "run", run, "day", day, "plan_version", p.Version)
	return newSummary(run, day, r.clock.Now().UTC()), p, release, nil
}

// finish stamps the duration and records metrics.
func (r *Runner) finish(s *Summary, err error) {
	s.Duration = r.clock.Since(s.Started)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case s.Failed > 0:
		status = "partial"
	}
	metrics.BatchRunsTotal.WithLabelValues(s.Run, status).Inc()
	metrics.BatchDuration.WithLabelValues(s.Run).Observe(s.Duration.Seconds())

	attrs := []any{
		"run", s.Run,
		"done", s.Done,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"credited", s.Credited.String(),
		"duration", s.Duration,
	}
	if err != nil {
		r.log.Warn("batch: run interrupted", append(attrs, "error", err)...)
		return
	}
	r.log.Info("batch: run finished", attrs...)
}

func (r *Runner) premium(ctx context.Context) ([]*ledger.Account, error) {
	accounts, err := r.store.ListAccounts(ctx, ledger.Filter{Membership: ledger.Premium})
	if err != nil {
		return nil, fmt.Errorf("batch: list accounts: %w", err)
	}
	return accounts, nil
}

// forEach runs fn over items with at most workers in flight. One item's
// failure never cancels the others. It stops dispatching once ctx is done
// and returns ctx.Err() after in-flight items settle.
func forEach[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T)) error {
	var g errgroup.Group
	g.SetLimit(workers)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// RunDailyROI credits the day's ROI to every premium account and fans each
// credit out through the generation table. An empty day means today.
func (r *Runner) RunDailyROI(ctx context.Context, day string) (s *Summary, err error) {
	day, err = r.dayOrToday(day)
	if err != nil {
		return nil, err
	}
	s, p, release, err := r.begin(ctx, RunROI, day)
	if err != nil {
		return nil, err
	}
	defer release()
	defer func() { r.finish(s, err) }()

	accounts, err := r.premium(ctx)
	if err != nil {
		return s, err
	}
	err = forEach(ctx, r.workers, accounts, func(ctx context.Context, a *ledger.Account) {
		res, err := r.dist.DailyROI(ctx, p, a.Username, day)
		if !res.OK {
			s.record(a.Username, res.Result, err)
			return
		}
		// The ROI credit committed; failures below belong to the upline walk.
		s.record(a.Username, res.Result, nil)
		s.addCredited(payout.GenerationTotal(res.Levels))
		for _, l := range res.Levels {
			if l.Err != nil {
				s.fail(l.Username, fmt.Errorf("generation L%d from %s: %w", l.Level, a.Username, l.Err))
			}
		}
		if err != nil {
			s.fail(a.Username, fmt.Errorf("generation walk: %w", err))
		}
	})
	return s, err
}

// RunRank promotes every premium account that qualifies for a higher tier
// and then pays one day of each active rank window.
func (r *Runner) RunRank(ctx context.Context, day string) (s *Summary, err error) {
	day, err = r.dayOrToday(day)
	if err != nil {
		return nil, err
	}
	s, p, release, err := r.begin(ctx, RunRank, day)
	if err != nil {
		return nil, err
	}
	defer release()
	defer func() { r.finish(s, err) }()

	accounts, err := r.premium(ctx)
	if err != nil {
		return s, err
	}
	err = forEach(ctx, r.workers, accounts, func(ctx context.Context, a *ledger.Account) {
		pr, err := r.dist.PromoteRank(ctx, p, a.Username)
		if err != nil {
			s.fail(a.Username, err)
			return
		}
		if pr.Promoted {
			s.promoted()
		}
		res, err := r.dist.PayRank(ctx, p, a.Username, day)
		s.record(a.Username, res, err)
	})
	return s, err
}

// RunBinary matches every premium account's leg volumes. A zero percent
// uses the plan's binary percentage.
func (r *Runner) RunBinary(ctx context.Context, percent decimal.Decimal) (s *Summary, err error) {
	s, p, release, err := r.begin(ctx, RunBinary, "")
	if err != nil {
		return nil, err
	}
	defer release()
	defer func() { r.finish(s, err) }()

	accounts, err := r.premium(ctx)
	if err != nil {
		return s, err
	}
	err = forEach(ctx, r.workers, accounts, func(ctx context.Context, a *ledger.Account) {
		res, err := r.dist.Match(ctx, p, a.Username, percent)
		s.record(a.Username, res.Result, err)
	})
	return s, err
}

// RunGlobal distributes the global sales bonus. The computed run is stored
// in the plan before any share is credited; a pending run left by an
// interrupted or partially failed distribution is resumed as stored and
// opts are ignored. The baseline advances only once every share has been
// paid or skipped without a store failure.
func (r *Runner) RunGlobal(ctx context.Context, opts payout.GlobalOptions) (s *Summary, err error) {
	s, p, release, err := r.begin(ctx, RunGlobal, "")
	if err != nil {
		return nil, err
	}
	defer release()
	defer func() { r.finish(s, err) }()

	run := p.GlobalPending
	if run != nil {
		s.Resumed = true
	} else {
		fresh, err := r.dist.PlanGlobal(ctx, p, opts)
		if err != nil {
			return s, err
		}
		_, err = r.store.UpdatePlan(ctx, func(np *plan.Plan) error {
			run = fresh
			if np.GlobalPending != nil {
				run = np.GlobalPending
				return nil
			}
			np.GlobalPending = fresh
			return nil
		})
		if err != nil {
			return s, fmt.Errorf("batch: store global run: %w", err)
		}
		s.Resumed = run != fresh
	}
	s.RunID = run.ID

	err = forEach(ctx, r.workers, run.Payouts, func(ctx context.Context, po plan.GlobalPayout) {
		res, err := r.dist.PayGlobalShare(ctx, p, run.ID, po)
		s.record(po.Username, res, err)
	})
	if err != nil {
		return s, err
	}
	if s.Failed > 0 {
		r.log.Warn("batch: global run left pending", "run_id", run.ID, "failed", s.Failed)
		return s, nil
	}

	_, err = r.store.UpdatePlan(ctx, func(np *plan.Plan) error {
		if np.GlobalPending == nil || np.GlobalPending.ID != run.ID {
			return nil
		}
		np.GlobalLastSales = np.GlobalLastSales.Add(run.NewSales)
		np.GlobalManualExtra = decimal.Zero
		np.GlobalPending = nil
		return nil
	})
	if err != nil {
		return s, fmt.Errorf("batch: advance global baseline: %w", err)
	}
	return s, nil
}

// RunTeamRecalc recomputes every account's TeamInvestment and DirectCount
// from the sponsor tree, repairing drift left by interrupted deposits.
// Done counts corrected accounts and Skipped counts accounts already right.
func (r *Runner) RunTeamRecalc(ctx context.Context) (s *Summary, err error) {
	s, p, release, err := r.begin(ctx, RunTeam, "")
	if err != nil {
		return nil, err
	}
	defer release()
	defer func() { r.finish(s, err) }()

	accounts, err := r.store.ListAccounts(ctx, ledger.Filter{})
	if err != nil {
		return s, fmt.Errorf("batch: list accounts: %w", err)
	}
	totals := payout.TeamTotals(accounts, p.UplineHopLimit)

	err = forEach(ctx, r.workers, accounts, func(ctx context.Context, a *ledger.Account) {
		want := totals[a.Username]
		changed := false
		_, err := r.store.UpdateAccount(ctx, a.Username, func(cur *ledger.Account) (*ledger.HistoryEntry, error) {
			changed = false
			if !cur.TeamInvestment.Equal(want.TeamInvestment) {
				cur.TeamInvestment = want.TeamInvestment
				changed = true
			}
			if cur.DirectCount != want.DirectCount {
				cur.DirectCount = want.DirectCount
				changed = true
			}
			if !changed {
				return nil, errUnchanged
			}
			return nil, nil
		})
		switch {
		case errors.Is(err, errUnchanged):
			s.counted(false)
		case err != nil:
			s.fail(a.Username, err)
		default:
			s.counted(true)
		}
	})
	return s, err
}

var errUnchanged = errors.New("batch: unchanged")
