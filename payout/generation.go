package payout

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

// LevelResult is the outcome of one generation level.
type LevelResult struct {
	Level    int             `json:"level"`
	Username string          `json:"username"`
	Percent  decimal.Decimal `json:"percent"`
	Result   credit.Result   `json:"result"`
	Err      error           `json:"-"`
}

// Generation walks the sponsor chain above from and credits each upline
// level's percentage of base. A level whose upline lacks the required
// direct count is skipped and the walk continues; skipped shares are not
// redistributed. The walk ends at the root, on a repeated username, or
// after the last table entry.
//
// A store failure while crediting one level is recorded on that level and
// the walk goes on. A failure to read an upline ends the walk because its
// sponsor is unknown; the levels done so far are returned with the error.
func (d *Distributor) Generation(ctx context.Context, p *plan.Plan, from string, base decimal.Decimal, remark string) ([]LevelResult, error) {
	levels := p.GenerationLevels
	if len(levels) > plan.MaxGenerationLevels {
		levels = levels[:plan.MaxGenerationLevels]
	}
	if !base.IsPositive() || len(levels) == 0 {
		return nil, nil
	}

	current := ledger.NormalizeUsername(from)
	visited := map[string]bool{current: true}
	results := make([]LevelResult, 0, len(levels))

	for _, lvl := range levels {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		acct, err := d.lookup(ctx, current)
		if err != nil {
			return results, err
		}
		if acct == nil || acct.Sponsor == "" || visited[acct.Sponsor] {
			break
		}
		upline := acct.Sponsor
		visited[upline] = true

		res, err := d.credit.Credit(ctx, p, credit.Request{
			Username: upline,
			Type:     plan.Generation,
			Amount:   plan.PercentOf(base, lvl.Percent),
			Remark:   fmt.Sprintf("%s L%d from %s", remark, lvl.Level, from),
			Compute: func(a *ledger.Account) (decimal.Decimal, credit.Reason) {
				if a.DirectCount < lvl.RequiredDirects {
					return decimal.Zero, credit.ReasonLevelLocked
				}
				return plan.PercentOf(base, lvl.Percent), credit.ReasonNone
			},
		})
		if err != nil {
			d.log.Error("payout: generation level failed", "level", lvl.Level, "user", upline, "error", err)
		}
		results = append(results, LevelResult{
			Level:    lvl.Level,
			Username: upline,
			Percent:  lvl.Percent,
			Result:   res,
			Err:      err,
		})
		current = upline
	}
	return results, nil
}

// GenerationTotal sums the credited amounts of a walk.
func GenerationTotal(levels []LevelResult) decimal.Decimal {
	total := decimal.Zero
	for _, l := range levels {
		if l.Result.OK {
			total = total.Add(l.Result.Credited)
		}
	}
	return total
}
