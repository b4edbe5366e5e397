package plan

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Validate checks that all plan values are within acceptable ranges and
// returns the first error encountered, or nil if valid.
func Validate(p *Plan) error {
	if !p.CapMultiplier.IsPositive() {
		return ErrInvalidCapMultiplier
	}

	for _, t := range p.CapExempt {
		if !t.Valid() {
			return fmt.Errorf("%w: cap exempt %q", ErrUnknownIncomeType, t)
		}
	}
	for t := range p.Enabled {
		if !t.Valid() {
			return fmt.Errorf("%w: enable flag %q", ErrUnknownIncomeType, t)
		}
	}

	percents := []struct {
		name  string
		value decimal.Decimal
	}{
		{"sponsorPercent", p.SponsorPercent},
		{"roiPercentPerDay", p.ROIPercentPerDay},
		{"roiAffiliatePercent", p.ROIAffiliatePercent},
		{"giftPercent", p.GiftPercent},
		{"binaryPercent", p.BinaryPercent},
		{"binaryDailyCap", p.BinaryDailyCap},
	}
	for _, pc := range percents {
		if pc.value.IsNegative() {
			return fmt.Errorf("%w: %s", ErrNegativePercent, pc.name)
		}
	}

	if len(p.GenerationLevels) > MaxGenerationLevels {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLevels, len(p.GenerationLevels), MaxGenerationLevels)
	}
	for i, lvl := range p.GenerationLevels {
		if lvl.Level != i+1 {
			return fmt.Errorf("%w: entry %d has level %d", ErrInvalidLevel, i, lvl.Level)
		}
		if lvl.Percent.IsNegative() || lvl.RequiredDirects < 0 {
			return fmt.Errorf("%w: level %d", ErrInvalidLevel, lvl.Level)
		}
	}

	prevStar := 0
	for _, t := range p.RankTiers {
		if t.Star <= prevStar {
			return fmt.Errorf("%w: star %d out of order", ErrInvalidRankTier, t.Star)
		}
		if t.TotalDays <= 0 || !t.DailyBonus.IsPositive() {
			return fmt.Errorf("%w: star %d needs positive days and bonus", ErrInvalidRankTier, t.Star)
		}
		if t.PersonalSalesMin.IsNegative() || t.TeamSalesMin.IsNegative() {
			return fmt.Errorf("%w: star %d has negative minimum", ErrInvalidRankTier, t.Star)
		}
		prevStar = t.Star
	}

	names := make(map[string]bool, len(p.GlobalTiers))
	for _, g := range p.GlobalTiers {
		if g.Name == "" || names[g.Name] {
			return fmt.Errorf("%w: missing or duplicate name %q", ErrInvalidGlobalTier, g.Name)
		}
		names[g.Name] = true
		if g.MinDeposit.IsNegative() || g.PoolPercent.IsNegative() {
			return fmt.Errorf("%w: %s", ErrInvalidGlobalTier, g.Name)
		}
		if !g.MaxDeposit.IsZero() && g.MaxDeposit.LessThanOrEqual(g.MinDeposit) {
			return fmt.Errorf("%w: %s upper bound below lower bound", ErrInvalidGlobalTier, g.Name)
		}
	}
	for i, a := range p.GlobalTiers {
		for _, b := range p.GlobalTiers[i+1:] {
			if bandsOverlap(a, b) {
				return fmt.Errorf("%w: %s overlaps %s", ErrInvalidGlobalTier, a.Name, b.Name)
			}
		}
	}

	if p.UplineHopLimit <= 0 || p.BinaryHopLimit <= 0 {
		return ErrInvalidHopLimit
	}
	return nil
}

// bandsOverlap reports whether the deposit bands [Min, Max) of a and b
// share any value. A zero Max is unbounded.
func bandsOverlap(a, b GlobalTier) bool {
	belowMax := func(lo decimal.Decimal, t GlobalTier) bool {
		return t.MaxDeposit.IsZero() || lo.LessThan(t.MaxDeposit)
	}
	return belowMax(a.MinDeposit, b) && belowMax(b.MinDeposit, a)
}
