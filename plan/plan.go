package plan

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// MaxGenerationLevels bounds the generation override walk.
const MaxGenerationLevels = 20

// GenLevel is one row of the generation override table.
type GenLevel struct {
	Level           int             `json:"level"`
	Percent         decimal.Decimal `json:"percent"`
	RequiredDirects int             `json:"requiredDirects"`
}

// RankTier is one row of the rank table. Tiers are ordered by ascending star.
type RankTier struct {
	Star             int             `json:"star"`
	Label            string          `json:"label"`
	PersonalSalesMin decimal.Decimal `json:"personalSalesMin"`
	TeamSalesMin     decimal.Decimal `json:"teamSalesMin"`
	DailyBonus       decimal.Decimal `json:"dailyBonus"`
	TotalDays        int             `json:"totalDays"`
}

// GlobalTier is a deposit band of the global sales bonus. MinDeposit is
// inclusive, MaxDeposit exclusive; a zero MaxDeposit means unbounded.
type GlobalTier struct {
	Name        string          `json:"name"`
	MinDeposit  decimal.Decimal `json:"minDeposit"`
	MaxDeposit  decimal.Decimal `json:"maxDeposit"`
	PoolPercent decimal.Decimal `json:"poolPercent"`
}

// Contains reports whether a deposit total falls inside the band.
func (g GlobalTier) Contains(deposit decimal.Decimal) bool {
	if deposit.LessThan(g.MinDeposit) {
		return false
	}
	return g.MaxDeposit.IsZero() || deposit.LessThan(g.MaxDeposit)
}

// GlobalPayout is a single member's share of a global bonus run.
type GlobalPayout struct {
	Username string          `json:"username"`
	Tier     string          `json:"tier"`
	Amount   decimal.Decimal `json:"amount"`
}

// GlobalRun is a computed global bonus distribution. It is persisted with
// the plan before any payout is credited so an interrupted run resumes
// with the same figures.
type GlobalRun struct {
	ID        string          `json:"id"`
	NewSales  decimal.Decimal `json:"newSales"`
	Effective decimal.Decimal `json:"effective"`
	Payouts   []GlobalPayout  `json:"payouts"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Plan is the compensation plan snapshot. Engine operations load it once
// and pass it down by value; nothing below the engine reads it from the
// store.
type Plan struct {
	Version int64 `json:"version"`

	CapMultiplier decimal.Decimal     `json:"capMultiplier"`
	CapExempt     []IncomeType        `json:"capExempt"`
	Enabled       map[IncomeType]bool `json:"enabled,omitempty"`

	SponsorPercent      decimal.Decimal `json:"sponsorPercent"`
	ROIPercentPerDay    decimal.Decimal `json:"roiPercentPerDay"`
	ROIAffiliatePercent decimal.Decimal `json:"roiAffiliatePercent"`
	GiftPercent         decimal.Decimal `json:"giftPercent"`
	GenerationOnDeposit bool            `json:"generationOnDeposit"`
	GenerationLevels    []GenLevel      `json:"generationLevels"`
	UplineHopLimit      int             `json:"uplineHopLimit"`

	RankTiers []RankTier `json:"rankTiers"`

	BinaryPercent  decimal.Decimal `json:"binaryPercent"`
	BinaryDailyCap decimal.Decimal `json:"binaryDailyCap"`
	BinaryHopLimit int             `json:"binaryHopLimit"`

	GlobalTiers       []GlobalTier    `json:"globalTiers"`
	GlobalLastSales   decimal.Decimal `json:"globalLastSales"`
	GlobalManualExtra decimal.Decimal `json:"globalManualExtra"`
	GlobalPending     *GlobalRun      `json:"globalPending,omitempty"`
}

// IsExempt reports whether credits of type t bypass the earning cap.
func (p *Plan) IsExempt(t IncomeType) bool {
	return slices.Contains(p.CapExempt, t)
}

// IsEnabled reports whether type t may be credited. Types absent from the
// Enabled map are enabled.
func (p *Plan) IsEnabled(t IncomeType) bool {
	on, ok := p.Enabled[t]
	return !ok || on
}

// Cap returns the earning cap for a given deposit total.
func (p *Plan) Cap(deposit decimal.Decimal) decimal.Decimal {
	return deposit.Mul(p.CapMultiplier)
}

// QualifyingRank returns the highest tier whose personal and team minimums
// are both met.
func (p *Plan) QualifyingRank(personal, team decimal.Decimal) (RankTier, bool) {
	var best RankTier
	found := false
	for _, t := range p.RankTiers {
		if personal.LessThan(t.PersonalSalesMin) || team.LessThan(t.TeamSalesMin) {
			continue
		}
		if !found || t.Star > best.Star {
			best, found = t, true
		}
	}
	return best, found
}

// GlobalTierFor returns the first global tier containing deposit.
func (p *Plan) GlobalTierFor(deposit decimal.Decimal) (GlobalTier, bool) {
	for _, t := range p.GlobalTiers {
		if t.Contains(deposit) {
			return t, true
		}
	}
	return GlobalTier{}, false
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	c := *p
	c.CapExempt = slices.Clone(p.CapExempt)
	c.GenerationLevels = slices.Clone(p.GenerationLevels)
	c.RankTiers = slices.Clone(p.RankTiers)
	c.GlobalTiers = slices.Clone(p.GlobalTiers)
	if p.Enabled != nil {
		c.Enabled = make(map[IncomeType]bool, len(p.Enabled))
		for k, v := range p.Enabled {
			c.Enabled[k] = v
		}
	}
	if p.GlobalPending != nil {
		run := *p.GlobalPending
		run.Payouts = slices.Clone(p.GlobalPending.Payouts)
		c.GlobalPending = &run
	}
	return &c
}

var hundred = decimal.NewFromInt(100)

// PercentOf returns amount × pct / 100.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}
