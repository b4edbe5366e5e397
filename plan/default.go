package plan

import (
	"strconv"

	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// defaultLevels is the 20-level generation table as percent/required directs.
var defaultLevels = [MaxGenerationLevels][2]float64{
	{20, 0}, {10, 3}, {5, 2}, {4, 1}, {3, 1},
	{2, 1}, {5, 1}, {4, 1}, {3, 3}, {2, 3},
	{1, 3}, {2, 3}, {2, 3}, {2, 3}, {2, 3},
	{2, 3}, {2, 3}, {3, 3}, {3, 3}, {3, 3},
}

// defaultRanks holds personal/team minimum, daily bonus and payout days.
var defaultRanks = [][4]float64{
	{1000, 1000, 9, 50},
	{2500, 2500, 10, 50},
	{5000, 5000, 20, 50},
	{10000, 10000, 33, 60},
	{25000, 25000, 66, 75},
	{50000, 50000, 100, 100},
	{100000, 100000, 166, 120},
	{250000, 250000, 333, 150},
}

// Default returns the stock compensation plan: 3x cap with ROI exempt,
// 5% sponsor, 1.2% daily ROI, a 20-level generation table, eight rank
// tiers, 10% binary matching and two global bonus bands.
func Default() *Plan {
	p := &Plan{
		Version:             0,
		CapMultiplier:       d(3),
		CapExempt:           []IncomeType{ROI},
		SponsorPercent:      d(5),
		ROIPercentPerDay:    d(1.2),
		ROIAffiliatePercent: d(100),
		UplineHopLimit:      200,
		BinaryPercent:       d(10),
		BinaryHopLimit:      200,
		GlobalTiers: []GlobalTier{
			{Name: "A", MinDeposit: d(500), MaxDeposit: d(1000), PoolPercent: d(3)},
			{Name: "B", MinDeposit: d(1000), PoolPercent: d(2)},
		},
	}
	for i, row := range defaultLevels {
		p.GenerationLevels = append(p.GenerationLevels, GenLevel{
			Level:           i + 1,
			Percent:         d(row[0]),
			RequiredDirects: int(row[1]),
		})
	}
	for i, row := range defaultRanks {
		star := i + 1
		p.RankTiers = append(p.RankTiers, RankTier{
			Star:             star,
			Label:            starLabel(star),
			PersonalSalesMin: d(row[0]),
			TeamSalesMin:     d(row[1]),
			DailyBonus:       d(row[2]),
			TotalDays:        int(row[3]),
		})
	}
	return p
}

func starLabel(star int) string {
	return strconv.Itoa(star) + " Star"
}
