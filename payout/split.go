package payout

import "github.com/shopspring/decimal"

// sharePlaces is the precision of an individual share.
const sharePlaces = 8

// SplitEqual divides pool into n shares. Every share but the last is
// rounded down to sharePlaces; the last gets the remainder so the shares
// always sum to pool.
func SplitEqual(pool decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	shares := make([]decimal.Decimal, n)
	each := pool.Div(decimal.NewFromInt(int64(n))).RoundDown(sharePlaces)
	distributed := decimal.Zero
	for i := 0; i < n-1; i++ {
		shares[i] = each
		distributed = distributed.Add(each)
	}
	shares[n-1] = pool.Sub(distributed)
	return shares
}
