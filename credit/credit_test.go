package credit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func premium(name, deposit string) *ledger.Account {
	a := ledger.NewAccount(name, "", t0)
	a.Membership = ledger.Premium
	a.DepositTotal = dec(deposit)
	return a
}

type fixture struct {
	store *ledger.MemStore
	c     *Crediter
	plan  *plan.Plan
}

func newFixture(t *testing.T, accounts ...*ledger.Account) *fixture {
	t.Helper()
	store := ledger.NewMemStore()
	for _, a := range accounts {
		require.NoError(t, store.CreateAccount(context.Background(), a))
	}
	return &fixture{
		store: store,
		c:     New(Config{Store: store, Clock: clockwork.NewFakeClockAt(t0)}),
		plan:  plan.Default(),
	}
}

func (f *fixture) account(t *testing.T, name string) *ledger.Account {
	t.Helper()
	a, err := f.store.GetAccount(context.Background(), name)
	require.NoError(t, err)
	return a
}

func (f *fixture) history(t *testing.T, name string) []*ledger.HistoryEntry {
	t.Helper()
	h, err := f.store.ListHistory(context.Background(), name)
	require.NoError(t, err)
	return h
}

// ---------------------------------------------------------------------------
// Authorize
// ---------------------------------------------------------------------------

func TestAuthorize(t *testing.T) {
	p := plan.Default()
	tests := []struct {
		name        string
		account     func() *ledger.Account
		typ         plan.IncomeType
		amount      string
		wantReason  Reason
		wantAllowed string
		wantClamped bool
	}{
		{"zero amount", func() *ledger.Account { return premium("a", "100") }, plan.Sponsor, "0", ReasonInvalidAmount, "0", false},
		{"negative amount", func() *ledger.Account { return premium("a", "100") }, plan.Sponsor, "-5", ReasonInvalidAmount, "0", false},
		{"free account", func() *ledger.Account {
			a := premium("a", "100")
			a.Membership = ledger.Free
			return a
		}, plan.Sponsor, "10", ReasonFreeIDBlocked, "0", false},
		{"free account exempt type", func() *ledger.Account {
			a := premium("a", "100")
			a.Membership = ledger.Free
			return a
		}, plan.ROI, "10", ReasonFreeIDBlocked, "0", false},
		{"no deposit", func() *ledger.Account { return premium("a", "0") }, plan.Sponsor, "10", ReasonNoDeposit, "0", false},
		{"within cap", func() *ledger.Account { return premium("a", "100") }, plan.Sponsor, "50", ReasonNone, "50", false},
		{"clamped", func() *ledger.Account {
			a := premium("a", "100")
			a.EarningUsed = dec("290")
			return a
		}, plan.Sponsor, "50", ReasonNone, "10", true},
		{"cap reached", func() *ledger.Account {
			a := premium("a", "100")
			a.EarningUsed = dec("300")
			return a
		}, plan.Generation, "1", ReasonCapReached, "0", false},
		{"exempt bypasses cap", func() *ledger.Account {
			a := premium("a", "100")
			a.EarningUsed = dec("300")
			return a
		}, plan.ROI, "50", ReasonNone, "50", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := Authorize(p, tc.account(), tc.typ, dec(tc.amount))
			assert.Equal(t, tc.wantReason, d.Reason)
			assert.Equal(t, tc.wantReason != ReasonNone, d.Blocked)
			assert.True(t, d.Allowed.Equal(dec(tc.wantAllowed)), "allowed %s", d.Allowed)
			assert.Equal(t, tc.wantClamped, d.Clamped)
			assert.False(t, d.Allowed.IsNegative())
		})
	}
}

func TestAuthorizeRecomputesStaleCap(t *testing.T) {
	p := plan.Default()
	a := premium("a", "200")
	a.EarningCap = dec("300") // persisted before a second deposit
	a.EarningUsed = dec("300")

	d := Authorize(p, a, plan.Sponsor, dec("50"))
	assert.False(t, d.Blocked)
	assert.True(t, d.Cap.Equal(dec("600")))
	assert.True(t, d.Allowed.Equal(dec("50")))
}

// ---------------------------------------------------------------------------
// Credit
// ---------------------------------------------------------------------------

func TestCredit_ClampToCap(t *testing.T) {
	a := premium("alice", "100")
	a.EarningUsed = dec("290")
	f := newFixture(t, a)

	res, err := f.c.Credit(context.Background(), f.plan, Request{Username: "alice", Type: plan.Sponsor, Amount: dec("50"), Remark: "bonus"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Credited.Equal(dec("10")))
	assert.True(t, res.Requested.Equal(dec("50")))
	assert.True(t, res.Clamped)

	got := f.account(t, "alice")
	assert.True(t, got.EarningUsed.Equal(dec("300")))
	assert.True(t, got.EarningCap.Equal(dec("300")))
	assert.True(t, got.DirectIncome.Equal(dec("10")))
	assert.True(t, got.EarningBalance.Equal(dec("10")))
	assert.True(t, got.TotalEarning.Equal(dec("10")))

	hist := f.history(t, "alice")
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Amount.Equal(dec("10")), "history records the credited amount")
	assert.Equal(t, plan.Sponsor, hist[0].Type)
	assert.Equal(t, "bonus", hist[0].Remark)
	assert.Equal(t, t0, hist[0].CreatedAt)
}

func TestCredit_ExemptTypeBypassesCap(t *testing.T) {
	a := premium("alice", "100")
	a.EarningUsed = dec("290")
	f := newFixture(t, a)

	res, err := f.c.Credit(context.Background(), f.plan, Request{Username: "alice", Type: plan.ROI, Amount: dec("50")})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Credited.Equal(dec("50")))

	got := f.account(t, "alice")
	assert.True(t, got.EarningUsed.Equal(dec("290")))
	assert.True(t, got.ROIEarned.Equal(dec("50")))
	assert.True(t, got.EarningBalance.Equal(dec("50")))
}

func TestCredit_FreeAccountUnchanged(t *testing.T) {
	a := ledger.NewAccount("bob", "", t0)
	a.DepositTotal = dec("500")
	f := newFixture(t, a)

	for _, typ := range plan.IncomeTypes {
		res, err := f.c.Credit(context.Background(), f.plan, Request{Username: "bob", Type: typ, Amount: dec("25")})
		require.NoError(t, err)
		assert.False(t, res.OK)
		assert.Equal(t, ReasonFreeIDBlocked, res.Reason, typ)
	}

	got := f.account(t, "bob")
	assert.True(t, got.EarningBalance.IsZero())
	assert.True(t, got.TotalEarning.IsZero())
	assert.True(t, got.EarningUsed.IsZero())
	assert.Equal(t, int64(0), got.Rev)
	assert.Empty(t, f.history(t, "bob"))
}

func TestCredit_SequenceNeverExceedsCap(t *testing.T) {
	f := newFixture(t, premium("alice", "100"))
	ctx := context.Background()

	var total decimal.Decimal
	amounts := []string{"40", "75.5", "100", "60", "30", "12", "5"}
	for _, amt := range amounts {
		res, err := f.c.Credit(ctx, f.plan, Request{Username: "alice", Type: plan.Generation, Amount: dec(amt)})
		require.NoError(t, err)
		if res.OK {
			total = total.Add(res.Credited)
		}
		got := f.account(t, "alice")
		assert.True(t, got.EarningUsed.LessThanOrEqual(dec("300")))
		assert.True(t, got.EarningUsed.Equal(total))
	}

	got := f.account(t, "alice")
	assert.True(t, got.EarningUsed.Equal(dec("300")))
	assert.True(t, got.TeamIncome.Equal(dec("300")))

	res, err := f.c.Credit(ctx, f.plan, Request{Username: "alice", Type: plan.Generation, Amount: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, ReasonCapReached, res.Reason)
	assert.Len(t, f.history(t, "alice"), 5)
}

func TestCredit_Rejections(t *testing.T) {
	f := newFixture(t, premium("alice", "100"))
	f.plan.Enabled = map[plan.IncomeType]bool{plan.Binary: false}
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want Reason
	}{
		{"missing user", Request{Username: "ghost", Type: plan.Sponsor, Amount: dec("1")}, ReasonUserNotFound},
		{"empty user", Request{Username: "  ", Type: plan.Sponsor, Amount: dec("1")}, ReasonInvalidUsername},
		{"disabled type", Request{Username: "alice", Type: plan.Binary, Amount: dec("1")}, ReasonTypeDisabled},
		{"zero amount", Request{Username: "alice", Type: plan.Sponsor}, ReasonInvalidAmount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.c.Credit(ctx, f.plan, tc.req)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tc.want, res.Reason)
			assert.True(t, res.Credited.IsZero())
		})
	}
	assert.Empty(t, f.history(t, "alice"))
}

func TestCredit_UnknownTypeIsError(t *testing.T) {
	f := newFixture(t, premium("alice", "100"))
	_, err := f.c.Credit(context.Background(), f.plan, Request{Username: "alice", Type: "bonus", Amount: dec("1")})
	assert.ErrorIs(t, err, plan.ErrUnknownIncomeType)
}

func TestCredit_ComputeAndApply(t *testing.T) {
	f := newFixture(t, premium("alice", "1000"))
	ctx := context.Background()

	req := Request{
		Username: "alice",
		Type:     plan.ROI,
		Compute: func(a *ledger.Account) (decimal.Decimal, Reason) {
			if a.LastROIDay == "2026-05-01" {
				return decimal.Zero, ReasonAlreadyProcessed
			}
			return plan.PercentOf(a.DepositTotal, dec("1.2")), ReasonNone
		},
		Apply: func(a *ledger.Account, credited decimal.Decimal) {
			a.LastROIDay = "2026-05-01"
		},
	}

	res, err := f.c.Credit(ctx, f.plan, req)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.True(t, res.Credited.Equal(dec("12")))
	assert.Equal(t, "2026-05-01", f.account(t, "alice").LastROIDay)

	res, err = f.c.Credit(ctx, f.plan, req)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, ReasonAlreadyProcessed, res.Reason)
	assert.True(t, f.account(t, "alice").ROIEarned.Equal(dec("12")))
	assert.Len(t, f.history(t, "alice"), 1)
}

func TestCredit_ApplySkippedWhenBlocked(t *testing.T) {
	a := premium("alice", "100")
	a.EarningUsed = dec("300")
	f := newFixture(t, a)

	applied := false
	res, err := f.c.Credit(context.Background(), f.plan, Request{
		Username: "alice",
		Type:     plan.Binary,
		Amount:   dec("5"),
		Apply:    func(*ledger.Account, decimal.Decimal) { applied = true },
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonCapReached, res.Reason)
	assert.False(t, applied)
}

// failingStore fails every update with a store error.
type failingStore struct {
	*ledger.MemStore
}

var errDown = errors.New("store down")

func (failingStore) UpdateAccount(context.Context, string, ledger.UpdateFunc) (*ledger.Account, error) {
	return nil, errDown
}

func TestCredit_MissingUserBeforeDisabledType(t *testing.T) {
	f := newFixture(t, premium("alice", "100"))
	f.plan.Enabled = map[plan.IncomeType]bool{plan.Rank: false}

	res, err := f.c.Credit(context.Background(), f.plan, Request{Username: "ghost", Type: plan.Rank, Amount: dec("5")})
	require.NoError(t, err)
	assert.Equal(t, ReasonUserNotFound, res.Reason)

	res, err = f.c.Credit(context.Background(), f.plan, Request{Username: "ghost", Type: plan.Sponsor})
	require.NoError(t, err)
	assert.Equal(t, ReasonUserNotFound, res.Reason)
}

// eachStore runs fn against the in-memory and bbolt stores.
func eachStore(t *testing.T, fn func(t *testing.T, s ledger.Store)) {
	t.Run("mem", func(t *testing.T) { fn(t, ledger.NewMemStore()) })
	t.Run("bolt", func(t *testing.T) {
		s, err := ledger.OpenBoltStore(filepath.Join(t.TempDir(), "ledger.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestCredit_ConcurrentCreditsRespectCap(t *testing.T) {
	eachStore(t, func(t *testing.T, s ledger.Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateAccount(ctx, premium("alice", "100")))
		c := New(Config{Store: s, Clock: clockwork.NewFakeClockAt(t0)})
		p := plan.Default()

		const n = 200
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			total = decimal.Zero
			errs  []error
		)
		for i := range n {
			typ := plan.Generation
			if i%2 == 1 {
				typ = plan.Gift
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := c.Credit(ctx, p, Request{Username: "alice", Type: typ, Amount: dec("3.7")})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if res.OK {
					total = total.Add(res.Credited)
				}
			}()
		}
		wg.Wait()
		require.Empty(t, errs)

		a, err := s.GetAccount(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, a.EarningUsed.Equal(dec("300")), "used %s", a.EarningUsed)
		assert.True(t, total.Equal(dec("300")), "credited %s", total)
		assert.True(t, a.TeamIncome.Add(a.GiftIncome).Equal(a.EarningUsed))
		assert.True(t, a.TotalEarning.Equal(a.EarningUsed))

		h, err := s.ListHistory(ctx, "alice")
		require.NoError(t, err)
		sum := decimal.Zero
		for _, e := range h {
			sum = sum.Add(e.Amount)
		}
		assert.True(t, sum.Equal(dec("300")), "history %s", sum)
	})
}

func TestCredit_StoreFailureIsError(t *testing.T) {
	c := New(Config{Store: failingStore{ledger.NewMemStore()}})
	res, err := c.Credit(context.Background(), plan.Default(), Request{Username: "alice", Type: plan.Gift, Amount: dec("1")})
	assert.ErrorIs(t, err, errDown)
	assert.False(t, res.OK)
}

func TestReasonLabel(t *testing.T) {
	assert.Equal(t, "ok", ReasonNone.Label())
	assert.Equal(t, "cap_reached", ReasonCapReached.Label())
}
