package payout

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitfsorg/libpayplan-go/credit"
	"github.com/bitfsorg/libpayplan-go/ledger"
	"github.com/bitfsorg/libpayplan-go/plan"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, got.Equal(dec(want)), "got %s, want %s %v", got, want, msgAndArgs)
}

func member(name, sponsor, deposit string) *ledger.Account {
	a := ledger.NewAccount(name, sponsor, t0)
	a.Membership = ledger.Premium
	a.DepositTotal = dec(deposit)
	return a
}

func place(a *ledger.Account, parent string, side ledger.Side) *ledger.Account {
	a.PlacementParent = parent
	a.PlacementSide = side
	return a
}

type fixture struct {
	store *ledger.MemStore
	dist  *Distributor
	plan  *plan.Plan
}

func newFixture(t *testing.T, accounts ...*ledger.Account) *fixture {
	t.Helper()
	store := ledger.NewMemStore()
	for _, a := range accounts {
		require.NoError(t, store.CreateAccount(context.Background(), a))
	}
	c := credit.New(credit.Config{Store: store, Clock: clockwork.NewFakeClockAt(t0)})
	return &fixture{store: store, dist: NewDistributor(store, c, nil), plan: plan.Default()}
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
// Sponsor bonus
// ---------------------------------------------------------------------------

func TestSponsorBonus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		member("alice", "", "1000"),
		member("bob", "alice", "1000"),
	)

	res, err := f.dist.SponsorBonus(ctx, f.plan, "bob", dec("1000"))
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "alice", res.Username)
	assertDec(t, "50", res.Credited)
	assertDec(t, "50", f.account(t, "alice").DirectIncome)

	h := f.history(t, "alice")
	require.Len(t, h, 1)
	assert.Equal(t, plan.Sponsor, h[0].Type)
	assert.Equal(t, "Sponsor bonus from bob", h[0].Remark)
}

func TestSponsorBonus_Rejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("alice", "", "1000"))

	res, err := f.dist.SponsorBonus(ctx, f.plan, "alice", dec("100"))
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, credit.ReasonNoUpline, res.Reason)

	res, err = f.dist.SponsorBonus(ctx, f.plan, "ghost", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, credit.ReasonUserNotFound, res.Reason)
}

// ---------------------------------------------------------------------------
// Generation
// ---------------------------------------------------------------------------

// chain builds u0 <- u1 <- ... <- u(n) where each account is sponsored by
// the next one up.
func chain(n int) []*ledger.Account {
	names := []string{"u0", "u1", "u2", "u3", "u4", "u5", "u6"}
	out := make([]*ledger.Account, 0, n+1)
	for i := 0; i <= n; i++ {
		sponsor := ""
		if i < n {
			sponsor = names[i+1]
		}
		out = append(out, member(names[i], sponsor, "1000"))
	}
	return out
}

func TestGeneration_LockedLevelDoesNotTruncate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain(5)...)
	f.plan.GenerationLevels = []plan.GenLevel{
		{Level: 1, Percent: dec("10")},
		{Level: 2, Percent: dec("10"), RequiredDirects: 1},
		{Level: 3, Percent: dec("10")},
		{Level: 4, Percent: dec("10")},
		{Level: 5, Percent: dec("10")},
	}

	levels, err := f.dist.Generation(ctx, f.plan, "u0", dec("100"), "Generation income")
	require.NoError(t, err)
	require.Len(t, levels, 5)

	wantUser := []string{"u1", "u2", "u3", "u4", "u5"}
	for i, l := range levels {
		assert.Equal(t, i+1, l.Level)
		assert.Equal(t, wantUser[i], l.Username)
		if i == 1 {
			assert.False(t, l.Result.OK)
			assert.Equal(t, credit.ReasonLevelLocked, l.Result.Reason)
			continue
		}
		assert.True(t, l.Result.OK, "level %d", l.Level)
		assertDec(t, "10", l.Result.Credited)
	}
	assertDec(t, "40", GenerationTotal(levels))
	assertDec(t, "0", f.account(t, "u2").TeamIncome)
	assertDec(t, "10", f.account(t, "u5").TeamIncome)
	assert.Equal(t, "Generation income L3 from u0", f.history(t, "u3")[0].Remark)
}

func TestGeneration_StopsAtRoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain(2)...)

	levels, err := f.dist.Generation(ctx, f.plan, "u0", dec("100"), "Generation income")
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assertDec(t, "20", levels[0].Result.Credited)
	// Level 2 requires three directs in the stock table.
	assert.Equal(t, credit.ReasonLevelLocked, levels[1].Result.Reason)
}

func TestGeneration_StopsOnCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		member("a", "b", "1000"),
		member("b", "a", "1000"),
	)
	levels, err := f.dist.Generation(ctx, f.plan, "a", dec("100"), "Generation income")
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, "b", levels[0].Username)
}

func TestGeneration_ZeroBase(t *testing.T) {
	f := newFixture(t, chain(2)...)
	levels, err := f.dist.Generation(context.Background(), f.plan, "u0", decimal.Zero, "x")
	require.NoError(t, err)
	assert.Empty(t, levels)
}

// ---------------------------------------------------------------------------
// ROI
// ---------------------------------------------------------------------------

func TestDailyROI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		member("alice", "bob", "1000"),
		member("bob", "", "1000"),
	)

	res, err := f.dist.DailyROI(ctx, f.plan, "alice", "2026-05-01")
	require.NoError(t, err)
	require.True(t, res.OK)
	assertDec(t, "12", res.Credited)
	require.Len(t, res.Levels, 1)
	assertDec(t, "2.4", res.Levels[0].Result.Credited)

	alice := f.account(t, "alice")
	assertDec(t, "12", alice.ROIEarned)
	assertDec(t, "0", alice.EarningUsed, "roi is cap exempt by default")
	assert.Equal(t, "2026-05-01", alice.LastROIDay)
}

func TestDailyROI_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("alice", "", "1000"))

	_, err := f.dist.DailyROI(ctx, f.plan, "alice", "2026-05-01")
	require.NoError(t, err)
	res, err := f.dist.DailyROI(ctx, f.plan, "alice", "2026-05-01")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, credit.ReasonAlreadyProcessed, res.Reason)
	assertDec(t, "12", f.account(t, "alice").ROIEarned)
	assert.Len(t, f.history(t, "alice"), 1)

	res, err = f.dist.DailyROI(ctx, f.plan, "alice", "2026-05-02")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assertDec(t, "24", f.account(t, "alice").ROIEarned)
}

func TestDailyROI_Rejections(t *testing.T) {
	ctx := context.Background()
	free := ledger.NewAccount("free", "", t0)
	f := newFixture(t, free, member("empty", "", "0"))

	res, err := f.dist.DailyROI(ctx, f.plan, "free", "2026-05-01")
	require.NoError(t, err)
	assert.Equal(t, credit.ReasonFreeIDBlocked, res.Reason)

	res, err = f.dist.DailyROI(ctx, f.plan, "empty", "2026-05-01")
	require.NoError(t, err)
	assert.Equal(t, credit.ReasonNoDeposit, res.Reason)
}

// ---------------------------------------------------------------------------
// Binary
// ---------------------------------------------------------------------------

func binaryTree() []*ledger.Account {
	root := member("root", "", "1000")
	root.LeftChild, root.RightChild = "lefty", "righty"
	lefty := place(member("lefty", "root", "300"), "root", ledger.Left)
	lefty.LeftChild = "deep"
	return []*ledger.Account{
		root,
		lefty,
		place(member("righty", "root", "150"), "root", ledger.Right),
		place(member("deep", "lefty", "100"), "lefty", ledger.Left),
	}
}

func TestPropagateVolume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, binaryTree()...)

	hops, err := f.dist.PropagateVolume(ctx, f.plan, "deep", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, 2, hops)
	assertDec(t, "100", f.account(t, "lefty").LeftVolume)
	assertDec(t, "100", f.account(t, "root").LeftVolume)
	assertDec(t, "0", f.account(t, "root").RightVolume)

	f.plan.BinaryHopLimit = 1
	hops, err = f.dist.PropagateVolume(ctx, f.plan, "deep", dec("50"))
	require.NoError(t, err)
	assert.Equal(t, 1, hops)
	assertDec(t, "150", f.account(t, "lefty").LeftVolume)
	assertDec(t, "100", f.account(t, "root").LeftVolume)
}

func TestMatch_CarriesRemainder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, binaryTree()...)

	_, err := f.dist.PropagateVolume(ctx, f.plan, "lefty", dec("300"))
	require.NoError(t, err)
	_, err = f.dist.PropagateVolume(ctx, f.plan, "righty", dec("150"))
	require.NoError(t, err)

	res, err := f.dist.Match(ctx, f.plan, "root", decimal.Zero)
	require.NoError(t, err)
	require.True(t, res.OK)
	assertDec(t, "150", res.Matched)
	assertDec(t, "15", res.Credited)

	root := f.account(t, "root")
	assertDec(t, "150", root.CarryLeft)
	assertDec(t, "0", root.CarryRight)
	assertDec(t, "0", root.LeftVolume)
	assertDec(t, "0", root.RightVolume)
	assertDec(t, "15", root.MatchingIncome)
	assert.Len(t, f.history(t, "root"), 1)

	res, err = f.dist.Match(ctx, f.plan, "root", decimal.Zero)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, credit.ReasonNothingToMatch, res.Reason)
	assert.Len(t, f.history(t, "root"), 1)
}

func TestMatch_DailyCapConsumesFullMatch(t *testing.T) {
	ctx := context.Background()
	root := member("root", "", "1000")
	root.LeftVolume, root.RightVolume = dec("500"), dec("200")
	f := newFixture(t, root)
	f.plan.BinaryDailyCap = dec("5")

	res, err := f.dist.Match(ctx, f.plan, "root", dec("10"))
	require.NoError(t, err)
	require.True(t, res.OK)
	assertDec(t, "5", res.Credited)

	got := f.account(t, "root")
	assertDec(t, "300", got.CarryLeft)
	assertDec(t, "0", got.CarryRight)
}

func TestMatch_RejectedKeepsVolume(t *testing.T) {
	ctx := context.Background()
	root := ledger.NewAccount("root", "", t0)
	root.LeftVolume, root.RightVolume = dec("100"), dec("100")
	f := newFixture(t, root)

	res, err := f.dist.Match(ctx, f.plan, "root", decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, credit.ReasonFreeIDBlocked, res.Reason)

	got := f.account(t, "root")
	assertDec(t, "100", got.LeftVolume)
	assertDec(t, "100", got.RightVolume)
	assertDec(t, "0", got.CarryLeft)
}

// ---------------------------------------------------------------------------
// Rank
// ---------------------------------------------------------------------------

func TestPromoteRank_ResetsWindow(t *testing.T) {
	ctx := context.Background()
	a := member("alice", "", "2500")
	a.TeamInvestment = dec("2500")
	a.RankStar, a.RankLabel = 1, "1 Star"
	a.RankDaysUsed, a.RankDaysTotal = 30, 50
	a.RankDailyAmount = dec("9")
	a.RankStatus = ledger.RankActive
	f := newFixture(t, a)

	pr, err := f.dist.PromoteRank(ctx, f.plan, "alice")
	require.NoError(t, err)
	assert.True(t, pr.Promoted)
	assert.Equal(t, 1, pr.From)
	assert.Equal(t, 2, pr.To)

	got := f.account(t, "alice")
	assert.Equal(t, 2, got.RankStar)
	assert.Equal(t, "2 Star", got.RankLabel)
	assert.Equal(t, 0, got.RankDaysUsed)
	assert.Equal(t, 50, got.RankDaysTotal)
	assertDec(t, "10", got.RankDailyAmount)
	assert.Equal(t, ledger.RankActive, got.RankStatus)

	pr, err = f.dist.PromoteRank(ctx, f.plan, "alice")
	require.NoError(t, err)
	assert.False(t, pr.Promoted)
}

func TestPromoteRank_NotQualified(t *testing.T) {
	tests := []struct {
		name    string
		account *ledger.Account
	}{
		{"team below minimum", func() *ledger.Account {
			a := member("a", "", "5000")
			a.TeamInvestment = dec("999")
			return a
		}()},
		{"free account", func() *ledger.Account {
			a := ledger.NewAccount("a", "", t0)
			a.DepositTotal, a.TeamInvestment = dec("5000"), dec("5000")
			return a
		}()},
		{"already higher", func() *ledger.Account {
			a := member("a", "", "1000")
			a.TeamInvestment = dec("1000")
			a.RankStar = 3
			return a
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.account)
			pr, err := f.dist.PromoteRank(context.Background(), f.plan, "a")
			require.NoError(t, err)
			assert.False(t, pr.Promoted)
			assert.Equal(t, tc.account.RankStar, f.account(t, "a").RankStar)
		})
	}
}

func TestPayRank_CompletesWindow(t *testing.T) {
	ctx := context.Background()
	a := member("alice", "", "1000")
	a.RankStar, a.RankStatus = 1, ledger.RankActive
	a.RankDaysTotal, a.RankDailyAmount = 2, dec("9")
	f := newFixture(t, a)

	steps := []struct {
		day        string
		wantOK     bool
		wantReason credit.Reason
		wantUsed   int
		wantStatus ledger.RankStatus
	}{
		{"2026-05-01", true, credit.ReasonNone, 1, ledger.RankActive},
		{"2026-05-01", false, credit.ReasonAlreadyProcessed, 1, ledger.RankActive},
		{"2026-05-02", true, credit.ReasonNone, 2, ledger.RankCompleted},
		{"2026-05-03", false, credit.ReasonRankInactive, 2, ledger.RankCompleted},
	}
	for _, s := range steps {
		res, err := f.dist.PayRank(ctx, f.plan, "alice", s.day)
		require.NoError(t, err)
		assert.Equal(t, s.wantOK, res.OK, s.day)
		assert.Equal(t, s.wantReason, res.Reason, s.day)
		got := f.account(t, "alice")
		assert.Equal(t, s.wantUsed, got.RankDaysUsed, s.day)
		assert.Equal(t, s.wantStatus, got.RankStatus, s.day)
	}
	assertDec(t, "18", f.account(t, "alice").RankIncome)
}

func TestPayRank_BlockedDayNotConsumed(t *testing.T) {
	ctx := context.Background()
	a := member("alice", "", "10")
	a.RankStatus = ledger.RankActive
	a.RankDaysTotal, a.RankDailyAmount = 5, dec("9")
	a.EarningCap, a.EarningUsed = dec("30"), dec("30")
	f := newFixture(t, a)

	res, err := f.dist.PayRank(ctx, f.plan, "alice", "2026-05-01")
	require.NoError(t, err)
	assert.Equal(t, credit.ReasonCapReached, res.Reason)
	assert.Equal(t, 0, f.account(t, "alice").RankDaysUsed)
}

// ---------------------------------------------------------------------------
// Global
// ---------------------------------------------------------------------------

func globalMembers() []*ledger.Account {
	free := ledger.NewAccount("fred", "", t0)
	free.DepositTotal = dec("5000")
	return []*ledger.Account{
		member("amy", "", "600"),
		member("ben", "", "700"),
		member("cal", "", "1500"),
		member("dan", "", "100"),
		free,
	}
}

func TestPreviewGlobal(t *testing.T) {
	f := newFixture(t, globalMembers()...)

	pv, err := f.dist.PreviewGlobal(context.Background(), f.plan, GlobalOptions{})
	require.NoError(t, err)
	assertDec(t, "2900", pv.TotalSales)
	assertDec(t, "2900", pv.NewSales)
	assertDec(t, "2900", pv.Effective)
	require.Len(t, pv.Tiers, 2)

	assert.Equal(t, []string{"amy", "ben"}, pv.Tiers[0].Members)
	assertDec(t, "87", pv.Tiers[0].Pool)
	assertDec(t, "43.5", pv.Tiers[0].PerMember)
	assert.Equal(t, []string{"cal"}, pv.Tiers[1].Members)
	assertDec(t, "58", pv.Tiers[1].Pool)
}

func TestPlanGlobal_Options(t *testing.T) {
	f := newFixture(t, globalMembers()...)
	f.plan.GlobalLastSales = dec("2000")
	f.plan.GlobalManualExtra = dec("100")

	run, err := f.dist.PlanGlobal(context.Background(), f.plan, GlobalOptions{})
	require.NoError(t, err)
	assertDec(t, "900", run.NewSales)
	assertDec(t, "1000", run.Effective)
	assert.NotEmpty(t, run.ID)
	assert.True(t, t0.Equal(run.CreatedAt))

	run, err = f.dist.PlanGlobal(context.Background(), f.plan, GlobalOptions{
		OverrideTotal: dec("10000"),
		PoolPercents:  map[string]decimal.Decimal{"A": dec("1")},
	})
	require.NoError(t, err)
	assertDec(t, "900", run.NewSales, "override does not change the baseline step")
	require.Len(t, run.Payouts, 3)
	assertDec(t, "50", run.Payouts[0].Amount)
	assertDec(t, "200", run.Payouts[2].Amount)
}

func TestPlanGlobal_NoNewSales(t *testing.T) {
	f := newFixture(t, globalMembers()...)
	f.plan.GlobalLastSales = dec("5000")

	run, err := f.dist.PlanGlobal(context.Background(), f.plan, GlobalOptions{})
	require.NoError(t, err)
	assertDec(t, "0", run.NewSales)
	assert.Empty(t, run.Payouts)
}

func TestPlanGlobal_OneTierPerMember(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, member("max", "", "2000"))
	// Open-ended bands that overlap; Validate rejects this, but a stored
	// plan must still never pay one account twice.
	f.plan.GlobalTiers = []plan.GlobalTier{
		{Name: "A", MinDeposit: dec("500"), PoolPercent: dec("3")},
		{Name: "B", MinDeposit: dec("1000"), PoolPercent: dec("2")},
	}

	pv, err := f.dist.PreviewGlobal(ctx, f.plan, GlobalOptions{})
	require.NoError(t, err)
	require.Len(t, pv.Tiers, 2)
	assert.Equal(t, []string{"max"}, pv.Tiers[0].Members)
	assert.Empty(t, pv.Tiers[1].Members)

	run, err := f.dist.PlanGlobal(ctx, f.plan, GlobalOptions{})
	require.NoError(t, err)
	require.Len(t, run.Payouts, 1)
	assert.Equal(t, "A", run.Payouts[0].Tier)

	res, err := f.dist.PayGlobalShare(ctx, f.plan, run.ID, run.Payouts[0])
	require.NoError(t, err)
	assert.True(t, res.OK)
	assertDec(t, "60", f.account(t, "max").GlobalIncome)
}

func TestPayGlobalShare_OncePerRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, globalMembers()...)

	run, err := f.dist.PlanGlobal(ctx, f.plan, GlobalOptions{})
	require.NoError(t, err)
	require.Len(t, run.Payouts, 3)

	for _, po := range run.Payouts {
		res, err := f.dist.PayGlobalShare(ctx, f.plan, run.ID, po)
		require.NoError(t, err)
		assert.True(t, res.OK, po.Username)
	}
	res, err := f.dist.PayGlobalShare(ctx, f.plan, run.ID, run.Payouts[0])
	require.NoError(t, err)
	assert.Equal(t, credit.ReasonAlreadyProcessed, res.Reason)

	assertDec(t, "43.5", f.account(t, "amy").GlobalIncome)
	assertDec(t, "58", f.account(t, "cal").GlobalIncome)
	assert.Equal(t, run.ID, f.account(t, "cal").LastGlobalRun)
}

// ---------------------------------------------------------------------------
// Split
// ---------------------------------------------------------------------------

func TestSplitEqual(t *testing.T) {
	tests := []struct {
		name string
		pool string
		n    int
		want []string
	}{
		{"even", "90", 3, []string{"30", "30", "30"}},
		{"remainder to last", "10", 3, []string{"3.33333333", "3.33333333", "3.33333334"}},
		{"single", "7.5", 1, []string{"7.5"}},
		{"zero pool", "0", 2, []string{"0", "0"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitEqual(dec(tc.pool), tc.n)
			require.Len(t, got, len(tc.want))
			sum := decimal.Zero
			for i, w := range tc.want {
				assertDec(t, w, got[i])
				sum = sum.Add(got[i])
			}
			assertDec(t, tc.pool, sum)
		})
	}
	assert.Nil(t, SplitEqual(dec("10"), 0))
}

// ---------------------------------------------------------------------------
// Team
// ---------------------------------------------------------------------------

func TestAddTeamInvestment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, chain(3)...)

	hops, err := f.dist.AddTeamInvestment(ctx, f.plan, "u0", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, 3, hops)
	for _, name := range []string{"u1", "u2", "u3"} {
		assertDec(t, "100", f.account(t, name).TeamInvestment, name)
	}
	assertDec(t, "0", f.account(t, "u0").TeamInvestment)
}

func TestTeamTotals(t *testing.T) {
	leaf := member("leaf", "mid", "100")
	mid := member("mid", "top", "50")
	top := member("top", "", "0")
	freeKid := ledger.NewAccount("kid", "top", t0)
	accounts := []*ledger.Account{leaf, mid, top, freeKid}

	got := TeamTotals(accounts, 200)
	assertDec(t, "150", got["top"].TeamInvestment)
	assert.Equal(t, 1, got["top"].DirectCount, "free directs do not count")
	assertDec(t, "100", got["mid"].TeamInvestment)
	assert.Equal(t, 1, got["mid"].DirectCount)
	assertDec(t, "0", got["leaf"].TeamInvestment)

	got = TeamTotals(accounts, 1)
	assertDec(t, "50", got["top"].TeamInvestment)
}

func TestTeamTotals_Cycle(t *testing.T) {
	a := member("a", "b", "10")
	b := member("b", "a", "20")
	got := TeamTotals([]*ledger.Account{a, b}, 200)
	assertDec(t, "20", got["a"].TeamInvestment)
	assertDec(t, "10", got["b"].TeamInvestment)
}
