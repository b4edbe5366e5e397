package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bitfsorg/libpayplan-go/plan"
)

// Membership is the account tier. Only premium accounts earn.
type Membership string

const (
	Free    Membership = "free"
	Premium Membership = "premium"
)

// Side is a placement side in the binary tree.
type Side string

const (
	Left  Side = "L"
	Right Side = "R"
)

// Valid reports whether s is Left or Right.
func (s Side) Valid() bool { return s == Left || s == Right }

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

// RankStatus tracks the rank payout window.
type RankStatus string

const (
	RankNone      RankStatus = "none"
	RankActive    RankStatus = "active"
	RankCompleted RankStatus = "completed"
)

// Account is one member's ledger record, keyed by lowercase username.
type Account struct {
	Username   string     `json:"username" bson:"_id"`
	Membership Membership `json:"membership" bson:"membership"`
	Sponsor    string     `json:"sponsor,omitempty" bson:"sponsor,omitempty"`

	DepositTotal  decimal.Decimal `json:"depositTotal" bson:"depositTotal"`
	AddBalance    decimal.Decimal `json:"addBalance" bson:"addBalance"`
	WithdrawTotal decimal.Decimal `json:"withdrawTotal" bson:"withdrawTotal"`

	DirectIncome   decimal.Decimal `json:"directIncome" bson:"directIncome"`
	TeamIncome     decimal.Decimal `json:"teamIncome" bson:"teamIncome"`
	RankIncome     decimal.Decimal `json:"rankIncome" bson:"rankIncome"`
	GlobalIncome   decimal.Decimal `json:"globalIncome" bson:"globalIncome"`
	ROIEarned      decimal.Decimal `json:"roiEarned" bson:"roiEarned"`
	MatchingIncome decimal.Decimal `json:"matchingIncome" bson:"matchingIncome"`
	GiftIncome     decimal.Decimal `json:"giftIncome" bson:"giftIncome"`

	EarningBalance decimal.Decimal `json:"earningBalance" bson:"earningBalance"`
	TotalEarning   decimal.Decimal `json:"totalEarning" bson:"totalEarning"`
	EarningCap     decimal.Decimal `json:"earningCap" bson:"earningCap"`
	EarningUsed    decimal.Decimal `json:"earningUsed" bson:"earningUsed"`

	DirectCount    int             `json:"directCount" bson:"directCount"`
	TeamInvestment decimal.Decimal `json:"teamInvestment" bson:"teamInvestment"`

	PlacementParent string          `json:"placementParent,omitempty" bson:"placementParent,omitempty"`
	PlacementSide   Side            `json:"placementSide,omitempty" bson:"placementSide,omitempty"`
	LeftChild       string          `json:"leftChild,omitempty" bson:"leftChild,omitempty"`
	RightChild      string          `json:"rightChild,omitempty" bson:"rightChild,omitempty"`
	LeftVolume      decimal.Decimal `json:"leftVolume" bson:"leftVolume"`
	RightVolume     decimal.Decimal `json:"rightVolume" bson:"rightVolume"`
	CarryLeft       decimal.Decimal `json:"carryLeft" bson:"carryLeft"`
	CarryRight      decimal.Decimal `json:"carryRight" bson:"carryRight"`

	RankStar        int             `json:"rankStar" bson:"rankStar"`
	RankLabel       string          `json:"rankLabel,omitempty" bson:"rankLabel,omitempty"`
	RankDaysUsed    int             `json:"rankDaysUsed" bson:"rankDaysUsed"`
	RankDaysTotal   int             `json:"rankDaysTotal" bson:"rankDaysTotal"`
	RankDailyAmount decimal.Decimal `json:"rankDailyAmount" bson:"rankDailyAmount"`
	RankStatus      RankStatus      `json:"rankStatus" bson:"rankStatus"`

	// Idempotency markers for batch runs.
	LastROIDay    string `json:"lastRoiDay,omitempty" bson:"lastRoiDay,omitempty"`
	LastRankDay   string `json:"lastRankDay,omitempty" bson:"lastRankDay,omitempty"`
	LastGlobalRun string `json:"lastGlobalRun,omitempty" bson:"lastGlobalRun,omitempty"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	Rev       int64     `json:"rev" bson:"rev"`
}

// NewAccount returns a free account with every earning field zero.
func NewAccount(username, sponsor string, now time.Time) *Account {
	return &Account{
		Username:   NormalizeUsername(username),
		Membership: Free,
		Sponsor:    NormalizeUsername(sponsor),
		RankStatus: RankNone,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NormalizeUsername lowercases and trims a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsPremium reports whether the account is on the premium tier.
func (a *Account) IsPremium() bool { return a.Membership == Premium }

// Bucket returns the per-type income field credited for income type t, or
// nil for an unknown type.
func (a *Account) Bucket(t plan.IncomeType) *decimal.Decimal {
	switch t {
	case plan.Sponsor:
		return &a.DirectIncome
	case plan.Generation:
		return &a.TeamIncome
	case plan.ROI:
		return &a.ROIEarned
	case plan.Binary:
		return &a.MatchingIncome
	case plan.Rank:
		return &a.RankIncome
	case plan.Global:
		return &a.GlobalIncome
	case plan.Gift:
		return &a.GiftIncome
	}
	return nil
}

// ChildOn returns the child username placed on side s.
func (a *Account) ChildOn(s Side) string {
	if s == Left {
		return a.LeftChild
	}
	return a.RightChild
}

// SetChild records child as the placement child on side s.
func (a *Account) SetChild(s Side, child string) {
	if s == Left {
		a.LeftChild = child
	} else {
		a.RightChild = child
	}
}

// Clone returns a copy of the account. Decimal values are immutable, so a
// shallow struct copy is sufficient.
func (a *Account) Clone() *Account {
	c := *a
	return &c
}

// HistoryEntry is an append-only record of one successful credit.
type HistoryEntry struct {
	ID        string          `json:"id" bson:"_id"`
	Username  string          `json:"username" bson:"username"`
	Type      plan.IncomeType `json:"type" bson:"type"`
	Amount    decimal.Decimal `json:"amount" bson:"amount"`
	Remark    string          `json:"remark,omitempty" bson:"remark,omitempty"`
	CreatedAt time.Time       `json:"createdAt" bson:"createdAt"`
}
