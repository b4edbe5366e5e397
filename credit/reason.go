package credit

import "strings"

// Reason explains why a credit was not applied. The empty Reason means the
// credit went through.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInvalidAmount    Reason = "INVALID_AMOUNT"
	ReasonInvalidUsername  Reason = "INVALID_USERNAME"
	ReasonFreeIDBlocked    Reason = "FREE_ID_BLOCKED"
	ReasonNoDeposit        Reason = "NO_DEPOSIT"
	ReasonCapReached       Reason = "CAP_REACHED"
	ReasonTypeDisabled     Reason = "TYPE_DISABLED"
	ReasonUserNotFound     Reason = "USER_NOT_FOUND"
	ReasonNoUpline         Reason = "NO_UPLINE"
	ReasonLevelLocked      Reason = "LEVEL_LOCKED"
	ReasonAlreadyProcessed Reason = "ALREADY_PROCESSED"
	ReasonNothingToMatch   Reason = "NOTHING_TO_MATCH"
	ReasonRankInactive     Reason = "RANK_INACTIVE"
	ReasonNotEligible      Reason = "NOT_ELIGIBLE"
)

// Label is the lowercase form used for metric labels.
func (r Reason) Label() string {
	if r == ReasonNone {
		return "ok"
	}
	return strings.ToLower(string(r))
}
