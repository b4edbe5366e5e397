package engine

import "errors"

var (
	// ErrInvalidAmount indicates a non-positive amount on a non-credit operation.
	ErrInvalidAmount = errors.New("engine: amount must be positive")

	// ErrInvalidUsername indicates an empty username.
	ErrInvalidUsername = errors.New("engine: invalid username")

	// ErrInsufficientFunds indicates a wallet or earning balance below the debit.
	ErrInsufficientFunds = errors.New("engine: insufficient funds")

	// ErrNotPremium indicates a top-up deposit on a free account.
	ErrNotPremium = errors.New("engine: account is not premium")

	// ErrSponsorNotFound indicates the named sponsor has no account.
	ErrSponsorNotFound = errors.New("engine: sponsor not found")

	// ErrPlacementNotFound indicates the placement parent has no account.
	ErrPlacementNotFound = errors.New("engine: placement parent not found")

	// ErrInvalidSide indicates a placement side other than L or R.
	ErrInvalidSide = errors.New("engine: invalid placement side")

	// ErrNoOpenSlot indicates the placement search found no free position.
	ErrNoOpenSlot = errors.New("engine: no open placement slot")
)
