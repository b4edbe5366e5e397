package ledger

import "errors"

var (
	// ErrAccountNotFound indicates no account exists for the username.
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrAccountExists indicates an account with this username already exists.
	ErrAccountExists = errors.New("ledger: account already exists")

	// ErrInvalidUsername indicates the username is empty after normalization.
	ErrInvalidUsername = errors.New("ledger: invalid username")

	// ErrNilParam indicates a required parameter is nil.
	ErrNilParam = errors.New("ledger: required parameter is nil")

	// ErrConflict indicates a concurrent writer changed the record first.
	ErrConflict = errors.New("ledger: concurrent update conflict")

	// ErrPlanNotFound indicates no plan has been stored yet.
	ErrPlanNotFound = errors.New("ledger: plan not found")
)
