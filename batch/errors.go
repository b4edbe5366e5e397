package batch

import "errors"

var (
	// ErrRunInProgress indicates another run of the same kind holds the lock.
	ErrRunInProgress = errors.New("batch: run already in progress")

	// ErrInvalidDay indicates a day argument is not in YYYY-MM-DD form.
	ErrInvalidDay = errors.New("batch: invalid day (want YYYY-MM-DD)")
)
