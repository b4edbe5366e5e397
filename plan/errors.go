package plan

import "errors"

var (
	// ErrUnknownIncomeType indicates an income type name is not recognized.
	ErrUnknownIncomeType = errors.New("plan: unknown income type")

	// ErrInvalidCapMultiplier indicates the cap multiplier is not positive.
	ErrInvalidCapMultiplier = errors.New("plan: cap multiplier must be positive")

	// ErrNegativePercent indicates a percentage parameter is below zero.
	ErrNegativePercent = errors.New("plan: percentage must not be negative")

	// ErrTooManyLevels indicates the generation table exceeds MaxGenerationLevels.
	ErrTooManyLevels = errors.New("plan: too many generation levels")

	// ErrInvalidLevel indicates generation levels are not numbered 1..n in order.
	ErrInvalidLevel = errors.New("plan: generation levels must be numbered 1..n")

	// ErrInvalidRankTier indicates a malformed or out-of-order rank tier.
	ErrInvalidRankTier = errors.New("plan: invalid rank tier")

	// ErrInvalidGlobalTier indicates a malformed global bonus tier.
	ErrInvalidGlobalTier = errors.New("plan: invalid global tier")

	// ErrInvalidHopLimit indicates a walk hop limit is not positive.
	ErrInvalidHopLimit = errors.New("plan: hop limit must be positive")

	// ErrPlanFileNotFound indicates the plan file does not exist.
	ErrPlanFileNotFound = errors.New("plan: plan file not found")
)
