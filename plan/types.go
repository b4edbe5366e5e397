package plan

import (
	"fmt"
	"strings"
)

// IncomeType identifies one income stream. The set is closed; every value
// maps to exactly one per-type ledger field.
type IncomeType string

const (
	Sponsor    IncomeType = "sponsor"
	Generation IncomeType = "generation"
	ROI        IncomeType = "roi"
	Binary     IncomeType = "binary"
	Rank       IncomeType = "rank"
	Global     IncomeType = "global"
	Gift       IncomeType = "gift"
)

// IncomeTypes lists every income type in a stable order.
var IncomeTypes = []IncomeType{Sponsor, Generation, ROI, Binary, Rank, Global, Gift}

// incomeAliases maps the legacy names still sent by admin tooling.
var incomeAliases = map[string]IncomeType{
	"direct":   Sponsor,
	"gen":      Generation,
	"team":     Generation,
	"level":    Generation,
	"matching": Binary,
	"topup":    Gift,
	"voucher":  Gift,
}

// Valid reports whether t is one of the known income types.
func (t IncomeType) Valid() bool {
	switch t {
	case Sponsor, Generation, ROI, Binary, Rank, Global, Gift:
		return true
	}
	return false
}

func (t IncomeType) String() string { return string(t) }

// ParseIncomeType converts a user-supplied name (case-insensitive, legacy
// aliases accepted) into an IncomeType.
func ParseIncomeType(s string) (IncomeType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if t := IncomeType(name); t.Valid() {
		return t, nil
	}
	if t, ok := incomeAliases[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIncomeType, s)
}
