package pattern

import (
	"strings"

	"github.com/holiman/uint256"
)

var unitDecimals = map[string]int{
	"ether": 18,
	"gwei":  9,
	"wei":   0,
}

// ParseAmount parses "<number> [ether|gwei|wei]" into wei. A bare number is
// taken as wei. Fractional digits beyond the unit's precision are floored;
// wei amounts must be whole. Scientific notation is rejected.
func ParseAmount(text string) (*uint256.Int, error) {
	fields := strings.Fields(text)
	var number, unit string
	switch len(fields) {
	case 1:
		number, unit = fields[0], "wei"
	case 2:
		number, unit = fields[0], strings.ToLower(fields[1])
	default:
		return nil, invalid("Invalid amount %q: expected '<number> [ether|gwei|wei]'", text)
	}
	decimals, ok := unitDecimals[unit]
	if !ok {
		return nil, invalid("Invalid amount %q: unknown unit %q", text, unit)
	}

	whole, frac, hasDot := strings.Cut(number, ".")
	if !isDigits(whole) || (hasDot && !isDigits(frac)) {
		return nil, invalid("Invalid amount %q: not a decimal number", text)
	}
	if hasDot && decimals == 0 {
		return nil, invalid("Invalid amount %q: %s does not accept decimals", text, unit)
	}
	if len(frac) > decimals {
		frac = frac[:decimals]
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", decimals-len(frac)), "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	value, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, invalid("Invalid amount %q: %v", text, err)
	}
	return value, nil
}
