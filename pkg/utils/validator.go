package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// FlexibleBool accepts JSON true/false as well as the strings "true"/"false"
// in any case. Document services that post form-encoded flags send strings.
type FlexibleBool bool

// UnmarshalJSON implements json.Unmarshaler
func (b *FlexibleBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = FlexibleBool(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected boolean, got %s", string(data))
	}
	parsed, err := ParseFlexibleBool(s)
	if err != nil {
		return err
	}
	*b = FlexibleBool(parsed)
	return nil
}

// ParseFlexibleBool parses "true"/"false" ignoring case and surrounding spaces
func ParseFlexibleBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, fmt.Errorf("expected \"true\" or \"false\", got %q", s)
	}
}

// ParseAmount parses a non-negative decimal amount
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must not be negative: %s", d)
	}
	return d, nil
}

// SanitizeString removes control characters
func SanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
