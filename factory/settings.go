package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/warp/coverage-engine/coverage"
)

// Recognised adjustment setting keys.
const (
	KeyMultiplier      = "multiplier"
	KeyDiscountPercent = "discountPercent"
	KeyTimeLimitHours  = "timeLimitHours"
)

var (
	// ErrNotNumeric is the cause recorded for setting values that are not numbers.
	ErrNotNumeric = errors.New("not a number")

	// ErrOutOfRange is the cause recorded for numbers too large to use.
	ErrOutOfRange = errors.New("out of range")
)

// Hour limits are held in an int; anything beyond int32 is rejected
// rather than wrapped.
var (
	maxHours = decimal.NewFromInt(math.MaxInt32)
	minHours = decimal.NewFromInt(math.MinInt32)
)

// ParseAdjustmentSettings converts a raw settings map into the closed
// coverage.AdjustmentSettings set.
//
// Unknown keys are ignored. A recognised key whose value cannot be
// converted does not fail the parse: it is recorded in Malformed so the
// adjuster falls back to the unadjusted amount when the layer is evaluated.
// Keys are checked in application order, so Malformed names the first bad
// step.
func ParseAdjustmentSettings(raw map[string]any) coverage.AdjustmentSettings {
	var s coverage.AdjustmentSettings
	if len(raw) == 0 {
		return s
	}

	if v, ok := raw[KeyMultiplier]; ok && v != nil {
		d, err := toDecimal(v)
		if err != nil {
			s.Malformed = &coverage.SettingError{Key: KeyMultiplier, Value: v, Err: err}
			return s
		}
		s.Multiplier = &d
	}

	if v, ok := raw[KeyDiscountPercent]; ok && v != nil {
		d, err := toDecimal(v)
		if err != nil {
			s.Malformed = &coverage.SettingError{Key: KeyDiscountPercent, Value: v, Err: err}
			return s
		}
		s.DiscountPercent = &d
	}

	if v, ok := raw[KeyTimeLimitHours]; ok && v != nil {
		d, err := toDecimal(v)
		if err == nil && !d.Equal(d.Truncate(0)) {
			err = fmt.Errorf("%w: hours must be whole", ErrNotNumeric)
		}
		if err == nil && (d.GreaterThan(maxHours) || d.LessThan(minHours)) {
			err = fmt.Errorf("%w: %s hours", ErrOutOfRange, d.String())
		}
		if err != nil {
			s.Malformed = &coverage.SettingError{Key: KeyTimeLimitHours, Value: v, Err: err}
			return s
		}
		h := int(d.IntPart())
		s.TimeLimitHours = &h
	}

	return s
}

// SettingsToMap is the inverse of ParseAdjustmentSettings for well-formed
// settings. Amounts are rendered as strings to keep them exact.
func SettingsToMap(s coverage.AdjustmentSettings) map[string]any {
	if s.IsZero() {
		return nil
	}
	m := make(map[string]any, 3)
	if s.Multiplier != nil {
		m[KeyMultiplier] = s.Multiplier.String()
	}
	if s.DiscountPercent != nil {
		m[KeyDiscountPercent] = s.DiscountPercent.String()
	}
	if s.TimeLimitHours != nil {
		m[KeyTimeLimitHours] = *s.TimeLimitHours
	}
	return m
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case json.Number:
		return decimalFromString(n.String())
	case string:
		return decimalFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case uint64:
		return decimal.NewFromUint64(n), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrNotNumeric, v)
	}
}

func decimalFromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNotNumeric, s)
	}
	return d, nil
}
