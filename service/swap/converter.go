package swap

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Convert maps a source-ledger atomic amount to target-ledger atomic units:
//
//	sourceUnits = amount / SourceAtomicUnitFactor
//	targetUnits = sourceUnits / Ratio, truncated to digits(TargetAtomicUnitFactor)-1 places
//	result      = targetUnits * TargetAtomicUnitFactor
//
// Truncation (never rounding) is part of the contract: a given amount always
// converts to the same value. Any fractional atomic remainder is dropped.
func Convert(sourceAtomic int64, p Params) (int64, error) {
	return convert(decimal.NewFromInt(sourceAtomic), p)
}

// ConvertString is Convert for amounts that arrive as text.
func ConvertString(sourceAtomic string, p Params) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(sourceAtomic))
	if err != nil {
		return 0, newError(ReasonConversion, err, "amount %q is not numeric", sourceAtomic)
	}
	if !amount.IsInteger() {
		return 0, newError(ReasonConversion, nil, "amount %q is not a whole number of atomic units", sourceAtomic)
	}
	return convert(amount, p)
}

func convert(amount decimal.Decimal, p Params) (int64, error) {
	switch {
	case p.SourceAtomicUnitFactor <= 0:
		return 0, newError(ReasonConversion, nil, "source atomic unit factor must be positive")
	case p.TargetAtomicUnitFactor <= 0:
		return 0, newError(ReasonConversion, nil, "target atomic unit factor must be positive")
	case !p.Ratio.IsPositive():
		return 0, newError(ReasonConversion, nil, "swap ratio must be positive")
	case amount.IsNegative():
		return 0, newError(ReasonConversion, nil, "amount cannot be negative")
	}

	places := int32(len(strconv.FormatInt(p.TargetAtomicUnitFactor, 10)) - 1)
	targetFactor := decimal.NewFromInt(p.TargetAtomicUnitFactor)

	// amount / (sourceFactor * ratio) is sourceUnits / ratio without an
	// intermediate rounding step; QuoRem truncates at the requested precision.
	divisor := decimal.NewFromInt(p.SourceAtomicUnitFactor).Mul(p.Ratio)
	targetUnits, _ := amount.QuoRem(divisor, places)

	targetAtomic := targetUnits.Mul(targetFactor).Truncate(0)
	if !targetAtomic.BigInt().IsInt64() {
		return 0, newError(ReasonConversion, nil, "converted amount overflows")
	}
	return targetAtomic.IntPart(), nil
}

// TargetUnits returns the truncated target-ledger amount in whole units,
// formatted for display.
func TargetUnits(targetAtomic int64, p Params) string {
	if p.TargetAtomicUnitFactor <= 0 {
		return "0"
	}
	places := int32(len(strconv.FormatInt(p.TargetAtomicUnitFactor, 10)) - 1)
	return decimal.NewFromInt(targetAtomic).
		Div(decimal.NewFromInt(p.TargetAtomicUnitFactor)).
		StringFixed(places)
}
