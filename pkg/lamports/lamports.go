package lamports

import (
	"math"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	LamportsPerSol = 1_000_000_000
	Decimals       = 9

	// DisplayDecimals is the fixed number of decimal places SOL balances are
	// reported with.
	DisplayDecimals = 4
)

var (
	ErrInvalidValue        = errors.New("invalid sol value")
	ErrValueNotRepresented = errors.New("value cannot be represented")

	maxLamports = decimal.NewFromUint64(math.MaxUint64)
)

// FromSol converts a floating point SOL amount to lamports, rounding to the
// nearest lamport. Negative, NaN and infinite amounts are rejected.
func FromSol(sol float64) (uint64, error) {
	if math.IsNaN(sol) || math.IsInf(sol, 0) || sol < 0 {
		return 0, ErrInvalidValue
	}

	value := decimal.NewFromFloat(sol).Shift(Decimals).Round(0)
	if value.GreaterThan(maxLamports) {
		return 0, ErrValueNotRepresented
	}
	return value.BigInt().Uint64(), nil
}

// StrToLamports converts a string representation of SOL to lamports.
//
// An error is returned if the value string is invalid, or it cannot be
// accurately represented as lamports, for example a value with more than 9
// decimal places.
func StrToLamports(val string) (uint64, error) {
	value, err := decimal.NewFromString(val)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidValue, err.Error())
	}
	if value.IsNegative() {
		return 0, ErrInvalidValue
	}

	shifted := value.Shift(Decimals)
	if !shifted.Equal(shifted.Truncate(0)) || shifted.GreaterThan(maxLamports) {
		return 0, ErrValueNotRepresented
	}
	return shifted.BigInt().Uint64(), nil
}

// ToSol converts lamports to a floating point SOL amount
func ToSol(amount uint64) float64 {
	return decimal.NewFromUint64(amount).Shift(-Decimals).InexactFloat64()
}

// StrFromLamports converts lamports to the full precision string
// representation of SOL.
func StrFromLamports(amount uint64) string {
	return decimal.NewFromUint64(amount).Shift(-Decimals).StringFixed(Decimals)
}

// FormatSol formats an arbitrary precision lamport total as SOL with exactly
// DisplayDecimals decimal places, rounding half away from zero.
func FormatSol(total decimal.Decimal) string {
	return total.Shift(-Decimals).StringFixed(DisplayDecimals)
}

// Sum accumulates lamport values without overflow
func Sum(values ...uint64) decimal.Decimal {
	total := decimal.Zero
	for _, value := range values {
		total = total.Add(decimal.NewFromUint64(value))
	}
	return total
}
