package lamports

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrToLamports(t *testing.T) {
	validCases := map[string]uint64{
		"0.000000001": 1,
		"0.000000020": 20,
		"0.3":         300_000_000,
		"0.30":        300_000_000,
		"1":           LamportsPerSol,
		"1.5":         1_500_000_000,
		"1.000000000": LamportsPerSol,
		"123.456789":  123_456_789_000,
	}
	for in, expected := range validCases {
		actual, err := StrToLamports(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, actual, in)

		if strings.Count(in, ".") == 1 && len(strings.Split(in, ".")[1]) == Decimals {
			assert.Equal(t, in, StrFromLamports(expected))
		}
	}

	invalidCases := []string{
		"",
		"abc",
		"-1",
		"1.2.3",
		"0.0000000001",
		"100000000000000",
	}
	for _, in := range invalidCases {
		_, err := StrToLamports(in)
		assert.Error(t, err, in)
	}
}

func TestToSol(t *testing.T) {
	for _, amount := range []uint64{1, 20, 300_000_000, LamportsPerSol, 123_456_789_000, 9_007_199_254_740_991} {
		roundTripped, err := FromSol(ToSol(amount))
		require.NoError(t, err)
		assert.Equal(t, amount, roundTripped)
	}

	assert.Equal(t, 0.3, ToSol(300_000_000))
}

func TestStrFromLamports(t *testing.T) {
	assert.Equal(t, "0.000000000", StrFromLamports(0))
	assert.Equal(t, "0.000000001", StrFromLamports(1))
	assert.Equal(t, "1.000000000", StrFromLamports(LamportsPerSol))
	assert.Equal(t, "18446744073.709551615", StrFromLamports(math.MaxUint64))
}

func TestFromSol(t *testing.T) {
	validCases := map[float64]uint64{
		0:           0,
		0.3:         300_000_000,
		0.1:         100_000_000,
		1:           LamportsPerSol,
		1.23456789:  1_234_567_890,
		0.000000001: 1,
		// Rounded to the nearest lamport
		0.0000000016: 2,
	}
	for in, expected := range validCases {
		actual, err := FromSol(in)
		require.NoError(t, err, in)
		assert.Equal(t, expected, actual, in)
	}

	for _, in := range []float64{-0.1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := FromSol(in)
		assert.Equal(t, ErrInvalidValue, err)
	}

	_, err := FromSol(1e11)
	assert.Equal(t, ErrValueNotRepresented, err)
}

func TestFormatSol(t *testing.T) {
	testCases := []struct {
		lamports []uint64
		expected string
	}{
		{nil, "0.0000"},
		{[]uint64{1}, "0.0000"},
		{[]uint64{50_000}, "0.0001"},
		{[]uint64{49_999}, "0.0000"},
		{[]uint64{300_000_000}, "0.3000"},
		{[]uint64{700_000_000, 300_000_000}, "1.0000"},
		{[]uint64{123_456_789}, "0.1235"},
		{[]uint64{math.MaxUint64, math.MaxUint64}, "36893488147.4191"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, FormatSol(Sum(tc.lamports...)))
	}

	assert.Equal(t, "2.5000", FormatSol(decimal.NewFromInt(2_500_000_000)))
}
