package backoff

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(250 * time.Millisecond)
	for _, attempts := range []uint{1, 2, 7, 100} {
		assert.Equal(t, 250*time.Millisecond, s(attempts))
	}
}

func TestExponential(t *testing.T) {
	for _, tc := range []struct {
		base     float64
		attempts uint
		expected time.Duration
	}{
		{3, 1, 2 * time.Second},
		{3, 2, 6 * time.Second},
		{3, 4, 54 * time.Second},
		{1.5, 3, 4500 * time.Millisecond},
		{3, 0, 2 * time.Second},
	} {
		s := Exponential(2*time.Second, tc.base)
		assert.Equal(t, tc.expected, s(tc.attempts), "base=%v attempts=%d", tc.base, tc.attempts)
	}
}

func TestExponential_Saturates(t *testing.T) {
	s := BinaryExponential(time.Second)
	assert.EqualValues(t, math.MaxInt64, s(200))
}

func TestBinaryExponential(t *testing.T) {
	s := BinaryExponential(500 * time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, s(1))
	assert.Equal(t, time.Second, s(2))
	assert.Equal(t, 4*time.Second, s(4))
}
