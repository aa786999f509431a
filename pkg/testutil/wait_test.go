package testutil

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitFor(t *testing.T) {
	var polls int32
	err := WaitFor(time.Second, time.Millisecond, func() bool {
		return atomic.AddInt32(&polls, 1) >= 3
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&polls))

	start := time.Now()
	err = WaitFor(30*time.Millisecond, 5*time.Millisecond, func() bool { return false })
	assert.Error(t, err)
	assert.True(t, time.Since(start) >= 30*time.Millisecond)

	assert.Error(t, WaitFor(time.Millisecond, time.Second, func() bool { return true }))
}
