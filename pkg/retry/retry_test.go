package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/code-payments/shield-server/pkg/retry/backoff"
)

func TestRealSleeper(t *testing.T) {
	sleeperImpl = &realSleeper{}

	start := time.Now()
	n, err := Retry(func() error { return errors.New("err") },
		Limit(2),
		Backoff(backoff.Constant(500*time.Millisecond), 500*time.Millisecond),
	)

	assert.NotNil(t, err)
	assert.EqualValues(t, 2, n)
	assert.True(t, 500*time.Millisecond <= time.Since(start))
	assert.True(t, 1*time.Second > time.Since(start))
}

func TestRealSleeper_Cancelled(t *testing.T) {
	sleeperImpl = &realSleeper{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	n, err := Retry(func() error { return errors.New("err") },
		Limit(100),
		BackoffWithContext(ctx, backoff.Constant(time.Second), time.Second),
	)

	assert.Error(t, err)
	assert.EqualValues(t, 1, n)
	assert.True(t, time.Second > time.Since(start))
}

func TestRetrier(t *testing.T) {
	retriableErr := errors.New("retriable")
	r := NewRetrier(Limit(5), RetriableErrors(retriableErr))

	// Happy path always goes through
	attempts, err := r.Retry(func() error { return nil })
	assert.NoError(t, err)
	assert.Equal(t, uint(1), attempts)

	// Test ordering does not matter, by triggering 1 filter, then the other.
	attempts, err = r.Retry(func() error { return errors.New("unknown") })
	assert.Error(t, err)
	assert.Equal(t, uint(1), attempts)

	attempts, err = r.Retry(func() error { return retriableErr })
	assert.EqualError(t, retriableErr, err.Error())
	assert.Equal(t, uint(5), attempts)
}

func TestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	_, err := Retry(
		func() error {
			calls++
			if calls == 3 {
				cancel()
			}
			return errors.New("err")
		},
		Context(ctx),
		Limit(10),
	)
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestNotify(t *testing.T) {
	retriableErr := errors.New("blockhash not found")

	var notified []uint
	attempts, err := Retry(
		func() error { return retriableErr },
		Limit(3),
		RetriableErrors(retriableErr),
		Notify(func(attempts uint, err error) {
			assert.Equal(t, retriableErr, err)
			notified = append(notified, attempts)
		}),
	)
	assert.Equal(t, retriableErr, err)
	assert.EqualValues(t, 3, attempts)

	// The final attempt is vetoed by Limit before reaching Notify
	assert.Equal(t, []uint{1, 2}, notified)

	notified = nil
	_, err = Retry(
		func() error { return errors.New("preflight failure") },
		RetriableErrors(retriableErr),
		Notify(func(attempts uint, err error) { notified = append(notified, attempts) }),
	)
	assert.Error(t, err)
	assert.Empty(t, notified)
}
