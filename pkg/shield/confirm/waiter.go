package confirm

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/retry"
	"github.com/code-payments/shield-server/pkg/retry/backoff"
	"github.com/code-payments/shield-server/pkg/solana"
)

const (
	metricsStructName = "confirm.waiter"

	defaultMaxLookupFailures = 10
)

var (
	ErrTransactionFailed = errors.New("transaction failed")
	ErrBlockhashExpired  = errors.New("blockhash expired before confirmation")
	ErrOutcomeUnknown    = errors.New("transaction outcome unknown")

	errNotConfirmed = errors.New("transaction not yet confirmed")
)

// IsSettled reports whether err proves the transaction did not land and never
// will. Any other error leaves the outcome open.
func IsSettled(err error) bool {
	return errors.Is(err, ErrTransactionFailed) || errors.Is(err, ErrBlockhashExpired)
}

// FailedError is returned when a transaction landed with an error. It matches
// ErrTransactionFailed and unwraps to the on-chain error.
type FailedError struct {
	TransactionError *solana.TransactionError
}

func (e *FailedError) Error() string {
	return ErrTransactionFailed.Error() + ": " + e.TransactionError.Error()
}

func (e *FailedError) Is(target error) bool {
	return target == ErrTransactionFailed
}

func (e *FailedError) Unwrap() error {
	return e.TransactionError
}

// UnknownOutcomeError is returned when the cluster could not be queried for
// long enough to tell whether the transaction landed. It matches
// ErrOutcomeUnknown and unwraps to the last lookup error.
type UnknownOutcomeError struct {
	Err error
}

func (e *UnknownOutcomeError) Error() string {
	return ErrOutcomeUnknown.Error() + ": " + e.Err.Error()
}

func (e *UnknownOutcomeError) Is(target error) bool {
	return target == ErrOutcomeUnknown
}

func (e *UnknownOutcomeError) Unwrap() error {
	return e.Err
}

type lookupError struct {
	err     error
	expired bool
}

func (e *lookupError) Error() string {
	return e.err.Error()
}

// Waiter blocks until a submitted transaction reaches a commitment level, or
// until the blockhash it was built with can no longer land.
type Waiter struct {
	log               *logrus.Entry
	solana            solana.Client
	pollRate          time.Duration
	maxLookupFailures int
}

type Option func(*Waiter)

// WithPollRate overrides solana.PollRate
func WithPollRate(pollRate time.Duration) Option {
	return func(w *Waiter) {
		w.pollRate = pollRate
	}
}

// WithMaxLookupFailures bounds how many consecutive failed lookups are
// tolerated before giving up with ErrOutcomeUnknown
func WithMaxLookupFailures(n int) Option {
	return func(w *Waiter) {
		w.maxLookupFailures = n
	}
}

func NewWaiter(client solana.Client, opts ...Option) *Waiter {
	w := &Waiter{
		log:               logrus.StandardLogger().WithField("type", "shield/confirm/waiter"),
		solana:            client,
		pollRate:          solana.PollRate,
		maxLookupFailures: defaultMaxLookupFailures,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wait returns nil once sig is observed at commitment. A transaction that
// landed with an error returns ErrTransactionFailed wrapping the
// *solana.TransactionError, and a transaction that never landed before the
// blockhash's last valid block height returns ErrBlockhashExpired.
//
// Failed lookups are retried. Once the blockhash has expired, or too many
// lookups fail in a row, ErrOutcomeUnknown is returned wrapping the last
// lookup error.
func (w *Waiter) Wait(ctx context.Context, sig solana.Signature, bh solana.BlockhashContext, commitment solana.Commitment) error {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "Wait")
	defer tracer.End()

	log := w.log.WithFields(logrus.Fields{
		"method":                  "Wait",
		"signature":               sig.String(),
		"commitment":              commitment.Commitment,
		"last_valid_block_height": bh.LastValidBlockHeight,
	})

	start := time.Now()
	var lookupFailures int
	polls, err := retry.Retry(
		func() error {
			err := w.poll(ctx, sig, bh, commitment)

			var lookupErr *lookupError
			if !errors.As(err, &lookupErr) {
				lookupFailures = 0
				return err
			}

			lookupFailures++
			if lookupErr.expired || lookupFailures >= w.maxLookupFailures {
				return &UnknownOutcomeError{Err: lookupErr.err}
			}

			log.WithError(lookupErr.err).WithField("failures", lookupFailures).Debug("lookup failed, retrying")
			return errNotConfirmed
		},
		retry.RetriableErrors(errNotConfirmed),
		retry.BackoffWithContext(ctx, backoff.Constant(w.pollRate), w.pollRate),
	)
	if errors.Is(err, errNotConfirmed) && ctx.Err() != nil {
		err = ctx.Err()
	}

	tracer.AddAttribute("polls", polls)
	metrics.ObservePhase("confirm", start, err)

	if err != nil {
		tracer.OnError(err)
		log.WithError(err).WithField("polls", polls).Info("transaction not confirmed")
		return err
	}

	log.WithField("polls", polls).Debug("transaction confirmed")
	return nil
}

// poll returns a *lookupError when the cluster could not be queried. Expiry is
// still checked after a failed status lookup so that the wait stays bounded.
func (w *Waiter) poll(ctx context.Context, sig solana.Signature, bh solana.BlockhashContext, commitment solana.Commitment) error {
	var lookupErr *lookupError

	landed, err := w.getStatus(ctx, sig, commitment)
	if landed {
		return nil
	} else if err != nil && !errors.As(err, &lookupErr) {
		return err
	}

	height, err := w.solana.GetBlockHeight(ctx, commitment, bh.Slot)
	if errors.Is(err, solana.ErrMinContextSlotNotReached) {
		height = 0
	} else if err != nil {
		return &lookupError{err: errors.Wrap(err, "error getting block height")}
	}

	if height <= bh.LastValidBlockHeight {
		if lookupErr != nil {
			return lookupErr
		}
		return errNotConfirmed
	}

	// The transaction may have landed between the two lookups
	landed, err = w.getStatus(ctx, sig, commitment)
	if landed {
		return nil
	} else if errors.As(err, &lookupErr) {
		lookupErr.expired = true
		return lookupErr
	} else if err != nil {
		return err
	}
	return ErrBlockhashExpired
}

// getStatus reports whether sig reached commitment. A landed transaction
// still short of commitment keeps the poll going regardless of expiry.
func (w *Waiter) getStatus(ctx context.Context, sig solana.Signature, commitment solana.Commitment) (bool, error) {
	statuses, err := w.solana.GetSignatureStatuses(ctx, []solana.Signature{sig})
	if err != nil {
		return false, &lookupError{err: errors.Wrap(err, "error getting signature status")}
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return false, nil
	}

	status := statuses[0]
	if status.ErrorResult != nil {
		return false, &FailedError{TransactionError: status.ErrorResult}
	}
	if status.Reached(commitment) {
		return true, nil
	}
	return false, errNotConfirmed
}
