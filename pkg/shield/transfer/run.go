package transfer

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/pointer"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
)

// run tracks a single pipeline invocation through the journal state machine
type run struct {
	p      *Pipeline
	log    *logrus.Entry
	record *journal.Record
	status StatusFunc
	phase  Phase
	start  time.Time

	// Set when a submitted transfer was neither observed to land nor to expire
	unconfirmed bool
}

func (p *Pipeline) newRun(
	ctx context.Context,
	kind journal.Kind,
	sender, recipient ed25519.PublicKey,
	amount uint64,
	status StatusFunc,
	opts ...func(*journal.Record),
) (*run, error) {
	record := &journal.Record{
		TransferId: uuid.New().String(),
		Kind:       kind,
		Sender:     base58.Encode(sender),
		Recipient:  base58.Encode(recipient),
		Lamports:   amount,
		State:      journal.StateIdle,
	}
	for _, opt := range opts {
		opt(record)
	}

	r := &run{
		p: p,
		log: p.log.WithFields(logrus.Fields{
			"transfer_id": record.TransferId,
			"kind":        kind.String(),
			"sender":      record.Sender,
			"recipient":   record.Recipient,
			"lamports":    amount,
		}),
		record: record,
		status: status,
		start:  time.Now(),
	}
	if record.ResumedFrom != nil {
		r.log = r.log.WithField("resumed_from", *record.ResumedFrom)
	}

	if err := r.save(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *run) setStatus(status string) {
	if r.status != nil && len(status) > 0 {
		r.status(status)
	}
}

// advance moves the run to next, reporting status to the caller
func (r *run) advance(ctx context.Context, next journal.State, status string) error {
	if !r.record.State.CanTransitionTo(next) {
		return errors.Errorf("invalid transition from %s to %s", r.record.State, next)
	}

	r.log.WithField("state", next.String()).Debug("advancing transfer")

	r.record.State = next
	r.setStatus(status)
	return r.save(ctx)
}

func (r *run) save(ctx context.Context) error {
	if !r.p.journalEnabled(ctx) {
		return nil
	}

	if err := r.p.journal.Save(ctx, r.record); err != nil {
		return errors.Wrap(err, "error saving transfer record")
	}
	return nil
}

// fail marks the run as failed, or unconfirmed when a submitted transfer may
// still land, and returns err attributed to the current phase
func (r *run) fail(ctx context.Context, err error) error {
	r.log.WithError(err).WithFields(logrus.Fields{
		"phase":       r.phase,
		"state":       r.record.State.String(),
		"compressed":  r.record.Compressed,
		"unconfirmed": r.unconfirmed,
	}).Warn("transfer failed")

	next := journal.StateFailed
	if r.unconfirmed {
		next = journal.StateUnconfirmed
	}

	if r.record.State.CanTransitionTo(next) {
		r.record.State = next
		r.record.FailureReason = pointer.String(err.Error())
		if saveErr := r.save(ctx); saveErr != nil {
			r.log.WithError(saveErr).Warn("failure recording failed transfer")
		}
	}

	return &PhaseError{
		Phase:       r.phase,
		TransferId:  r.record.TransferId,
		Compressed:  r.record.Compressed && !r.unconfirmed,
		Unconfirmed: r.unconfirmed,
		Err:         err,
	}
}
