package transfer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/pointer"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
)

// ResumeTransfer re-runs only the transfer phase of a journaled transfer that
// failed after its compress transaction was confirmed. The original record is
// marked as resumed and a new run tracks the retry.
//
// A transfer transaction submitted by the original run is looked up first. If
// it landed, the original is marked done and ErrAlreadyTransferred returned.
// If its blockhash has not yet expired, ErrTransferPending is returned.
func (p *Pipeline) ResumeTransfer(ctx context.Context, transferId string, w wallet.Wallet, status StatusFunc) (*Result, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ResumeTransfer")
	defer tracer.End()

	res, err := p.resumeTransfer(ctx, transferId, w, status)
	if err != nil {
		tracer.OnError(err)
	}
	return res, err
}

func (p *Pipeline) resumeTransfer(ctx context.Context, transferId string, w wallet.Wallet, status StatusFunc) (*Result, error) {
	if !p.journalEnabled(ctx) {
		return nil, ErrJournalDisabled
	}

	if err := wallet.Validate(w); err != nil {
		return nil, ErrWalletNotConnected
	}
	sender := w.PublicKey()

	commitment, err := p.commitment(ctx)
	if err != nil {
		return nil, err
	}

	unlock := p.senderLocks.Lock(sender)
	defer unlock()

	original, err := p.journal.GetById(ctx, transferId)
	if err != nil {
		return nil, err
	}

	owner, err := solana.PublicKeyFromBase58(original.Sender)
	if err != nil || !owner.Equal(sender) {
		return nil, ErrWalletMismatch
	}

	recipient, err := solana.PublicKeyFromBase58(original.Recipient)
	if err != nil {
		return nil, ErrInvalidRecipient
	}

	if !original.IsResumable() && !original.AwaitsReconciliation() {
		return nil, errors.Wrapf(ErrNotResumable, "transfer is %s with compressed=%t", original.State, original.Compressed)
	}

	if err := p.reconcile(ctx, original, commitment); err != nil {
		return nil, err
	}

	// Claiming the original first guarantees a single resumption, even across
	// processes sharing the journal
	priorState, priorReason := original.State, original.FailureReason
	original.State = journal.StateResumed
	if err := p.journal.Save(ctx, original); err != nil {
		return nil, errors.Wrap(err, "error claiming transfer")
	}

	r, err := p.newRun(ctx, journal.KindResume, sender, recipient, original.Lamports, status, func(record *journal.Record) {
		record.Compressed = true
		record.ResumedFrom = pointer.String(original.TransferId)
	})
	if err != nil {
		original.State = priorState
		original.FailureReason = priorReason
		if releaseErr := p.journal.Save(ctx, original); releaseErr != nil {
			p.log.WithError(releaseErr).WithField("transfer_id", original.TransferId).Warn("failure releasing claimed transfer")
		}
		return nil, err
	}

	sig, err := p.transfer(ctx, r, w, recipient, original.Lamports, commitment)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	var compressSig solana.Signature
	if original.CompressSignature != nil {
		compressSig, _ = solana.SignatureFromBase58(*original.CompressSignature)
	}

	return p.complete(ctx, r, sig, compressSig), nil
}

// reconcile checks the chain for the transfer transaction submitted by the
// original run, if any
func (p *Pipeline) reconcile(ctx context.Context, original *journal.Record, commitment solana.Commitment) error {
	if original.TransferSignature == nil {
		return nil
	}

	sig, err := solana.SignatureFromBase58(*original.TransferSignature)
	if err != nil {
		return errors.Wrap(err, "invalid transfer signature")
	}

	landed, err := p.transferLanded(ctx, sig, commitment)
	if err != nil {
		return err
	}

	if !landed && original.State == journal.StateUnconfirmed {
		height, err := p.solana.GetBlockHeight(ctx, commitment, 0)
		if err != nil {
			return errors.Wrap(err, "error getting block height")
		}
		if height <= original.LastValidBlockHeight {
			return ErrTransferPending
		}

		// The transaction may have landed before the blockhash expired
		landed, err = p.transferLanded(ctx, sig, commitment)
		if err != nil {
			return err
		}
	}

	if !landed {
		return nil
	}

	p.log.WithFields(logrus.Fields{
		"transfer_id": original.TransferId,
		"signature":   sig.String(),
	}).Info("transfer found on chain, marking as done")

	original.State = journal.StateDone
	original.FailureReason = nil
	if err := p.journal.Save(ctx, original); err != nil {
		return errors.Wrap(err, "error recording landed transfer")
	}
	return ErrAlreadyTransferred
}

// transferLanded reports whether sig reached commitment without error. A
// transaction still short of commitment returns ErrTransferPending.
func (p *Pipeline) transferLanded(ctx context.Context, sig solana.Signature, commitment solana.Commitment) (bool, error) {
	statuses, err := p.solana.GetSignatureStatuses(ctx, []solana.Signature{sig})
	if err != nil {
		return false, errors.Wrap(err, "error getting signature status")
	}
	if len(statuses) == 0 || statuses[0] == nil || statuses[0].ErrorResult != nil {
		return false, nil
	}
	if !statuses[0].Reached(commitment) {
		return false, ErrTransferPending
	}
	return true, nil
}
