package transfer

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/lamports"
	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/pointer"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
)

const (
	transferEventName = "ShieldTransferCompleted"
)

type Request struct {
	// Amount in SOL
	Amount           float64
	RecipientAddress string
	Wallet           wallet.Wallet

	// Optional progress callback
	Status StatusFunc
}

type Result struct {
	TransferId        string
	Signature         solana.Signature
	CompressSignature solana.Signature

	// Best effort, nil when the balance could not be fetched
	RecipientPrivateBalance *string
	SenderPrivateBalance    *string
}

// SendPrivateTransaction compresses the requested amount out of the sender's
// visible balance and then transfers it privately to the recipient.
//
// Precondition failures are returned before any transaction is submitted. Any
// later failure is a *PhaseError naming the phase it occurred in. When the
// transfer phase fails after compression was confirmed, the funds remain
// shielded and owned by the sender. Use ResumeTransfer or UnshieldSol to
// recover them.
func (p *Pipeline) SendPrivateTransaction(ctx context.Context, req Request) (*Result, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "SendPrivateTransaction")
	defer tracer.End()

	res, err := p.sendPrivateTransaction(ctx, req)
	if err != nil {
		tracer.OnError(err)
	}
	return res, err
}

func (p *Pipeline) sendPrivateTransaction(ctx context.Context, req Request) (*Result, error) {
	if err := wallet.Validate(req.Wallet); err != nil {
		return nil, ErrWalletNotConnected
	}
	sender := req.Wallet.PublicKey()

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}

	recipient, err := solana.PublicKeyFromBase58(req.RecipientAddress)
	if err != nil {
		return nil, ErrInvalidRecipient
	}

	commitment, err := p.commitment(ctx)
	if err != nil {
		return nil, err
	}

	outputTree, err := p.outputStateTree(ctx)
	if err != nil {
		return nil, err
	}

	unlock := p.senderLocks.Lock(sender)
	defer unlock()

	if req.Status != nil {
		req.Status(StatusCheckingBalance)
	}
	if err := p.checkVisibleBalance(ctx, sender, amount, commitment); err != nil {
		return nil, err
	}

	r, err := p.newRun(ctx, journal.KindTransfer, sender, recipient, amount, req.Status)
	if err != nil {
		return nil, err
	}

	compressSig, err := p.compress(ctx, r, req.Wallet, amount, outputTree, commitment)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	sig, err := p.transfer(ctx, r, req.Wallet, recipient, amount, commitment)
	if err != nil {
		return nil, r.fail(ctx, err)
	}

	return p.complete(ctx, r, sig, compressSig), nil
}

// checkVisibleBalance verifies the sender can fund the compressed amount, the
// fees of both transactions and keep its account rent exempt.
func (p *Pipeline) checkVisibleBalance(ctx context.Context, sender ed25519.PublicKey, amount uint64, commitment solana.Commitment) error {
	visible, err := p.solana.GetBalance(ctx, sender, commitment)
	if err != nil {
		return errors.Wrap(err, "error getting visible balance")
	}

	rentExempt, err := p.getRentExemptMinimum(ctx, 0)
	if err != nil {
		return err
	}

	fee := p.transactionFee(ctx)
	required := lamports.Sum(amount, rentExempt).Add(fee).Add(fee)
	if required.GreaterThan(decimal.NewFromUint64(visible)) {
		return errors.Wrapf(ErrInsufficientVisibleBalance, "requires %s lamports, available %d", required.String(), visible)
	}
	return nil
}

// transactionFee is the signature fee plus the priority fee for the full
// compute unit limit, in lamports
func (p *Pipeline) transactionFee(ctx context.Context) decimal.Decimal {
	priority := decimal.NewFromUint64(p.conf.computeUnitPrice.Get(ctx)).
		Mul(decimal.NewFromInt(int64(p.computeUnitLimit(ctx)))).
		Shift(-microLamportsDecimals).
		Ceil()
	return priority.Add(decimal.NewFromInt(lamportsPerSignature))
}

func (p *Pipeline) getRentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error) {
	if cached, ok := p.rentCache.Retrieve(dataSize); ok {
		return cached, nil
	}

	minimum, err := p.solana.GetMinimumBalanceForRentExemption(ctx, dataSize)
	if err != nil {
		return 0, errors.Wrap(err, "error getting rent exempt minimum")
	}

	p.rentCache.Insert(dataSize, minimum, 1)
	return minimum, nil
}

func (p *Pipeline) compress(
	ctx context.Context,
	r *run,
	w wallet.Wallet,
	amount uint64,
	outputTree ed25519.PublicKey,
	commitment solana.Commitment,
) (solana.Signature, error) {
	r.phase = PhaseCompress
	start := time.Now()

	sig, err := func() (solana.Signature, error) {
		ix, err := lightsystem.NewCompressInstruction(
			&lightsystem.CompressInstructionAccounts{
				Payer:     w.PublicKey(),
				ToAddress: w.PublicKey(),
			},
			&lightsystem.CompressInstructionArgs{
				Lamports:        amount,
				OutputStateTree: outputTree,
			},
		)
		if err != nil {
			return solana.Signature{}, errors.Wrap(err, "error building compress instruction")
		}

		if err := r.advance(ctx, journal.StateCompressing, StatusCompressing); err != nil {
			return solana.Signature{}, err
		}

		sig, bh, err := p.submit(ctx, w, commitment, ix)
		if err != nil {
			return solana.Signature{}, err
		}

		r.log.WithField("signature", sig.String()).Debug("compress transaction submitted")
		r.record.CompressSignature = pointer.String(sig.String())
		r.setStatus(StatusConfirmingCompression)
		if err := r.save(ctx); err != nil {
			// The transaction is in flight and is still waited on
			r.log.WithError(err).Warn("failure recording submitted compress transaction")
		}

		if err := p.waiter.Wait(ctx, sig, bh, commitment); err != nil {
			return sig, err
		}

		r.record.Compressed = true
		return sig, r.advance(ctx, journal.StateCompressConfirmed, "")
	}()

	metrics.ObservePhase(string(PhaseCompress), start, err)
	return sig, err
}

func (p *Pipeline) transfer(
	ctx context.Context,
	r *run,
	w wallet.Wallet,
	recipient ed25519.PublicKey,
	amount uint64,
	commitment solana.Commitment,
) (solana.Signature, error) {
	r.phase = PhaseTransfer
	start := time.Now()

	// Selection must see the account created by the compress phase
	slot, err := p.solana.GetSlot(ctx, commitment)
	if err != nil {
		metrics.ObservePhase(string(PhaseTransfer), start, err)
		return solana.Signature{}, errors.Wrap(err, "error getting slot")
	}
	if err := p.waitForIndexer(ctx, slot); err != nil {
		metrics.ObservePhase(string(PhaseTransfer), start, err)
		return solana.Signature{}, err
	}

	sig, err := p.spend(
		ctx,
		r,
		w,
		amount,
		[2]string{StatusCreatingTransfer, StatusConfirmingTransfer},
		func(inputs []lightsystem.InputAccount, proof lightsystem.CompressedProof, outputTree ed25519.PublicKey) (solana.Instruction, error) {
			return lightsystem.NewTransferInstruction(
				&lightsystem.TransferInstructionAccounts{
					Payer:     w.PublicKey(),
					ToAddress: recipient,
				},
				&lightsystem.TransferInstructionArgs{
					Inputs:          inputs,
					Proof:           proof,
					Lamports:        amount,
					OutputStateTree: outputTree,
				},
			)
		},
	)

	metrics.ObservePhase(string(PhaseTransfer), start, err)
	return sig, err
}

// complete finishes a run and reports post transfer balances of both parties
func (p *Pipeline) complete(ctx context.Context, r *run, sig, compressSig solana.Signature) *Result {
	if err := r.advance(ctx, journal.StateDone, StatusDone); err != nil {
		// The transfer landed, so this only affects bookkeeping
		r.log.WithError(err).Warn("failure recording completed transfer")
	}

	res := &Result{
		TransferId:              r.record.TransferId,
		Signature:               sig,
		CompressSignature:       compressSig,
		RecipientPrivateBalance: p.inspector.CheckPrivateBalance(ctx, r.record.Recipient),
		SenderPrivateBalance:    p.inspector.CheckPrivateBalance(ctx, r.record.Sender),
	}

	metrics.RecordDuration(ctx, transferDurationMetricName, time.Since(r.start))
	metrics.RecordEvent(ctx, transferEventName, map[string]interface{}{
		"transfer_id": r.record.TransferId,
		"kind":        r.record.Kind.String(),
		"lamports":    r.record.Lamports,
	})

	r.log.WithFields(logrus.Fields{
		"signature":          sig.String(),
		"compress_signature": compressSig.String(),
	}).Info("private transfer completed")

	return res
}
