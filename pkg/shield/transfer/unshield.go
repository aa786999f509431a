package transfer

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
)

// UnshieldSol decompresses amount SOL of the wallet's shielded balance back
// into its visible balance and returns the decompress transaction signature.
func (p *Pipeline) UnshieldSol(ctx context.Context, amount float64, w wallet.Wallet) (solana.Signature, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "UnshieldSol")
	defer tracer.End()

	sig, err := p.unshieldSol(ctx, amount, w, nil)
	if err != nil {
		tracer.OnError(err)
	}
	return sig, err
}

// UnshieldSolWithStatus is UnshieldSol with progress updates
func (p *Pipeline) UnshieldSolWithStatus(ctx context.Context, amount float64, w wallet.Wallet, status StatusFunc) (solana.Signature, error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "UnshieldSolWithStatus")
	defer tracer.End()

	sig, err := p.unshieldSol(ctx, amount, w, status)
	if err != nil {
		tracer.OnError(err)
	}
	return sig, err
}

func (p *Pipeline) unshieldSol(ctx context.Context, amount float64, w wallet.Wallet, status StatusFunc) (solana.Signature, error) {
	if err := wallet.Validate(w); err != nil {
		return solana.Signature{}, ErrWalletNotConnected
	}
	owner := w.PublicKey()

	lamports, err := parseAmount(amount)
	if err != nil {
		return solana.Signature{}, err
	}

	unlock := p.senderLocks.Lock(owner)
	defer unlock()

	r, err := p.newRun(ctx, journal.KindUnshield, owner, owner, lamports, status)
	if err != nil {
		return solana.Signature{}, err
	}
	r.phase = PhaseDecompress

	start := time.Now()
	sig, err := p.spend(
		ctx,
		r,
		w,
		lamports,
		[2]string{StatusUnshielding, StatusConfirmingUnshield},
		func(inputs []lightsystem.InputAccount, proof lightsystem.CompressedProof, outputTree ed25519.PublicKey) (solana.Instruction, error) {
			return lightsystem.NewDecompressInstruction(
				&lightsystem.DecompressInstructionAccounts{
					Payer:     owner,
					ToAddress: owner,
				},
				&lightsystem.DecompressInstructionArgs{
					Inputs:          inputs,
					Proof:           proof,
					Lamports:        lamports,
					OutputStateTree: outputTree,
				},
			)
		},
	)
	metrics.ObservePhase(string(PhaseDecompress), start, err)
	if err != nil {
		return solana.Signature{}, r.fail(ctx, err)
	}

	if err := r.advance(ctx, journal.StateDone, StatusDone); err != nil {
		r.log.WithError(err).Warn("failure recording completed unshield")
	}

	metrics.RecordDuration(ctx, transferDurationMetricName, time.Since(r.start))
	metrics.RecordEvent(ctx, transferEventName, map[string]interface{}{
		"transfer_id": r.record.TransferId,
		"kind":        r.record.Kind.String(),
		"lamports":    r.record.Lamports,
	})

	r.log.WithFields(logrus.Fields{
		"signature": sig.String(),
	}).Info("unshield completed")

	return sig, nil
}
