package transfer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/shield-server/pkg/cache"
	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/lamports"
	"github.com/code-payments/shield-server/pkg/metrics"
	"github.com/code-payments/shield-server/pkg/photon"
	"github.com/code-payments/shield-server/pkg/pointer"
	"github.com/code-payments/shield-server/pkg/retry"
	"github.com/code-payments/shield-server/pkg/retry/backoff"
	"github.com/code-payments/shield-server/pkg/shield/balance"
	"github.com/code-payments/shield-server/pkg/shield/confirm"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	"github.com/code-payments/shield-server/pkg/shield/proof"
	"github.com/code-payments/shield-server/pkg/shield/selection"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
	compute_budget "github.com/code-payments/shield-server/pkg/solana/computebudget"
	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
	sync_util "github.com/code-payments/shield-server/pkg/sync"
)

const (
	metricsStructName = "transfer.pipeline"

	submitAttemptsMetricName   = "Shield/SubmitAttempts"
	transferDurationMetricName = "Shield/TransferDuration"

	lamportsPerSignature  = 5000
	microLamportsDecimals = 6
	senderLockStripes     = 1024
	maxSubmitBackoff      = 2 * time.Second

	rentCacheBudget = 16
	rentCacheTTL    = time.Hour
)

// Pipeline moves SOL privately between wallets over compressed accounts. A
// transfer is a two phase saga: the sender's visible lamports are compressed
// into a shielded account, then shielded accounts are spent to the recipient.
// The phases are separate transactions and are never combined.
type Pipeline struct {
	log  *logrus.Entry
	conf *conf

	solana  solana.Client
	photon  photon.Client
	journal journal.Store

	inspector *balance.Inspector
	requester *proof.Requester
	waiter    *confirm.Waiter

	senderLocks *sync_util.StripedLock

	// Rent exempt minimums keyed by account data size
	rentCache *cache.Cache[uint64, uint64]
}

// New returns a pipeline over the provided RPC connections. journalStore may
// be nil, in which case runs are not recorded and cannot be resumed.
func New(
	solanaClient solana.Client,
	photonClient photon.Client,
	journalStore journal.Store,
	configProvider ConfigProvider,
) *Pipeline {
	conf := configProvider()
	return &Pipeline{
		log:  logrus.StandardLogger().WithField("type", "shield/transfer/pipeline"),
		conf: conf,

		solana:  solanaClient,
		photon:  photonClient,
		journal: journalStore,

		inspector: balance.NewInspector(photonClient),
		requester: proof.NewRequester(photonClient),
		waiter:    confirm.NewWaiter(solanaClient, confirm.WithPollRate(conf.confirmationPollInterval.Get(context.Background()))),

		senderLocks: sync_util.NewStripedLock(senderLockStripes),

		rentCache: cache.New[uint64, uint64](rentCacheBudget, rentCacheTTL),
	}
}

// CheckPrivateBalance returns the shielded balance of address formatted in
// SOL, or nil if it could not be determined.
func (p *Pipeline) CheckPrivateBalance(ctx context.Context, address string) *string {
	return p.inspector.CheckPrivateBalance(ctx, address)
}

// GetTransfer returns the journaled run for transferId
func (p *Pipeline) GetTransfer(ctx context.Context, transferId string) (*journal.Record, error) {
	if !p.journalEnabled(ctx) {
		return nil, ErrJournalDisabled
	}
	return p.journal.GetById(ctx, transferId)
}

// GetTransferHistory returns a page of the runs started by sender. Supported
// options are query.WithCursor, query.WithLimit and query.WithDirection.
func (p *Pipeline) GetTransferHistory(ctx context.Context, sender string, opts ...query.Option) ([]*journal.Record, error) {
	if !p.journalEnabled(ctx) {
		return nil, ErrJournalDisabled
	}

	req, err := query.DefaultPaginationHandler(opts...)
	if err != nil {
		return nil, err
	}

	records, err := p.journal.GetAllBySender(ctx, sender, req.Cursor, req.Limit, req.SortBy)
	if err == journal.ErrNotFound {
		return nil, nil
	}
	return records, err
}

// GetResumableTransfers returns failed runs whose funds were shielded but not
// sent. Pages are cut before filtering, so a page may hold fewer records than
// the limit. The returned cursor continues after the last scanned run and is
// nil once no runs remain.
func (p *Pipeline) GetResumableTransfers(ctx context.Context, opts ...query.Option) ([]*journal.Record, query.Cursor, error) {
	if !p.journalEnabled(ctx) {
		return nil, nil, ErrJournalDisabled
	}

	req, err := query.DefaultPaginationHandler(opts...)
	if err != nil {
		return nil, nil, err
	}

	failed, err := p.journal.GetAllByState(ctx, journal.StateFailed, req.Cursor, req.Limit, req.SortBy)
	if err == journal.ErrNotFound {
		return nil, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	var resumable []*journal.Record
	for _, record := range failed {
		if record.IsResumable() {
			resumable = append(resumable, record)
		}
	}
	return resumable, query.ToCursor(failed[len(failed)-1].Id), nil
}

func (p *Pipeline) journalEnabled(ctx context.Context) bool {
	return p.journal != nil && p.conf.journalEnabled.Get(ctx)
}

func (p *Pipeline) commitment(ctx context.Context) (solana.Commitment, error) {
	return solana.CommitmentFromString(p.conf.commitment.Get(ctx))
}

func (p *Pipeline) outputStateTree(ctx context.Context) (ed25519.PublicKey, error) {
	tree, err := solana.PublicKeyFromBase58(p.conf.outputStateTree.Get(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "invalid output state tree")
	}
	return tree, nil
}

// nullifierQueueFor resolves the queue paired with a state tree. Only the
// configured tree is supported.
func (p *Pipeline) nullifierQueueFor(ctx context.Context, tree ed25519.PublicKey) (ed25519.PublicKey, error) {
	outputTree, err := p.outputStateTree(ctx)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(tree, outputTree) {
		return nil, errors.Wrapf(ErrUnknownStateTree, "tree %s", base58.Encode(tree))
	}

	queue, err := solana.PublicKeyFromBase58(p.conf.nullifierQueue.Get(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "invalid nullifier queue")
	}
	return queue, nil
}

func (p *Pipeline) computeUnitLimit(ctx context.Context) uint32 {
	limit := p.conf.computeUnitLimit.Get(ctx)
	if limit == 0 || limit > compute_budget.MaxComputeUnitLimit {
		return compute_budget.MaxComputeUnitLimit
	}
	return uint32(limit)
}

func parseAmount(amount float64) (uint64, error) {
	value, err := lamports.FromSol(amount)
	if err != nil || value == 0 {
		return 0, ErrInvalidAmount
	}
	return value, nil
}

// computeBudget returns the compute budget instructions prepended to every
// submitted transaction
func (p *Pipeline) computeBudget(ctx context.Context) []solana.Instruction {
	ixs := []solana.Instruction{compute_budget.SetComputeUnitLimit(p.computeUnitLimit(ctx))}
	if price := p.conf.computeUnitPrice.Get(ctx); price > 0 {
		ixs = append(ixs, compute_budget.SetComputeUnitPrice(price))
	}
	return ixs
}

// submit builds, signs and submits a transaction with a freshly fetched
// blockhash. Rejections caused by a lagging RPC node are retried against a
// new blockhash.
func (p *Pipeline) submit(ctx context.Context, w wallet.Wallet, commitment solana.Commitment, ixs ...solana.Instruction) (solana.Signature, solana.BlockhashContext, error) {
	var sig solana.Signature
	var bh solana.BlockhashContext

	ixs = append(p.computeBudget(ctx), ixs...)

	interval := p.conf.confirmationPollInterval.Get(ctx)
	attempts, err := retry.Retry(
		func() error {
			var err error
			bh, err = p.solana.GetLatestBlockhashAndContext(ctx, commitment)
			if err != nil {
				return errors.Wrap(err, "error getting latest blockhash")
			}

			txn := solana.NewTransaction(w.PublicKey(), ixs...)
			txn.SetBlockhash(bh.Blockhash)

			sig, err = w.SendTransaction(ctx, &txn, p.solana, wallet.SendOptions{
				MinContextSlot:      bh.Slot,
				PreflightCommitment: commitment,
			})
			return err
		},
		retry.Limit(uint(p.conf.maxSubmitAttempts.Get(ctx))),
		retry.RetriableErrors(solana.ErrMinContextSlotNotReached, solana.ErrBlockhashNotFound),
		retry.Notify(func(attempts uint, err error) {
			p.log.WithError(err).WithFields(logrus.Fields{
				"attempts":         attempts,
				"blockhash":        bh.Blockhash.String(),
				"min_context_slot": bh.Slot,
			}).Debug("transaction submission rejected, resubmitting with a new blockhash")
		}),
		retry.BackoffWithContext(ctx, backoff.BinaryExponential(interval), maxSubmitBackoff),
	)
	metrics.RecordCount(ctx, submitAttemptsMetricName, uint64(attempts))
	if err != nil {
		return solana.Signature{}, solana.BlockhashContext{}, errors.Wrap(err, "error submitting transaction")
	}
	return sig, bh, nil
}

// waitForIndexer blocks until the compression indexer has processed minSlot,
// so accounts created at or before it are visible.
func (p *Pipeline) waitForIndexer(ctx context.Context, minSlot uint64) error {
	interval := p.conf.confirmationPollInterval.Get(ctx)

	ctx, cancel := context.WithTimeout(ctx, p.conf.indexerSyncTimeout.Get(ctx))
	defer cancel()

	_, err := retry.Retry(
		func() error {
			slot, err := p.photon.GetIndexerSlot(ctx)
			if err != nil {
				return errors.Wrap(err, "error getting indexer slot")
			}
			if slot < minSlot {
				return ErrIndexerBehind
			}
			return nil
		},
		retry.RetriableErrors(ErrIndexerBehind),
		retry.Notify(func(attempts uint, _ error) {
			p.log.WithFields(logrus.Fields{
				"attempts": attempts,
				"min_slot": minSlot,
			}).Trace("waiting for compression indexer")
		}),
		retry.BackoffWithContext(ctx, backoff.Constant(interval), interval),
	)
	return err
}

// spend selects, proves and consumes the owner's shielded accounts. The
// instruction built by build is submitted and confirmed. It's shared by the
// transfer and decompress paths.
func (p *Pipeline) spend(
	ctx context.Context,
	r *run,
	w wallet.Wallet,
	amount uint64,
	statuses [2]string,
	build func(inputs []lightsystem.InputAccount, proof lightsystem.CompressedProof, outputTree ed25519.PublicKey) (solana.Instruction, error),
) (solana.Signature, error) {
	commitment, err := p.commitment(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	outputTree, err := p.outputStateTree(ctx)
	if err != nil {
		return solana.Signature{}, err
	}

	if err := r.advance(ctx, journal.StateSelecting, StatusSelecting); err != nil {
		return solana.Signature{}, err
	}

	accounts, err := p.photon.GetCompressedAccountsByOwner(ctx, w.PublicKey())
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "error getting compressed accounts")
	}

	selected, total, err := selection.Select(accounts, amount)
	if err != nil {
		return solana.Signature{}, err
	}
	r.log.WithFields(logrus.Fields{
		"inputs":         len(selected),
		"input_lamports": total,
	}).Debug("selected input accounts")

	if err := r.advance(ctx, journal.StateProofRequested, StatusRequestingProof); err != nil {
		return solana.Signature{}, err
	}

	validityProof, err := p.requester.Request(ctx, selected)
	if err != nil {
		return solana.Signature{}, err
	}

	inputs := make([]lightsystem.InputAccount, len(selected))
	for i, account := range selected {
		queue, err := p.nullifierQueueFor(ctx, account.Tree)
		if err != nil {
			return solana.Signature{}, err
		}

		inputs[i] = lightsystem.InputAccount{
			Owner:          account.Owner,
			Lamports:       account.Lamports,
			Address:        account.Address,
			Data:           account.Data,
			MerkleTree:     account.Tree,
			NullifierQueue: queue,
			LeafIndex:      validityProof.LeafIndices[i],
			RootIndex:      validityProof.RootIndices[i],
		}
	}

	ix, err := build(inputs, *validityProof.CompressedProof, outputTree)
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "error building instruction")
	}

	if err := r.advance(ctx, journal.StateTransferring, statuses[0]); err != nil {
		return solana.Signature{}, err
	}

	sig, bh, err := p.submit(ctx, w, commitment, ix)
	if err != nil {
		return solana.Signature{}, err
	}

	r.record.TransferSignature = pointer.String(sig.String())
	r.record.LastValidBlockHeight = bh.LastValidBlockHeight
	r.setStatus(statuses[1])
	if err := r.save(ctx); err != nil {
		// The transaction is in flight and is still waited on
		r.log.WithError(err).Warn("failure recording submitted transaction")
	}

	if err := p.waiter.Wait(ctx, sig, bh, commitment); err != nil {
		r.unconfirmed = !confirm.IsSettled(err)
		return sig, err
	}

	if err := r.advance(ctx, journal.StateTransferConfirmed, ""); err != nil {
		// The transaction landed, so this only affects bookkeeping
		r.log.WithError(err).Warn("failure recording confirmed transaction")
	}
	return sig, nil
}
