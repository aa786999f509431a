package transfer

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/shield-server/pkg/database/query"
	"github.com/code-payments/shield-server/pkg/shield/confirm"
	"github.com/code-payments/shield-server/pkg/shield/data/journal"
	journal_memory "github.com/code-payments/shield-server/pkg/shield/data/journal/memory"
	"github.com/code-payments/shield-server/pkg/shield/proof"
	"github.com/code-payments/shield-server/pkg/shield/selection"
	"github.com/code-payments/shield-server/pkg/shield/shieldtest"
	"github.com/code-payments/shield-server/pkg/shield/wallet"
	"github.com/code-payments/shield-server/pkg/solana"
	compute_budget "github.com/code-payments/shield-server/pkg/solana/computebudget"
	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
	"github.com/code-payments/shield-server/pkg/testutil"
)

const sol = 1_000_000_000

type testEnv struct {
	ctx       context.Context
	ledger    *shieldtest.Ledger
	journal   journal.Store
	pipeline  *Pipeline
	sender    *wallet.Keypair
	recipient ed25519.PublicKey
}

func setup(t *testing.T, overrides ConfigOverrides) *testEnv {
	if overrides.ConfirmationPollInterval == 0 {
		overrides.ConfirmationPollInterval = time.Millisecond
	}
	if overrides.IndexerSyncTimeout == 0 {
		overrides.IndexerSyncTimeout = time.Second
	}

	sender, err := wallet.GenerateKeypair()
	require.NoError(t, err)

	env := &testEnv{
		ctx:       context.Background(),
		ledger:    shieldtest.NewLedger(),
		journal:   journal_memory.New(),
		sender:    sender,
		recipient: testutil.GenerateSolanaKeys(t, 1)[0],
	}
	env.pipeline = New(env.ledger, env.ledger, env.journal, WithConfigOverrides(overrides))
	return env
}

func (e *testEnv) methodCount(method string) int {
	var count int
	for _, call := range e.ledger.Calls() {
		if call.Method == method {
			count++
		}
	}
	return count
}

func (e *testEnv) send(t *testing.T, amount float64, status StatusFunc) (*Result, error) {
	return e.pipeline.SendPrivateTransaction(e.ctx, Request{
		Amount:           amount,
		RecipientAddress: base58.Encode(e.recipient),
		Wallet:           e.sender,
		Status:           status,
	})
}

func TestSendPrivateTransaction_EndToEnd(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)
	existing := env.ledger.MintCompressed(env.sender.PublicKey(), 1*sol)

	var statuses []string
	res, err := env.send(t, 0.3, func(status string) {
		statuses = append(statuses, status)
	})
	require.NoError(t, err)

	require.NotNil(t, res.RecipientPrivateBalance)
	require.NotNil(t, res.SenderPrivateBalance)
	assert.Equal(t, "0.3000", *res.RecipientPrivateBalance)
	assert.Equal(t, "1.0000", *res.SenderPrivateBalance)
	assert.Equal(t, "0.3000", *env.pipeline.CheckPrivateBalance(env.ctx, base58.Encode(env.recipient)))

	txns := env.ledger.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, res.CompressSignature, txns[0].Signature())
	assert.Equal(t, res.Signature, txns[1].Signature())

	// Compress: compute budget plus a single compress of the requested amount
	compress := decompileInvoke(t, txns[0], 2)
	require.NotNil(t, compress.Data.CompressOrDecompressLamports)
	assert.True(t, compress.Data.IsCompress)
	assert.EqualValues(t, 300_000_000, *compress.Data.CompressOrDecompressLamports)
	assert.Empty(t, compress.Data.InputCompressedAccountsWithMerkleContext)
	require.Len(t, compress.Data.OutputCompressedAccounts, 1)
	assert.Equal(t, env.sender.PublicKey(), ed25519.PublicKey(compress.Data.OutputCompressedAccounts[0].CompressedAccount.Owner[:]))
	assert.EqualValues(t, 300_000_000, compress.Data.OutputCompressedAccounts[0].CompressedAccount.Lamports)

	// Transfer: consumes the pre-existing 1 SOL leaf, pays 0.3 and returns change
	transfer := decompileInvoke(t, txns[1], 2)
	assert.Nil(t, transfer.Data.CompressOrDecompressLamports)
	require.Len(t, transfer.Data.InputCompressedAccountsWithMerkleContext, 1)
	input := transfer.Data.InputCompressedAccountsWithMerkleContext[0]
	assert.EqualValues(t, 1*sol, input.CompressedAccount.Lamports)
	assert.Equal(t, existing.LeafIndex, input.MerkleContext.LeafIndex)

	require.Len(t, transfer.Data.OutputCompressedAccounts, 2)
	assert.Equal(t, env.recipient, ed25519.PublicKey(transfer.Data.OutputCompressedAccounts[0].CompressedAccount.Owner[:]))
	assert.EqualValues(t, 300_000_000, transfer.Data.OutputCompressedAccounts[0].CompressedAccount.Lamports)
	assert.Equal(t, env.sender.PublicKey(), ed25519.PublicKey(transfer.Data.OutputCompressedAccounts[1].CompressedAccount.Owner[:]))
	assert.EqualValues(t, 700_000_000, transfer.Data.OutputCompressedAccounts[1].CompressedAccount.Lamports)

	for _, txn := range txns {
		ix, err := txn.Message.DecompileInstruction(0)
		require.NoError(t, err)
		limit, err := compute_budget.ParseSetComputeUnitLimit(ix)
		require.NoError(t, err)
		assert.EqualValues(t, 1_000_000, limit)
	}

	assert.Equal(t, []string{
		StatusCheckingBalance,
		StatusCompressing,
		StatusConfirmingCompression,
		StatusSelecting,
		StatusRequestingProof,
		StatusCreatingTransfer,
		StatusConfirmingTransfer,
		StatusDone,
	}, statuses)

	record, err := env.pipeline.GetTransfer(env.ctx, res.TransferId)
	require.NoError(t, err)
	assert.Equal(t, journal.KindTransfer, record.Kind)
	assert.Equal(t, journal.StateDone, record.State)
	assert.True(t, record.Compressed)
	assert.EqualValues(t, 300_000_000, record.Lamports)
	assert.Equal(t, res.CompressSignature.String(), *record.CompressSignature)
	assert.Equal(t, res.Signature.String(), *record.TransferSignature)
	assert.Nil(t, record.FailureReason)

	// Pool holds exactly the shielded lamports of both parties
	assert.EqualValues(t, 1_300_000_000, env.ledger.PoolBalance())
	assert.EqualValues(t, 2*sol-300_000_000-2*shieldtest.LamportsPerSignature, env.ledger.VisibleBalance(env.sender.PublicKey()))
}

func TestSendPrivateTransaction_PhaseOrdering(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	res, err := env.send(t, 0.5, nil)
	require.NoError(t, err)

	calls := env.ledger.Calls()

	compressConfirmed := -1
	var blockhashFetches []int
	for i, call := range calls {
		switch call.Method {
		case "getLatestBlockhash":
			blockhashFetches = append(blockhashFetches, i)
		case "getSignatureStatuses":
			if compressConfirmed < 0 && call.Found && *call.Signature == res.CompressSignature {
				compressConfirmed = i
			}
		case "getValidityProof", "getCompressedAccountsByOwner":
			assert.Greater(t, i, compressConfirmed)
			assert.True(t, compressConfirmed >= 0)
		}
	}

	require.Len(t, blockhashFetches, 2)
	require.True(t, compressConfirmed >= 0)
	assert.Less(t, blockhashFetches[0], compressConfirmed)
	assert.Greater(t, blockhashFetches[1], compressConfirmed)
}

func TestSendPrivateTransaction_Preconditions(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 1*sol)

	for _, tc := range []struct {
		name     string
		req      Request
		expected error
	}{
		{"no wallet", Request{Amount: 0.1, RecipientAddress: base58.Encode(env.recipient)}, ErrWalletNotConnected},
		{"zero amount", Request{Amount: 0, RecipientAddress: base58.Encode(env.recipient), Wallet: env.sender}, ErrInvalidAmount},
		{"negative amount", Request{Amount: -1, RecipientAddress: base58.Encode(env.recipient), Wallet: env.sender}, ErrInvalidAmount},
		{"dust amount", Request{Amount: 1e-12, RecipientAddress: base58.Encode(env.recipient), Wallet: env.sender}, ErrInvalidAmount},
		{"invalid recipient", Request{Amount: 0.1, RecipientAddress: "recipient", Wallet: env.sender}, ErrInvalidRecipient},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.pipeline.SendPrivateTransaction(env.ctx, tc.req)
			assert.Equal(t, tc.expected, err)
		})
	}

	assert.Empty(t, env.ledger.Calls())
}

func TestSendPrivateTransaction_ComputeUnitPrice(t *testing.T) {
	env := setup(t, ConfigOverrides{ComputeUnitPrice: 10_000})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	_, err := env.send(t, 0.3, nil)
	require.NoError(t, err)

	txns := env.ledger.Transactions()
	require.Len(t, txns, 2)
	for _, txn := range txns {
		decompileInvoke(t, txn, 3)

		ix, err := txn.Message.DecompileInstruction(1)
		require.NoError(t, err)
		price, err := compute_budget.ParseSetComputeUnitPrice(ix)
		require.NoError(t, err)
		assert.EqualValues(t, 10_000, price)
	}
}

func TestSendPrivateTransaction_PriorityFeeExceedsBalance(t *testing.T) {
	env := setup(t, ConfigOverrides{ComputeUnitPrice: 10_000})

	// Covers the amount, rent and signature fees, but not 10_000 lamports of
	// priority fee per transaction
	rentExempt, err := env.ledger.GetMinimumBalanceForRentExemption(env.ctx, 0)
	require.NoError(t, err)
	env.ledger.Airdrop(env.sender.PublicKey(), 300_000_000+rentExempt+2*shieldtest.LamportsPerSignature)

	_, err = env.send(t, 0.3, nil)
	assert.True(t, errors.Is(err, ErrInsufficientVisibleBalance))
	assert.Empty(t, env.ledger.Transactions())
}

func TestSendPrivateTransaction_InsufficientBalance(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	env.ledger.Airdrop(env.sender.PublicKey(), 1*sol)
	env.ledger.MintCompressed(env.sender.PublicKey(), 5*sol)

	_, err := env.send(t, 1.0, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientVisibleBalance))
	assert.True(t, errors.Is(err, selection.ErrInsufficientBalance))

	var phaseErr *PhaseError
	assert.False(t, errors.As(err, &phaseErr))

	assert.Zero(t, env.methodCount("sendTransaction"))
	assert.Zero(t, env.methodCount("getValidityProof"))
	assert.Zero(t, env.methodCount("getLatestBlockhash"))
	assert.EqualValues(t, 1*sol, env.ledger.VisibleBalance(env.sender.PublicKey()))

	history, err := env.pipeline.GetTransferHistory(env.ctx, base58.Encode(env.sender.PublicKey()))
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendPrivateTransaction_CompressConfirmationTimeout(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)
	env.ledger.MintCompressed(env.sender.PublicKey(), 1*sol)

	timeout := errors.New("Post \"http://localhost:8899\": context deadline exceeded")
	env.ledger.FailSignatureStatuses(timeout)

	_, err := env.send(t, 0.3, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, timeout))

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseCompress, phaseErr.Phase)
	assert.False(t, phaseErr.Compressed)
	assert.False(t, IsPartialFailure(err))

	// The compress landed even though it could not be observed
	balance := env.pipeline.CheckPrivateBalance(env.ctx, base58.Encode(env.sender.PublicKey()))
	require.NotNil(t, balance)
	assert.Equal(t, "1.3000", *balance)
	assert.Zero(t, env.methodCount("getValidityProof"))

	record, err := env.pipeline.GetTransfer(env.ctx, phaseErr.TransferId)
	require.NoError(t, err)
	assert.Equal(t, journal.StateFailed, record.State)
	require.NotNil(t, record.CompressSignature)
	assert.Nil(t, record.TransferSignature)
	require.NotNil(t, record.FailureReason)
	assert.Contains(t, *record.FailureReason, "context deadline exceeded")
	assert.False(t, record.IsResumable())
}

func TestSendPrivateTransaction_CompressExpired(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)
	env.ledger.MintCompressed(env.sender.PublicKey(), 1*sol)

	env.ledger.DropSubmits(true)
	env.ledger.AdvanceBlocksPerPoll(100)

	_, err := env.send(t, 0.3, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, confirm.ErrBlockhashExpired))

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseCompress, phaseErr.Phase)
	assert.False(t, phaseErr.Compressed)

	balance := env.pipeline.CheckPrivateBalance(env.ctx, base58.Encode(env.sender.PublicKey()))
	require.NotNil(t, balance)
	assert.Equal(t, "1.0000", *balance)
}

func TestSendPrivateTransaction_TransferFailureAndResume(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	_, err := env.send(t, 0.25, func(status string) {
		if status == StatusCreatingTransfer {
			env.ledger.DropSubmits(true)
			env.ledger.AdvanceBlocksPerPoll(100)
		}
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, confirm.ErrBlockhashExpired))
	assert.True(t, IsPartialFailure(err))

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseTransfer, phaseErr.Phase)
	assert.True(t, phaseErr.Compressed)

	// Funds are shielded but unsent
	assert.EqualValues(t, 250_000_000, env.ledger.CompressedBalance(env.sender.PublicKey()))
	assert.Zero(t, env.ledger.CompressedBalance(env.recipient))

	original, err := env.pipeline.GetTransfer(env.ctx, phaseErr.TransferId)
	require.NoError(t, err)
	assert.True(t, original.IsResumable())
	assert.NotNil(t, original.TransferSignature)

	env.ledger.DropSubmits(false)
	env.ledger.AdvanceBlocksPerPoll(0)

	other, err := wallet.GenerateKeypair()
	require.NoError(t, err)
	_, err = env.pipeline.ResumeTransfer(env.ctx, phaseErr.TransferId, other, nil)
	assert.Equal(t, ErrWalletMismatch, err)

	res, err := env.pipeline.ResumeTransfer(env.ctx, phaseErr.TransferId, env.sender, nil)
	require.NoError(t, err)
	require.NotNil(t, res.RecipientPrivateBalance)
	assert.Equal(t, "0.2500", *res.RecipientPrivateBalance)
	assert.Equal(t, *original.CompressSignature, res.CompressSignature.String())

	original, err = env.pipeline.GetTransfer(env.ctx, phaseErr.TransferId)
	require.NoError(t, err)
	assert.Equal(t, journal.StateResumed, original.State)

	resumed, err := env.pipeline.GetTransfer(env.ctx, res.TransferId)
	require.NoError(t, err)
	assert.Equal(t, journal.KindResume, resumed.Kind)
	assert.Equal(t, journal.StateDone, resumed.State)
	require.NotNil(t, resumed.ResumedFrom)
	assert.Equal(t, phaseErr.TransferId, *resumed.ResumedFrom)

	_, err = env.pipeline.ResumeTransfer(env.ctx, phaseErr.TransferId, env.sender, nil)
	assert.True(t, errors.Is(err, ErrNotResumable))

	_, err = env.pipeline.ResumeTransfer(env.ctx, "unknown", env.sender, nil)
	assert.Equal(t, journal.ErrNotFound, err)
}

func TestSendPrivateTransaction_ProofUnavailable(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)
	env.ledger.FailValidityProofs(errors.New("prover unavailable"))

	_, err := env.send(t, 0.1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, proof.ErrProofUnavailable))
	assert.True(t, IsPartialFailure(err))
	assert.Equal(t, 1, env.methodCount("getValidityProof"))
	assert.Equal(t, 1, env.methodCount("sendTransaction"))
}

func TestSendPrivateTransaction_MinContextSlotRetry(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	env.ledger.FailNextSubmits(solana.ErrMinContextSlotNotReached, solana.ErrBlockhashNotFound)

	res, err := env.send(t, 0.1, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.1000", *res.RecipientPrivateBalance)

	assert.Equal(t, 4, env.methodCount("sendTransaction"))
	assert.Equal(t, 4, env.methodCount("getLatestBlockhash"))
	assert.Len(t, env.ledger.Transactions(), 2)
}

func TestSendPrivateTransaction_SubmitAttemptsExhausted(t *testing.T) {
	env := setup(t, ConfigOverrides{MaxSubmitAttempts: 2})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	env.ledger.FailNextSubmits(solana.ErrMinContextSlotNotReached, solana.ErrMinContextSlotNotReached)

	_, err := env.send(t, 0.1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, solana.ErrMinContextSlotNotReached))
	assert.Equal(t, 2, env.methodCount("sendTransaction"))
	assert.Empty(t, env.ledger.Transactions())
}

func TestSendPrivateTransaction_NonRetriableSubmitError(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	rejected := errors.New("wallet rejected request")
	env.ledger.FailNextSubmits(rejected)

	_, err := env.send(t, 0.1, nil)
	assert.True(t, errors.Is(err, rejected))
	assert.Equal(t, 1, env.methodCount("sendTransaction"))
}

func TestSendPrivateTransaction_IndexerBehind(t *testing.T) {
	env := setup(t, ConfigOverrides{IndexerSyncTimeout: 20 * time.Millisecond})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)
	env.ledger.SetIndexerLag(10)

	_, err := env.send(t, 0.1, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIndexerBehind))
	assert.True(t, IsPartialFailure(err))
	assert.Zero(t, env.methodCount("getCompressedAccountsByOwner"))
}

func TestSendPrivateTransaction_CompressRejected(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	// Outputs to a tree the program doesn't know about fail preflight
	env.pipeline = New(env.ledger, env.ledger, env.journal, WithConfigOverrides(ConfigOverrides{
		ConfirmationPollInterval: time.Millisecond,
		OutputStateTree:          base58.Encode(testutil.GenerateSolanaKeys(t, 1)[0]),
	}))

	_, err := env.send(t, 0.1, nil)
	require.Error(t, err)

	var txErr *solana.TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, 1, env.methodCount("sendTransaction"))

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseCompress, phaseErr.Phase)
	assert.False(t, IsPartialFailure(err))
	assert.Empty(t, env.ledger.Transactions())
	assert.EqualValues(t, 2*sol, env.ledger.VisibleBalance(env.sender.PublicKey()))
}

func TestSendPrivateTransaction_ConcurrentSameSender(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 5*sol)
	env.ledger.MintCompressed(env.sender.PublicKey(), 1*sol)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.send(t, 0.5, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 2*sol, env.ledger.CompressedBalance(env.recipient))
	assert.EqualValues(t, 1*sol, env.ledger.CompressedBalance(env.sender.PublicKey()))
	assert.Len(t, env.ledger.Transactions(), 8)

	// The rent exempt minimum is fetched once and cached for later runs
	assert.Equal(t, 1, env.methodCount("getMinimumBalanceForRentExemption"))
}

func TestSendPrivateTransaction_JournalDisabled(t *testing.T) {
	env := setup(t, ConfigOverrides{DisableJournal: true})
	env.ledger.Airdrop(env.sender.PublicKey(), 2*sol)

	res, err := env.send(t, 0.1, nil)
	require.NoError(t, err)

	_, err = env.journal.GetById(env.ctx, res.TransferId)
	assert.Equal(t, journal.ErrNotFound, err)

	_, err = env.pipeline.GetTransfer(env.ctx, res.TransferId)
	assert.Equal(t, ErrJournalDisabled, err)

	_, err = env.pipeline.ResumeTransfer(env.ctx, res.TransferId, env.sender, nil)
	assert.Equal(t, ErrJournalDisabled, err)

	_, err = env.pipeline.GetTransferHistory(env.ctx, base58.Encode(env.sender.PublicKey()))
	assert.Equal(t, ErrJournalDisabled, err)
}

func TestGetTransferHistory(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 5*sol)

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := env.send(t, 0.1, nil)
		require.NoError(t, err)
		ids = append(ids, res.TransferId)
	}

	sender := base58.Encode(env.sender.PublicKey())

	page, err := env.pipeline.GetTransferHistory(env.ctx, sender, query.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[0], page[0].TransferId)
	assert.Equal(t, ids[1], page[1].TransferId)

	page, err = env.pipeline.GetTransferHistory(env.ctx, sender, query.WithCursor(query.ToCursor(page[1].Id)))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].TransferId)

	page, err = env.pipeline.GetTransferHistory(env.ctx, sender, query.WithDirection(query.Descending))
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, ids[2], page[0].TransferId)

	_, err = env.pipeline.GetTransferHistory(env.ctx, sender, query.WithLimit(query.MaxPagingLimit+1))
	assert.Equal(t, query.ErrQueryNotSupported, err)
}

func TestGetResumableTransfers(t *testing.T) {
	env := setup(t, ConfigOverrides{})
	env.ledger.Airdrop(env.sender.PublicKey(), 5*sol)

	// A compress failure leaves nothing to resume
	timeout := errors.New("context deadline exceeded")
	env.ledger.FailSignatureStatuses(timeout)
	_, err := env.send(t, 0.1, nil)
	require.Error(t, err)
	env.ledger.FailSignatureStatuses(nil)

	_, err = env.send(t, 0.2, func(status string) {
		if status == StatusCreatingTransfer {
			env.ledger.DropSubmits(true)
			env.ledger.AdvanceBlocksPerPoll(100)
		}
	})
	require.Error(t, err)
	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	env.ledger.DropSubmits(false)
	env.ledger.AdvanceBlocksPerPoll(0)

	page, next, err := env.pipeline.GetResumableTransfers(env.ctx, query.WithLimit(1))
	require.NoError(t, err)
	assert.Empty(t, page)
	require.NotEmpty(t, next)

	page, next, err = env.pipeline.GetResumableTransfers(env.ctx, query.WithLimit(1), query.WithCursor(next))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, phaseErr.TransferId, page[0].TransferId)
	require.NotEmpty(t, next)

	page, next, err = env.pipeline.GetResumableTransfers(env.ctx, query.WithCursor(next))
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.Empty(t, next)

	_, err = env.pipeline.ResumeTransfer(env.ctx, phaseErr.TransferId, env.sender, nil)
	require.NoError(t, err)

	page, _, err = env.pipeline.GetResumableTransfers(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, _, err = env.pipeline.GetResumableTransfers(env.ctx, query.WithLimit(0))
	assert.Equal(t, query.ErrQueryNotSupported, err)
}

func TestUnshieldSol(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	owner := env.sender.PublicKey()
	env.ledger.Airdrop(owner, 1*sol)
	env.ledger.MintCompressed(owner, 600_000_000)
	env.ledger.MintCompressed(owner, 400_000_000)

	sig, err := env.pipeline.UnshieldSol(env.ctx, 0.5, env.sender)
	require.NoError(t, err)

	txns := env.ledger.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, sig, txns[0].Signature())

	decompress := decompileInvoke(t, txns[0], 2)
	assert.False(t, decompress.Data.IsCompress)
	require.NotNil(t, decompress.Data.CompressOrDecompressLamports)
	assert.EqualValues(t, 500_000_000, *decompress.Data.CompressOrDecompressLamports)
	assert.Equal(t, owner, decompress.DecompressionRecipient)
	require.Len(t, decompress.Data.InputCompressedAccountsWithMerkleContext, 1)
	assert.EqualValues(t, 600_000_000, decompress.Data.InputCompressedAccountsWithMerkleContext[0].CompressedAccount.Lamports)

	assert.EqualValues(t, 500_000_000, env.ledger.CompressedBalance(owner))
	assert.EqualValues(t, 1*sol+500_000_000-shieldtest.LamportsPerSignature, env.ledger.VisibleBalance(owner))

	records, err := env.pipeline.GetTransferHistory(env.ctx, base58.Encode(owner), query.WithLimit(10))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, journal.KindUnshield, records[0].Kind)
	assert.Equal(t, journal.StateDone, records[0].State)
	assert.Equal(t, sig.String(), *records[0].TransferSignature)
	assert.Nil(t, records[0].CompressSignature)
}

func TestUnshieldSol_InsufficientShieldedBalance(t *testing.T) {
	env := setup(t, ConfigOverrides{})

	owner := env.sender.PublicKey()
	env.ledger.Airdrop(owner, 1*sol)
	env.ledger.MintCompressed(owner, 100_000_000)

	_, err := env.pipeline.UnshieldSol(env.ctx, 0.5, env.sender)
	require.Error(t, err)
	assert.True(t, errors.Is(err, selection.ErrInsufficientBalance))

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseDecompress, phaseErr.Phase)
	assert.False(t, IsPartialFailure(err))

	assert.Zero(t, env.methodCount("getValidityProof"))
	assert.Zero(t, env.methodCount("sendTransaction"))

	_, err = env.pipeline.UnshieldSol(env.ctx, 0.5, nil)
	assert.Equal(t, ErrWalletNotConnected, err)
}

func decompileInvoke(t *testing.T, txn solana.Transaction, expectedInstructions int) *lightsystem.DecompiledInvoke {
	require.Len(t, txn.Message.Instructions, expectedInstructions)

	ix, err := txn.Message.DecompileInstruction(expectedInstructions - 1)
	require.NoError(t, err)
	require.True(t, lightsystem.IsInvokeInstruction(ix))

	decompiled, err := lightsystem.DecodeInvokeInstruction(ix)
	require.NoError(t, err)
	return decompiled
}
