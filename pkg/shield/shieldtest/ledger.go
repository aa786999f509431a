package shieldtest

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/merkletree"
	"github.com/code-payments/shield-server/pkg/photon"
	"github.com/code-payments/shield-server/pkg/solana"
	compute_budget "github.com/code-payments/shield-server/pkg/solana/computebudget"
	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
)

const (
	LamportsPerSignature = 5000

	// BlockhashValidity is the number of blocks a blockhash remains usable for
	BlockhashValidity = 150

	treeLevels = 26
)

// Custom program errors surfaced by the emulated light system program
const (
	ErrCodeSumCheckFailed solana.CustomError = 6000 + iota
	ErrCodeSignerCheckFailed
	ErrCodeInvalidMerkleContext
	ErrCodeInputNotFound
	ErrCodeProofVerificationFailed
	ErrCodeInsufficientPoolBalance
	ErrCodeInvalidCompressionArgs
)

// Call is an RPC method observed by the ledger, in invocation order
type Call struct {
	Method    string
	Signature *solana.Signature
	Found     bool
}

type leaf struct {
	account *photon.CompressedAccount
	spent   bool
}

// Ledger is an in-memory emulation of a Solana cluster running the light
// system program and of the compression indexer watching it. It implements
// both solana.Client and photon.Client.
type Ledger struct {
	mu sync.Mutex

	slot        uint64
	blockHeight uint64
	blockhashes map[solana.Blockhash]uint64
	nonce       uint64

	visible     map[string]uint64
	poolBalance uint64

	stateTree      ed25519.PublicKey
	nullifierQueue ed25519.PublicKey
	tree           *merkletree.MerkleTree
	rootLeafCount  map[uint16]uint64
	leaves         []*leaf
	byHash         map[photon.Hash]*leaf

	statuses     map[solana.Signature]*solana.SignatureStatus
	transactions []solana.Transaction
	calls        []Call

	// Failure injection
	statusErr       error
	proofErr        error
	accountsErr     error
	submitErrs      []error
	dropSubmits     bool
	blocksPerPoll   uint64
	indexerLagSlots uint64
}

var _ solana.Client = (*Ledger)(nil)
var _ photon.Client = (*Ledger)(nil)

// NewLedger returns an empty ledger using the default state tree
func NewLedger() *Ledger {
	tree, err := merkletree.New(treeLevels, merkletree.DefaultRootHistorySize, merkletree.Seed("shieldtest"))
	if err != nil {
		panic(err)
	}

	return &Ledger{
		slot:           1,
		blockHeight:    1,
		blockhashes:    make(map[solana.Blockhash]uint64),
		visible:        make(map[string]uint64),
		stateTree:      lightsystem.DEFAULT_STATE_TREE_ADDRESS,
		nullifierQueue: lightsystem.DEFAULT_NULLIFIER_QUEUE_ADDRESS,
		tree:           tree,
		rootLeafCount:  map[uint16]uint64{tree.GetRootIndex(): 0},
		byHash:         make(map[photon.Hash]*leaf),
		statuses:       make(map[solana.Signature]*solana.SignatureStatus),
	}
}

// StateTree returns the state tree and nullifier queue accounts are kept in
func (l *Ledger) StateTree() (tree, queue ed25519.PublicKey) {
	return l.stateTree, l.nullifierQueue
}

// Airdrop credits visible lamports to owner
func (l *Ledger) Airdrop(owner ed25519.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.visible[base58.Encode(owner)] += lamports
}

// MintCompressed creates a compressed account for owner backed by the sol
// pool, as if it had been compressed earlier.
func (l *Ledger) MintCompressed(owner ed25519.PublicKey, lamports uint64) *photon.CompressedAccount {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.poolBalance += lamports
	account := l.appendLeaf(owner, lamports)
	l.slot++
	l.blockHeight++
	return account
}

// VisibleBalance returns the uncompressed lamports held by owner
func (l *Ledger) VisibleBalance(owner ed25519.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.visible[base58.Encode(owner)]
}

// CompressedBalance returns the unspent compressed lamports owned by owner
func (l *Ledger) CompressedBalance(owner ed25519.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total uint64
	for _, account := range l.unspentFor(owner, false) {
		total += account.Lamports
	}
	return total
}

// CompressedAccounts returns the unspent compressed accounts owned by owner
func (l *Ledger) CompressedAccounts(owner ed25519.PublicKey) []*photon.CompressedAccount {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.unspentFor(owner, false)
}

// PoolBalance returns the lamports backing all compressed accounts
func (l *Ledger) PoolBalance() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.poolBalance
}

// Transactions returns the transactions that landed, in order
func (l *Ledger) Transactions() []solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]solana.Transaction(nil), l.transactions...)
}

// Calls returns the RPC methods invoked so far, in order
func (l *Ledger) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]Call(nil), l.calls...)
}

// FailSignatureStatuses makes every status lookup fail with err until reset with nil
func (l *Ledger) FailSignatureStatuses(err error) {
	l.mu.Lock()
	l.statusErr = err
	l.mu.Unlock()
}

// FailValidityProofs makes every proof request fail with err until reset with nil
func (l *Ledger) FailValidityProofs(err error) {
	l.mu.Lock()
	l.proofErr = err
	l.mu.Unlock()
}

// FailCompressedAccounts makes every account listing fail with err until reset with nil
func (l *Ledger) FailCompressedAccounts(err error) {
	l.mu.Lock()
	l.accountsErr = err
	l.mu.Unlock()
}

// FailNextSubmits rejects the next submissions with errs, in order
func (l *Ledger) FailNextSubmits(errs ...error) {
	l.mu.Lock()
	l.submitErrs = append(l.submitErrs, errs...)
	l.mu.Unlock()
}

// DropSubmits accepts transactions without ever landing them
func (l *Ledger) DropSubmits(drop bool) {
	l.mu.Lock()
	l.dropSubmits = drop
	l.mu.Unlock()
}

// AdvanceBlocksPerPoll advances the block height on every block height query
func (l *Ledger) AdvanceBlocksPerPoll(blocks uint64) {
	l.mu.Lock()
	l.blocksPerPoll = blocks
	l.mu.Unlock()
}

// SetIndexerLag hides accounts created in the most recent slots from the indexer
func (l *Ledger) SetIndexerLag(slots uint64) {
	l.mu.Lock()
	l.indexerLagSlots = slots
	l.mu.Unlock()
}

func (l *Ledger) record(call Call) {
	l.calls = append(l.calls, call)
}

//
// solana.Client
//

func (l *Ledger) GetBalance(_ context.Context, account ed25519.PublicKey, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getBalance"})
	return l.visible[base58.Encode(account)], nil
}

func (l *Ledger) GetBlockHeight(_ context.Context, _ solana.Commitment, minContextSlot uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getBlockHeight"})
	if minContextSlot > l.slot {
		return 0, solana.ErrMinContextSlotNotReached
	}

	l.blockHeight += l.blocksPerPoll
	l.slot += l.blocksPerPoll
	return l.blockHeight, nil
}

func (l *Ledger) GetLatestBlockhashAndContext(_ context.Context, _ solana.Commitment) (solana.BlockhashContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getLatestBlockhash"})

	l.nonce++
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], l.nonce)

	bh := solana.BlockhashContext{
		Blockhash:            sha256.Sum256(seed[:]),
		LastValidBlockHeight: l.blockHeight + BlockhashValidity,
		Slot:                 l.slot,
	}
	l.blockhashes[bh.Blockhash] = bh.LastValidBlockHeight
	return bh, nil
}

func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getMinimumBalanceForRentExemption"})
	return (128 + size) * 3480 * 2, nil
}

func (l *Ledger) GetSignatureStatuses(_ context.Context, sigs []solana.Signature) ([]*solana.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.statusErr != nil {
		l.record(Call{Method: "getSignatureStatuses"})
		return nil, l.statusErr
	}

	res := make([]*solana.SignatureStatus, len(sigs))
	for i, sig := range sigs {
		sig := sig
		status, ok := l.statuses[sig]
		l.record(Call{Method: "getSignatureStatuses", Signature: &sig, Found: ok})
		if ok {
			cpy := *status
			res[i] = &cpy
		}
	}
	return res, nil
}

func (l *Ledger) GetSlot(_ context.Context, _ solana.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getSlot"})
	return l.slot, nil
}

func (l *Ledger) SubmitTransaction(_ context.Context, txn solana.Transaction, opts solana.SubmitOptions) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sig := txn.Signature()
	l.record(Call{Method: "sendTransaction", Signature: &sig})

	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		return sig, errors.Wrap(err, "sendTransaction() failed")
	}

	if opts.MinContextSlot > l.slot {
		return sig, errors.Wrap(solana.ErrMinContextSlotNotReached, "sendTransaction() failed")
	}

	lastValid, ok := l.blockhashes[txn.Message.RecentBlockhash]
	if !ok || l.blockHeight > lastValid {
		return sig, errors.Wrap(solana.ErrBlockhashNotFound, "sendTransaction() failed")
	}

	if err := txn.VerifySignatures(); err != nil {
		return sig, errors.Wrap(solana.NewTransactionError(solana.TransactionErrorSignatureFailure), "sendTransaction() failed")
	}

	if _, ok := l.statuses[sig]; ok {
		return sig, nil
	}

	if l.dropSubmits {
		return sig, nil
	}

	fee := LamportsPerSignature * uint64(len(txn.Signatures))
	feePayer := base58.Encode(txn.Message.Accounts[0])
	if l.visible[feePayer] < fee {
		return sig, errors.Wrap(solana.NewTransactionError(solana.TransactionErrorInsufficientFundsForFee), "sendTransaction() failed")
	}

	txErr := l.execute(txn)
	if txErr != nil && !opts.SkipPreflight {
		return sig, errors.Wrap(txErr, "sendTransaction() failed")
	}

	// Fees are charged even when execution fails
	l.visible[feePayer] -= fee
	l.statuses[sig] = &solana.SignatureStatus{
		Slot:               l.slot,
		ErrorResult:        txErr,
		ConfirmationStatus: "finalized",
	}
	l.transactions = append(l.transactions, txn)
	l.slot++
	l.blockHeight++

	return sig, nil
}

// execute validates every instruction first and only then applies them, so a
// failing transaction leaves no partial state behind.
func (l *Ledger) execute(txn solana.Transaction) *solana.TransactionError {
	var effects []func()

	for i := range txn.Message.Instructions {
		ix, err := txn.Message.DecompileInstruction(i)
		if err != nil {
			return solana.NewInstructionTransactionError(i, errors.New(string(solana.InstructionErrorInvalidArgument)))
		}

		switch {
		case bytes.Equal(ix.Program, compute_budget.ProgramKey):
			if limit, err := compute_budget.ParseSetComputeUnitLimit(ix); err == nil && limit > compute_budget.MaxComputeUnitLimit {
				return solana.NewInstructionTransactionError(i, errors.New(string(solana.InstructionErrorInvalidInstructionData)))
			}
		case lightsystem.IsInvokeInstruction(ix):
			decompiled, err := lightsystem.DecodeInvokeInstruction(ix)
			if err != nil {
				return solana.NewInstructionTransactionError(i, errors.New(string(solana.InstructionErrorInvalidInstructionData)))
			}

			effect, code := l.validateInvoke(decompiled)
			if code != nil {
				return solana.NewInstructionTransactionError(i, *code)
			}
			effects = append(effects, effect)
		default:
			return solana.NewInstructionTransactionError(i, errors.New(string(solana.InstructionErrorInvalidArgument)))
		}
	}

	for _, effect := range effects {
		effect()
	}
	return nil
}

func (l *Ledger) validateInvoke(invoke *lightsystem.DecompiledInvoke) (func(), *solana.CustomError) {
	fail := func(code solana.CustomError) (func(), *solana.CustomError) {
		return nil, &code
	}

	data := invoke.Data
	solPool, _, err := lightsystem.GetSolPoolPdaAddress()
	if err != nil {
		return fail(ErrCodeInvalidCompressionArgs)
	}

	var inputs []*leaf
	var inputHashes []photon.Hash
	var rootIndices []uint16
	var leafIndices []uint32
	var inputSum uint64
	for _, packed := range data.InputCompressedAccountsWithMerkleContext {
		tree, err := invoke.RemainingAccount(packed.MerkleContext.MerkleTreePubkeyIndex)
		if err != nil || !bytes.Equal(tree, l.stateTree) {
			return fail(ErrCodeInvalidMerkleContext)
		}
		queue, err := invoke.RemainingAccount(packed.MerkleContext.NullifierQueuePubkeyIndex)
		if err != nil || !bytes.Equal(queue, l.nullifierQueue) {
			return fail(ErrCodeInvalidMerkleContext)
		}

		leafIndex := packed.MerkleContext.LeafIndex
		if int(leafIndex) >= len(l.leaves) {
			return fail(ErrCodeInputNotFound)
		}
		input := l.leaves[leafIndex]
		if input.spent || !bytes.Equal(input.account.Owner, packed.CompressedAccount.Owner[:]) || input.account.Lamports != packed.CompressedAccount.Lamports {
			return fail(ErrCodeInputNotFound)
		}
		if !bytes.Equal(input.account.Owner, invoke.Authority) {
			return fail(ErrCodeSignerCheckFailed)
		}
		if !l.leafInRoot(leafIndex, packed.RootIndex, input.account.Hash) {
			return fail(ErrCodeProofVerificationFailed)
		}
		for _, existing := range inputs {
			if existing == input {
				return fail(ErrCodeInputNotFound)
			}
		}

		inputs = append(inputs, input)
		inputHashes = append(inputHashes, input.account.Hash)
		rootIndices = append(rootIndices, packed.RootIndex)
		leafIndices = append(leafIndices, leafIndex)
		inputSum += input.account.Lamports
	}

	if len(inputs) > 0 {
		if data.Proof == nil || *data.Proof != proofFor(inputHashes, rootIndices, leafIndices) {
			return fail(ErrCodeProofVerificationFailed)
		}
	}

	var outputSum uint64
	for _, output := range data.OutputCompressedAccounts {
		tree, err := invoke.RemainingAccount(output.MerkleTreeIndex)
		if err != nil || !bytes.Equal(tree, l.stateTree) {
			return fail(ErrCodeInvalidMerkleContext)
		}
		outputSum += output.CompressedAccount.Lamports
	}

	var compression uint64
	if data.CompressOrDecompressLamports != nil {
		compression = *data.CompressOrDecompressLamports
		if !bytes.Equal(invoke.SolPoolPda, solPool) {
			return fail(ErrCodeInvalidCompressionArgs)
		}
	}

	feePayer := base58.Encode(invoke.FeePayer)
	var recipient string
	switch {
	case compression == 0:
		if inputSum != outputSum {
			return fail(ErrCodeSumCheckFailed)
		}
	case data.IsCompress:
		if inputSum+compression != outputSum {
			return fail(ErrCodeSumCheckFailed)
		}
		if l.visible[feePayer] < compression+LamportsPerSignature {
			return fail(ErrCodeSumCheckFailed)
		}
	default:
		if len(invoke.DecompressionRecipient) == 0 {
			return fail(ErrCodeInvalidCompressionArgs)
		}
		if outputSum+compression != inputSum {
			return fail(ErrCodeSumCheckFailed)
		}
		if l.poolBalance < compression {
			return fail(ErrCodeInsufficientPoolBalance)
		}
		recipient = base58.Encode(invoke.DecompressionRecipient)
	}

	return func() {
		for _, input := range inputs {
			input.spent = true
		}

		switch {
		case compression == 0:
		case data.IsCompress:
			l.visible[feePayer] -= compression
			l.poolBalance += compression
		default:
			l.poolBalance -= compression
			l.visible[recipient] += compression
		}

		for _, output := range data.OutputCompressedAccounts {
			l.appendLeaf(output.CompressedAccount.Owner[:], output.CompressedAccount.Lamports)
		}
	}, nil
}

// leafInRoot verifies the leaf against the historical root at rootIndex
func (l *Ledger) leafInRoot(leafIndex uint32, rootIndex uint16, hash photon.Hash) bool {
	root, err := l.tree.GetRootAtIndex(rootIndex)
	if err != nil {
		return false
	}

	leafCount, ok := l.rootLeafCount[rootIndex]
	if !ok || uint64(leafIndex) >= leafCount {
		return false
	}

	proof, err := l.tree.GetProofForLeafAtIndex(uint64(leafIndex), leafCount-1)
	if err != nil {
		return false
	}
	return merkletree.Verify(proof, root, hash[:])
}

func (l *Ledger) appendLeaf(owner ed25519.PublicKey, lamports uint64) *photon.CompressedAccount {
	leafIndex := uint32(len(l.leaves))

	h := sha256.New()
	h.Write(owner)
	binary.Write(h, binary.LittleEndian, lamports)
	h.Write(l.stateTree)
	binary.Write(h, binary.LittleEndian, leafIndex)

	var hash photon.Hash
	copy(hash[:], h.Sum(nil))

	if _, err := l.tree.AddLeaf(hash[:]); err != nil {
		panic(err)
	}
	l.rootLeafCount[l.tree.GetRootIndex()] = l.tree.GetLeafCount()

	account := &photon.CompressedAccount{
		Hash:        hash,
		Owner:       append(ed25519.PublicKey(nil), owner...),
		Lamports:    lamports,
		Tree:        l.stateTree,
		LeafIndex:   leafIndex,
		SlotCreated: l.slot,
	}

	entry := &leaf{account: account}
	l.leaves = append(l.leaves, entry)
	l.byHash[hash] = entry
	return account
}

func (l *Ledger) unspentFor(owner ed25519.PublicKey, indexed bool) []*photon.CompressedAccount {
	var res []*photon.CompressedAccount
	for _, entry := range l.leaves {
		if entry.spent || !bytes.Equal(entry.account.Owner, owner) {
			continue
		}
		if indexed && entry.account.SlotCreated+l.indexerLagSlots > l.slot {
			continue
		}

		cpy := *entry.account
		res = append(res, &cpy)
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].LeafIndex < res[j].LeafIndex
	})
	return res
}

//
// photon.Client
//

func (l *Ledger) GetCompressedAccountsByOwner(_ context.Context, owner ed25519.PublicKey) ([]*photon.CompressedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getCompressedAccountsByOwner"})
	if l.accountsErr != nil {
		return nil, l.accountsErr
	}
	return l.unspentFor(owner, true), nil
}

func (l *Ledger) GetValidityProof(_ context.Context, hashes []photon.Hash) (*photon.ValidityProof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getValidityProof"})
	if l.proofErr != nil {
		return nil, l.proofErr
	}
	if len(hashes) == 0 {
		return nil, errors.New("at least one hash is required")
	}

	root := l.tree.GetRoot()
	rootIndex := l.tree.GetRootIndex()

	res := &photon.ValidityProof{}
	for _, hash := range hashes {
		entry, ok := l.byHash[hash]
		if !ok || entry.spent {
			return nil, errors.Errorf("leaf %s not found", hash.String())
		}

		// Positions are read back from the state tree, as the indexer does
		leafIndex, err := l.tree.GetIndexForLeaf(hash[:])
		if err != nil {
			return nil, errors.Wrapf(err, "leaf %s not in state tree", hash.String())
		}

		var rootHash photon.Hash
		copy(rootHash[:], root)

		res.Roots = append(res.Roots, rootHash)
		res.RootIndices = append(res.RootIndices, rootIndex)
		res.LeafIndices = append(res.LeafIndices, uint32(leafIndex))
		res.Leaves = append(res.Leaves, hash)
		res.MerkleTrees = append(res.MerkleTrees, l.stateTree)
	}

	proof := proofFor(hashes, res.RootIndices, res.LeafIndices)
	res.CompressedProof = &proof
	return res, nil
}

func (l *Ledger) GetIndexerSlot(_ context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record(Call{Method: "getIndexerSlot"})
	if l.indexerLagSlots > l.slot {
		return 0, nil
	}
	return l.slot - l.indexerLagSlots, nil
}

// proofFor deterministically derives a stand-in proof binding the leaves to
// the roots they were proven against.
func proofFor(hashes []photon.Hash, rootIndices []uint16, leafIndices []uint32) lightsystem.CompressedProof {
	h := sha256.New()
	for i := range hashes {
		h.Write(hashes[i][:])
		binary.Write(h, binary.LittleEndian, rootIndices[i])
		binary.Write(h, binary.LittleEndian, leafIndices[i])
	}
	digest := h.Sum(nil)
	second := sha256.Sum256(digest)
	third := sha256.Sum256(second[:])

	var proof lightsystem.CompressedProof
	copy(proof.A[:], digest)
	copy(proof.B[:32], second[:])
	copy(proof.B[32:], third[:])
	proof.C = sha256.Sum256(append(digest, 'c'))
	return proof
}
