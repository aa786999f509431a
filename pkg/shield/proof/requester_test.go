package proof

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/shield-server/pkg/photon"
	"github.com/code-payments/shield-server/pkg/shield/shieldtest"
	"github.com/code-payments/shield-server/pkg/testutil"
)

func TestRequest_HappyPath(t *testing.T) {
	ctx := context.Background()
	ledger := shieldtest.NewLedger()
	requester := NewRequester(ledger)

	owner := testutil.GenerateSolanaKeys(t, 1)[0]
	ledger.MintCompressed(owner, 10)
	ledger.MintCompressed(owner, 20)
	ledger.MintCompressed(owner, 30)

	accounts, err := ledger.GetCompressedAccountsByOwner(ctx, owner)
	require.NoError(t, err)

	// Order of the request is preserved
	selected := []*photon.CompressedAccount{accounts[2], accounts[0]}

	proof, err := requester.Request(ctx, selected)
	require.NoError(t, err)
	require.NotNil(t, proof.CompressedProof)
	require.Len(t, proof.RootIndices, 2)
	assert.Equal(t, selected[0].Hash, proof.Leaves[0])
	assert.Equal(t, selected[1].Hash, proof.Leaves[1])
	assert.Equal(t, selected[0].LeafIndex, proof.LeafIndices[0])
	assert.Equal(t, selected[1].LeafIndex, proof.LeafIndices[1])
}

func TestRequest_NoInputs(t *testing.T) {
	requester := NewRequester(shieldtest.NewLedger())

	_, err := requester.Request(context.Background(), nil)
	assert.Equal(t, ErrNoInputs, err)
}

func TestRequest_Unavailable(t *testing.T) {
	ctx := context.Background()
	ledger := shieldtest.NewLedger()
	requester := NewRequester(ledger)

	owner := testutil.GenerateSolanaKeys(t, 1)[0]
	ledger.MintCompressed(owner, 10)

	accounts, err := ledger.GetCompressedAccountsByOwner(ctx, owner)
	require.NoError(t, err)

	unreachable := errors.New("prover unreachable")
	ledger.FailValidityProofs(unreachable)
	_, err = requester.Request(ctx, accounts)
	assert.True(t, errors.Is(err, ErrProofUnavailable))
	assert.True(t, errors.Is(err, unreachable))

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, unreachable, unavailable.Err)

	ledger.FailValidityProofs(context.Canceled)
	_, err = requester.Request(ctx, accounts)
	assert.True(t, errors.Is(err, ErrProofUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))

	// No silent retry
	var proofCalls int
	for _, call := range ledger.Calls() {
		if call.Method == "getValidityProof" {
			proofCalls++
		}
	}
	assert.Equal(t, 2, proofCalls)
}

func TestRequest_UnknownAccount(t *testing.T) {
	requester := NewRequester(shieldtest.NewLedger())

	account := &photon.CompressedAccount{
		Hash:     photon.Hash{1, 2, 3},
		Owner:    testutil.GenerateSolanaKeys(t, 1)[0],
		Lamports: 10,
	}

	_, err := requester.Request(context.Background(), []*photon.CompressedAccount{account})
	assert.True(t, errors.Is(err, ErrProofUnavailable))
}

type staticPhoton struct {
	photon.Client
	proof *photon.ValidityProof
}

func (s *staticPhoton) GetValidityProof(_ context.Context, _ []photon.Hash) (*photon.ValidityProof, error) {
	return s.proof, nil
}

func TestRequest_MismatchedMetadata(t *testing.T) {
	ctx := context.Background()
	ledger := shieldtest.NewLedger()

	owner := testutil.GenerateSolanaKeys(t, 1)[0]
	ledger.MintCompressed(owner, 10)
	ledger.MintCompressed(owner, 20)

	accounts, err := ledger.GetCompressedAccountsByOwner(ctx, owner)
	require.NoError(t, err)

	proof, err := ledger.GetValidityProof(ctx, []photon.Hash{accounts[0].Hash, accounts[1].Hash})
	require.NoError(t, err)

	truncated := *proof
	truncated.RootIndices = truncated.RootIndices[:1]

	swapped := *proof
	swapped.LeafIndices = []uint32{proof.LeafIndices[1], proof.LeafIndices[0]}

	missing := *proof
	missing.CompressedProof = nil

	for _, bad := range []*photon.ValidityProof{&truncated, &swapped, &missing, nil} {
		requester := NewRequester(&staticPhoton{proof: bad})
		_, err := requester.Request(ctx, accounts)
		assert.True(t, errors.Is(err, ErrProofUnavailable))
	}
}
