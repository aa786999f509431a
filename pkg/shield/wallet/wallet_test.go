package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/shield-server/pkg/solana"
	"github.com/code-payments/shield-server/pkg/testutil"
)

type submitRecorder struct {
	solana.Client

	txn  solana.Transaction
	opts solana.SubmitOptions
}

func (r *submitRecorder) SubmitTransaction(_ context.Context, txn solana.Transaction, opts solana.SubmitOptions) (solana.Signature, error) {
	r.txn = txn
	r.opts = opts
	return txn.Signature(), nil
}

func TestValidate(t *testing.T) {
	assert.Equal(t, ErrWalletNotConnected, Validate(nil))

	var nilKeypair *Keypair
	assert.Equal(t, ErrWalletNotConnected, Validate(nilKeypair))
	assert.Nil(t, nilKeypair.PublicKey())
	assert.Empty(t, nilKeypair.String())

	assert.Equal(t, ErrWalletNotConnected, Validate(&Keypair{}))

	keypair, err := GenerateKeypair()
	require.NoError(t, err)
	assert.NoError(t, Validate(keypair))
}

func TestKeypair_SendTransaction(t *testing.T) {
	keypair, err := NewKeypair(testutil.GenerateSolanaKeypair(t))
	require.NoError(t, err)

	txn := solana.NewTransaction(keypair.PublicKey(), solana.NewInstruction(
		testutil.GenerateSolanaKeys(t, 1)[0],
		[]byte{1},
	))

	client := &submitRecorder{}
	sig, err := keypair.SendTransaction(context.Background(), &txn, client, SendOptions{MinContextSlot: 99})
	require.NoError(t, err)

	assert.Equal(t, txn.Signature(), sig)
	assert.NoError(t, client.txn.VerifySignatures())
	assert.EqualValues(t, 99, client.opts.MinContextSlot)
}

func TestKeypair_SignTransaction(t *testing.T) {
	keypair, err := GenerateKeypair()
	require.NoError(t, err)

	txn := solana.NewTransaction(keypair.PublicKey(), solana.NewInstruction(
		testutil.GenerateSolanaKeys(t, 1)[0],
		nil,
	))
	require.NoError(t, keypair.SignTransaction(context.Background(), &txn))
	assert.NoError(t, txn.VerifySignatures())

	other, err := GenerateKeypair()
	require.NoError(t, err)
	assert.Error(t, other.SignTransaction(context.Background(), &txn))
}

func TestLoadKeypairFile(t *testing.T) {
	private := testutil.GenerateSolanaKeypair(t)

	values := make([]int, len(private))
	for i, b := range private {
		values[i] = int(b)
	}
	encoded, err := json.Marshal(values)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "id.json")
	require.NoError(t, os.WriteFile(path, encoded, 0600))

	keypair, err := LoadKeypairFile(path)
	require.NoError(t, err)
	assert.EqualValues(t, private.Public(), keypair.PublicKey())

	// Mismatched public key half
	values[63] ^= 0xff
	encoded, err = json.Marshal(values)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, encoded, 0600))
	_, err = LoadKeypairFile(path)
	assert.Equal(t, ErrInvalidKeypair, err)

	require.NoError(t, os.WriteFile(path, []byte("[1,2,3]"), 0600))
	_, err = LoadKeypairFile(path)
	assert.Equal(t, ErrInvalidKeypair, err)

	require.NoError(t, os.WriteFile(path, []byte("not json"), 0600))
	_, err = LoadKeypairFile(path)
	assert.ErrorIs(t, err, ErrInvalidKeypair)

	_, err = LoadKeypairFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
