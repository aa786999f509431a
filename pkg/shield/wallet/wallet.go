package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"os"
	"sync"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana"
)

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrInvalidKeypair     = errors.New("invalid keypair")
)

// SendOptions are forwarded to the RPC node when a wallet submits a transaction
type SendOptions struct {
	MinContextSlot      uint64
	SkipPreflight       bool
	PreflightCommitment solana.Commitment
}

// Wallet is a signing capability. Implementations own the key material; the
// pipeline only ever sees the public key and asks for signatures.
type Wallet interface {
	PublicKey() ed25519.PublicKey

	// SignTransaction adds the wallet's signature to txn
	SignTransaction(ctx context.Context, txn *solana.Transaction) error

	// SendTransaction signs and submits txn through client
	SendTransaction(ctx context.Context, txn *solana.Transaction, client solana.Client, opts SendOptions) (solana.Signature, error)
}

// Validate checks that w can be used to sign on behalf of a sender
func Validate(w Wallet) error {
	if w == nil {
		return ErrWalletNotConnected
	}
	if len(w.PublicKey()) != ed25519.PublicKeySize {
		return ErrWalletNotConnected
	}
	return nil
}

// Keypair is an in-process Wallet backed by an ed25519 private key. Signing is
// serialized so a single keypair never signs two transactions at once.
type Keypair struct {
	mu      sync.Mutex
	private ed25519.PrivateKey
}

func NewKeypair(private ed25519.PrivateKey) (*Keypair, error) {
	if len(private) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	return &Keypair{private: private}, nil
}

func GenerateKeypair() (*Keypair, error) {
	_, private, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return NewKeypair(private)
}

// LoadKeypairFile reads a keypair in the Solana CLI format, a JSON array of
// the 64 private key bytes.
func LoadKeypairFile(path string) (*Keypair, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading keypair file")
	}

	var raw []byte
	var values []int
	if err := json.Unmarshal(contents, &values); err != nil {
		return nil, errors.Wrap(ErrInvalidKeypair, err.Error())
	}
	for _, v := range values {
		if v < 0 || v > 255 {
			return nil, ErrInvalidKeypair
		}
		raw = append(raw, byte(v))
	}

	keypair, err := NewKeypair(raw)
	if err != nil {
		return nil, err
	}

	// The trailing half must be the public key derived from the seed
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !derived.Equal(ed25519.PrivateKey(raw)) {
		return nil, ErrInvalidKeypair
	}
	return keypair, nil
}

// PublicKey returns nil for a nil or uninitialized keypair
func (k *Keypair) PublicKey() ed25519.PublicKey {
	if k == nil || len(k.private) != ed25519.PrivateKeySize {
		return nil
	}
	return k.private.Public().(ed25519.PublicKey)
}

func (k *Keypair) String() string {
	return base58.Encode(k.PublicKey())
}

func (k *Keypair) SignTransaction(_ context.Context, txn *solana.Transaction) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	return txn.Sign(k.private)
}

func (k *Keypair) SendTransaction(ctx context.Context, txn *solana.Transaction, client solana.Client, opts SendOptions) (solana.Signature, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := txn.Sign(k.private); err != nil {
		return solana.Signature{}, errors.Wrap(err, "error signing transaction")
	}

	return client.SubmitTransaction(ctx, *txn, solana.SubmitOptions{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: opts.PreflightCommitment,
		MinContextSlot:      opts.MinContextSlot,
	})
}
