package lightsystem

import (
	"crypto/ed25519"
	"crypto/sha256"

	"github.com/mr-tron/base58"

	"github.com/code-payments/shield-server/pkg/solana"
)

var (
	PROGRAM_ADDRESS = mustBase58Decode("SySTEM1eSU2p4BGQfQpimFEWWSC1XDFeun3Nqzz3rT7")
	PROGRAM_ID      = PROGRAM_ADDRESS

	ACCOUNT_COMPRESSION_PROGRAM_ADDRESS   = mustBase58Decode("compr6CUsB5m2jS4Y3831ztGSTnDpnKJTKS95d64XVq")
	ACCOUNT_COMPRESSION_AUTHORITY_ADDRESS = mustBase58Decode("HwXnGK3tPkkVY6P439H2p68AxpeuWXd5PcrAxFpbmfbA")
	REGISTERED_PROGRAM_PDA_ADDRESS        = mustBase58Decode("35hkDgaAKwMCaxRz2ocSZ6NaUrtKkyNqU6c4RV3tYJRh")
	NOOP_PROGRAM_ADDRESS                  = mustBase58Decode("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")
	SYSTEM_PROGRAM_ADDRESS                = make(ed25519.PublicKey, ed25519.PublicKeySize)

	// Default public state tree and its nullifier queue
	DEFAULT_STATE_TREE_ADDRESS      = mustBase58Decode("smt1NamzXdq4AMqS2fS2F1i5KTYPZRhoHgWx38d8WsT")
	DEFAULT_NULLIFIER_QUEUE_ADDRESS = mustBase58Decode("nfq1NvQDJ2GEgnS8zt9prAe8rjjpAW1zFkrvZoBR148")
)

var (
	invokeInstructionDiscriminator = anchorDiscriminator("invoke")
)

const (
	solPoolPdaSeed = "sol_pool_pda"
)

// GetSolPoolPdaAddress returns the PDA holding lamports backing compressed SOL
func GetSolPoolPdaAddress() (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		PROGRAM_ADDRESS,
		[]byte(solPoolPdaSeed),
	)
}

func anchorDiscriminator(name string) []byte {
	h := sha256.Sum256([]byte("global:" + name))
	return h[:8]
}

func mustBase58Decode(value string) ed25519.PublicKey {
	decoded, err := base58.Decode(value)
	if err != nil {
		panic(err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		panic("invalid public key length")
	}
	return decoded
}
