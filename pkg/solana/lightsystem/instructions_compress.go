package lightsystem

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana"
)

type CompressInstructionArgs struct {
	Lamports        uint64
	OutputStateTree ed25519.PublicKey
}

type CompressInstructionAccounts struct {
	Payer     ed25519.PublicKey
	ToAddress ed25519.PublicKey
}

// NewCompressInstruction moves visible lamports from the payer into a single
// compressed account owned by ToAddress.
func NewCompressInstruction(
	accounts *CompressInstructionAccounts,
	args *CompressInstructionArgs,
) (solana.Instruction, error) {
	if args.Lamports == 0 {
		return solana.Instruction{}, ErrInvalidAmount
	}

	solPoolPda, _, err := GetSolPoolPdaAddress()
	if err != nil {
		return solana.Instruction{}, errors.Wrap(err, "error deriving sol pool pda")
	}

	var remaining remainingAccounts
	outputTreeIndex := remaining.indexOf(args.OutputStateTree)

	lamports := args.Lamports
	return NewInvokeInstruction(
		&InvokeInstructionAccounts{
			FeePayer:          accounts.Payer,
			Authority:         accounts.Payer,
			SolPoolPda:        solPoolPda,
			RemainingAccounts: remaining.keys,
		},
		&InstructionDataInvoke{
			OutputCompressedAccounts: []OutputCompressedAccountWithPackedContext{
				newOutputAccount(accounts.ToAddress, args.Lamports, outputTreeIndex),
			},
			CompressOrDecompressLamports: &lamports,
			IsCompress:                   true,
		},
	)
}
