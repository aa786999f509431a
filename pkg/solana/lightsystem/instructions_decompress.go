package lightsystem

import (
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana"
)

type DecompressInstructionArgs struct {
	Inputs          []InputAccount
	Proof           CompressedProof
	Lamports        uint64
	OutputStateTree ed25519.PublicKey
}

type DecompressInstructionAccounts struct {
	Payer     ed25519.PublicKey
	ToAddress ed25519.PublicKey
}

// NewDecompressInstruction consumes the input accounts and releases lamports
// from the sol pool to ToAddress. Any remainder stays compressed as a change
// account owned by the payer.
func NewDecompressInstruction(
	accounts *DecompressInstructionAccounts,
	args *DecompressInstructionArgs,
) (solana.Instruction, error) {
	if args.Lamports == 0 {
		return solana.Instruction{}, ErrInvalidAmount
	}

	solPoolPda, _, err := GetSolPoolPdaAddress()
	if err != nil {
		return solana.Instruction{}, errors.Wrap(err, "error deriving sol pool pda")
	}

	var remaining remainingAccounts
	inputs, total, err := packInputAccounts(args.Inputs, &remaining)
	if err != nil {
		return solana.Instruction{}, err
	}
	if total < args.Lamports {
		return solana.Instruction{}, ErrInsufficientInputLamports
	}

	var outputs []OutputCompressedAccountWithPackedContext
	if change := total - args.Lamports; change > 0 {
		outputs = append(outputs, newOutputAccount(accounts.Payer, change, remaining.indexOf(args.OutputStateTree)))
	}

	proof := args.Proof
	lamports := args.Lamports
	return NewInvokeInstruction(
		&InvokeInstructionAccounts{
			FeePayer:               accounts.Payer,
			Authority:              accounts.Payer,
			SolPoolPda:             solPoolPda,
			DecompressionRecipient: accounts.ToAddress,
			RemainingAccounts:      remaining.keys,
		},
		&InstructionDataInvoke{
			Proof:                                    &proof,
			InputCompressedAccountsWithMerkleContext: inputs,
			OutputCompressedAccounts:                 outputs,
			CompressOrDecompressLamports:             &lamports,
			IsCompress:                               false,
		},
	)
}
