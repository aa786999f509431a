package lightsystem

import (
	"crypto/ed25519"

	"github.com/code-payments/shield-server/pkg/solana"
)

type TransferInstructionArgs struct {
	Inputs          []InputAccount
	Proof           CompressedProof
	Lamports        uint64
	OutputStateTree ed25519.PublicKey
}

type TransferInstructionAccounts struct {
	Payer     ed25519.PublicKey
	ToAddress ed25519.PublicKey
}

// NewTransferInstruction consumes the input accounts and creates a compressed
// account for the recipient, plus a change account back to the payer when the
// inputs exceed the transferred amount.
func NewTransferInstruction(
	accounts *TransferInstructionAccounts,
	args *TransferInstructionArgs,
) (solana.Instruction, error) {
	if args.Lamports == 0 {
		return solana.Instruction{}, ErrInvalidAmount
	}

	var remaining remainingAccounts
	inputs, total, err := packInputAccounts(args.Inputs, &remaining)
	if err != nil {
		return solana.Instruction{}, err
	}
	if total < args.Lamports {
		return solana.Instruction{}, ErrInsufficientInputLamports
	}

	outputTreeIndex := remaining.indexOf(args.OutputStateTree)
	outputs := []OutputCompressedAccountWithPackedContext{
		newOutputAccount(accounts.ToAddress, args.Lamports, outputTreeIndex),
	}
	if change := total - args.Lamports; change > 0 {
		outputs = append(outputs, newOutputAccount(accounts.Payer, change, outputTreeIndex))
	}

	proof := args.Proof
	return NewInvokeInstruction(
		&InvokeInstructionAccounts{
			FeePayer:          accounts.Payer,
			Authority:         accounts.Payer,
			RemainingAccounts: remaining.keys,
		},
		&InstructionDataInvoke{
			Proof:                                    &proof,
			InputCompressedAccountsWithMerkleContext: inputs,
			OutputCompressedAccounts:                 outputs,
		},
	)
}
