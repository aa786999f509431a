package lightsystem

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana"
)

const invokeFixedAccountCount = 9

// DecompiledInvoke is an invoke instruction resolved back into its accounts
// and arguments.
type DecompiledInvoke struct {
	FeePayer               ed25519.PublicKey
	Authority              ed25519.PublicKey
	SolPoolPda             ed25519.PublicKey
	DecompressionRecipient ed25519.PublicKey
	RemainingAccounts      []ed25519.PublicKey

	Data InstructionDataInvoke
}

// IsInvokeInstruction reports whether ix targets the light system program invoke handler
func IsInvokeInstruction(ix solana.Instruction) bool {
	return bytes.Equal(ix.Program, PROGRAM_ADDRESS) &&
		len(ix.Data) >= len(invokeInstructionDiscriminator) &&
		bytes.Equal(ix.Data[:len(invokeInstructionDiscriminator)], invokeInstructionDiscriminator)
}

// DecompileInvoke decompiles the instruction at index within the message
func DecompileInvoke(m solana.Message, index int) (*DecompiledInvoke, error) {
	ix, err := m.DecompileInstruction(index)
	if err != nil {
		return nil, err
	}
	return DecodeInvokeInstruction(ix)
}

// DecodeInvokeInstruction resolves an invoke instruction into its accounts and arguments
func DecodeInvokeInstruction(ix solana.Instruction) (*DecompiledInvoke, error) {
	if !bytes.Equal(ix.Program, PROGRAM_ADDRESS) {
		return nil, solana.ErrIncorrectProgram
	}
	if len(ix.Accounts) < invokeFixedAccountCount {
		return nil, errors.Wrapf(solana.ErrIncorrectInstruction, "expected at least %d accounts, got %d", invokeFixedAccountCount, len(ix.Accounts))
	}

	var decompiled DecompiledInvoke
	if err := decompiled.Data.Unmarshal(ix.Data); err != nil {
		return nil, errors.Wrap(solana.ErrIncorrectInstruction, err.Error())
	}

	if !ix.Accounts[0].IsSigner || !ix.Accounts[1].IsSigner {
		return nil, errors.Wrap(solana.ErrIncorrectInstruction, "fee payer and authority must sign")
	}

	decompiled.FeePayer = ix.Accounts[0].PublicKey
	decompiled.Authority = ix.Accounts[1].PublicKey
	decompiled.SolPoolPda = optionalAccount(ix.Accounts[6].PublicKey)
	decompiled.DecompressionRecipient = optionalAccount(ix.Accounts[7].PublicKey)
	for _, account := range ix.Accounts[invokeFixedAccountCount:] {
		decompiled.RemainingAccounts = append(decompiled.RemainingAccounts, account.PublicKey)
	}

	return &decompiled, nil
}

// RemainingAccount resolves a packed account index
func (d *DecompiledInvoke) RemainingAccount(index uint8) (ed25519.PublicKey, error) {
	if int(index) >= len(d.RemainingAccounts) {
		return nil, errors.Errorf("remaining account index %d out of range", index)
	}
	return d.RemainingAccounts[index], nil
}

func optionalAccount(account ed25519.PublicKey) ed25519.PublicKey {
	if bytes.Equal(account, PROGRAM_ADDRESS) {
		return nil
	}
	return account
}
