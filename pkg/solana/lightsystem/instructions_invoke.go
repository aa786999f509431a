package lightsystem

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana"
)

var (
	ErrInsufficientInputLamports = errors.New("input lamports do not cover the requested amount")
	ErrNoInputAccounts           = errors.New("at least one input account is required")
	ErrInvalidAmount             = errors.New("lamport amount must be positive")
)

// InputAccount is a compressed account being consumed, along with the merkle
// context its validity proof was generated against.
type InputAccount struct {
	Owner          ed25519.PublicKey
	Lamports       uint64
	Address        []byte
	Data           *CompressedAccountData
	MerkleTree     ed25519.PublicKey
	NullifierQueue ed25519.PublicKey
	LeafIndex      uint32
	RootIndex      uint16
}

type InvokeInstructionAccounts struct {
	FeePayer               ed25519.PublicKey
	Authority              ed25519.PublicKey
	SolPoolPda             ed25519.PublicKey
	DecompressionRecipient ed25519.PublicKey
	RemainingAccounts      []ed25519.PublicKey
}

// NewInvokeInstruction builds a raw invoke instruction. Optional accounts that
// are not set are replaced by the program address.
func NewInvokeInstruction(
	accounts *InvokeInstructionAccounts,
	args *InstructionDataInvoke,
) (solana.Instruction, error) {
	data, err := args.Marshal()
	if err != nil {
		return solana.Instruction{}, err
	}

	metas := []solana.AccountMeta{
		{
			PublicKey:  accounts.FeePayer,
			IsWritable: true,
			IsSigner:   true,
		},
		{
			PublicKey: accounts.Authority,
			IsSigner:  true,
		},
		{
			PublicKey: REGISTERED_PROGRAM_PDA_ADDRESS,
		},
		{
			PublicKey: NOOP_PROGRAM_ADDRESS,
		},
		{
			PublicKey: ACCOUNT_COMPRESSION_AUTHORITY_ADDRESS,
		},
		{
			PublicKey: ACCOUNT_COMPRESSION_PROGRAM_ADDRESS,
		},
		optionalAccountMeta(accounts.SolPoolPda),
		optionalAccountMeta(accounts.DecompressionRecipient),
		{
			PublicKey: SYSTEM_PROGRAM_ADDRESS,
		},
	}
	for _, remaining := range accounts.RemainingAccounts {
		metas = append(metas, solana.AccountMeta{
			PublicKey:  remaining,
			IsWritable: true,
		})
	}

	return solana.Instruction{
		Program:  PROGRAM_ADDRESS,
		Data:     data,
		Accounts: metas,
	}, nil
}

func optionalAccountMeta(account ed25519.PublicKey) solana.AccountMeta {
	if len(account) == 0 {
		return solana.AccountMeta{PublicKey: PROGRAM_ADDRESS}
	}
	return solana.AccountMeta{PublicKey: account, IsWritable: true}
}

// remainingAccounts assigns stable indices to trees and queues referenced by
// packed merkle contexts.
type remainingAccounts struct {
	keys []ed25519.PublicKey
}

func (r *remainingAccounts) indexOf(key ed25519.PublicKey) uint8 {
	for i, existing := range r.keys {
		if bytes.Equal(existing, key) {
			return uint8(i)
		}
	}

	r.keys = append(r.keys, key)
	return uint8(len(r.keys) - 1)
}

func packInputAccounts(inputs []InputAccount, remaining *remainingAccounts) ([]PackedCompressedAccountWithMerkleContext, uint64, error) {
	if len(inputs) == 0 {
		return nil, 0, ErrNoInputAccounts
	}

	var total uint64
	packed := make([]PackedCompressedAccountWithMerkleContext, len(inputs))
	for i, input := range inputs {
		if len(input.Owner) != ed25519.PublicKeySize {
			return nil, 0, errors.Errorf("input %d has an invalid owner", i)
		}
		if len(input.MerkleTree) != ed25519.PublicKeySize || len(input.NullifierQueue) != ed25519.PublicKeySize {
			return nil, 0, errors.Errorf("input %d has an invalid merkle context", i)
		}
		if total+input.Lamports < total {
			return nil, 0, errors.New("input lamports overflow")
		}
		total += input.Lamports

		account := CompressedAccount{
			Lamports: input.Lamports,
			Data:     input.Data,
		}
		copy(account.Owner[:], input.Owner)
		if len(input.Address) > 0 {
			if len(input.Address) != 32 {
				return nil, 0, errors.Errorf("input %d has an invalid address", i)
			}
			var address [32]byte
			copy(address[:], input.Address)
			account.Address = &address
		}

		packed[i] = PackedCompressedAccountWithMerkleContext{
			CompressedAccount: account,
			MerkleContext: PackedMerkleContext{
				MerkleTreePubkeyIndex:     remaining.indexOf(input.MerkleTree),
				NullifierQueuePubkeyIndex: remaining.indexOf(input.NullifierQueue),
				LeafIndex:                 input.LeafIndex,
			},
			RootIndex: input.RootIndex,
		}
	}

	return packed, total, nil
}

func newOutputAccount(owner ed25519.PublicKey, lamports uint64, treeIndex uint8) OutputCompressedAccountWithPackedContext {
	var account CompressedAccount
	copy(account.Owner[:], owner)
	account.Lamports = lamports

	return OutputCompressedAccountWithPackedContext{
		CompressedAccount: account,
		MerkleTreeIndex:   treeIndex,
	}
}
