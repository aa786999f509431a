package solana

import (
	"bytes"
	"crypto/ed25519"
	"sort"

	"github.com/pkg/errors"
)

var (
	ErrIncorrectProgram     = errors.New("incorrect program")
	ErrIncorrectInstruction = errors.New("incorrect instruction")
)

// AccountMeta describes how an instruction uses an account
type AccountMeta struct {
	PublicKey  ed25519.PublicKey
	IsSigner   bool
	IsWritable bool
	isPayer    bool
	isProgram  bool
}

// NewAccountMeta returns a writable account reference
func NewAccountMeta(pub ed25519.PublicKey, isSigner bool) AccountMeta {
	return AccountMeta{
		PublicKey:  pub,
		IsSigner:   isSigner,
		IsWritable: true,
	}
}

// NewReadonlyAccountMeta returns a readonly account reference
func NewReadonlyAccountMeta(pub ed25519.PublicKey, isSigner bool) AccountMeta {
	return AccountMeta{
		PublicKey: pub,
		IsSigner:  isSigner,
	}
}

// orderAccounts merges duplicate references, promoting the strongest
// permission, and orders the result the way the runtime expects: payer,
// writable signers, readonly signers, writable, readonly, then programs that
// are only invoked.
//
// Reference: https://docs.solana.com/transaction#account-addresses-format
func orderAccounts(accounts []AccountMeta) []AccountMeta {
	merged := make([]AccountMeta, 0, len(accounts))
	positions := make(map[string]int, len(accounts))

	for _, account := range accounts {
		key := string(account.PublicKey)
		i, ok := positions[key]
		if !ok {
			positions[key] = len(merged)
			merged = append(merged, account)
			continue
		}

		existing := &merged[i]
		existing.IsSigner = existing.IsSigner || account.IsSigner
		existing.IsWritable = existing.IsWritable || account.IsWritable
		existing.isPayer = existing.isPayer || account.isPayer
		existing.isProgram = existing.isProgram && account.isProgram
	}

	sort.SliceStable(merged, func(i, j int) bool {
		ri, rj := merged[i].rank(), merged[j].rank()
		if ri != rj {
			return ri < rj
		}
		return bytes.Compare(merged[i].PublicKey, merged[j].PublicKey) < 0
	})
	return merged
}

func (a AccountMeta) rank() int {
	switch {
	case a.isPayer:
		return 0
	case a.isProgram:
		return 5
	case a.IsSigner && a.IsWritable:
		return 1
	case a.IsSigner:
		return 2
	case a.IsWritable:
		return 3
	default:
		return 4
	}
}

type Instruction struct {
	Program  ed25519.PublicKey
	Accounts []AccountMeta
	Data     []byte
}

func NewInstruction(program ed25519.PublicKey, data []byte, accounts ...AccountMeta) Instruction {
	return Instruction{
		Program:  program,
		Data:     data,
		Accounts: accounts,
	}
}

// CompiledInstruction references its program and accounts by index into the
// message account list.
type CompiledInstruction struct {
	ProgramIndex byte
	Accounts     []byte
	Data         []byte
}

// DecompileInstruction resolves the compiled instruction at index back into
// account metas using the message header permissions.
func (m *Message) DecompileInstruction(index int) (Instruction, error) {
	if index < 0 || index >= len(m.Instructions) {
		return Instruction{}, ErrIncorrectInstruction
	}

	c := m.Instructions[index]
	if int(c.ProgramIndex) >= len(m.Accounts) {
		return Instruction{}, ErrIncorrectProgram
	}

	ix := Instruction{
		Program:  m.Accounts[c.ProgramIndex],
		Data:     c.Data,
		Accounts: make([]AccountMeta, len(c.Accounts)),
	}
	for i, accountIndex := range c.Accounts {
		if int(accountIndex) >= len(m.Accounts) {
			return Instruction{}, ErrIncorrectInstruction
		}
		ix.Accounts[i] = AccountMeta{
			PublicKey:  m.Accounts[accountIndex],
			IsSigner:   m.IsSigner(int(accountIndex)),
			IsWritable: m.IsWritable(int(accountIndex)),
		}
	}
	return ix, nil
}
