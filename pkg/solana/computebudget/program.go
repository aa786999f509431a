package compute_budget

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana"
)

// ComputeBudget111111111111111111111111111111
var ProgramKey = ed25519.PublicKey{3, 6, 70, 111, 229, 33, 23, 50, 255, 236, 173, 186, 114, 195, 155, 231, 188, 140, 229, 187, 197, 247, 18, 107, 44, 67, 155, 58, 64, 0, 0, 0}

const (
	commandRequestUnits uint8 = iota
	commandRequestHeapFrame
	commandSetComputeUnitLimit
	commandSetComputeUnitPrice
)

// MaxComputeUnitLimit is the largest limit a transaction may request
const MaxComputeUnitLimit = 1_400_000

func SetComputeUnitLimit(computeUnitLimit uint32) solana.Instruction {
	data := make([]byte, 1+4)
	data[0] = commandSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], computeUnitLimit)

	return solana.NewInstruction(ProgramKey, data)
}

func SetComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 1+8)
	data[0] = commandSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)

	return solana.NewInstruction(ProgramKey, data)
}

// ParseSetComputeUnitLimit extracts the requested limit from a compute budget instruction
func ParseSetComputeUnitLimit(ix solana.Instruction) (uint32, error) {
	if !bytes.Equal(ix.Program, ProgramKey) {
		return 0, solana.ErrIncorrectProgram
	}
	if len(ix.Data) != 5 || ix.Data[0] != commandSetComputeUnitLimit {
		return 0, errors.Wrap(solana.ErrIncorrectInstruction, "not a SetComputeUnitLimit instruction")
	}

	return binary.LittleEndian.Uint32(ix.Data[1:]), nil
}

// ParseSetComputeUnitPrice extracts the priority fee from a compute budget instruction
func ParseSetComputeUnitPrice(ix solana.Instruction) (uint64, error) {
	if !bytes.Equal(ix.Program, ProgramKey) {
		return 0, solana.ErrIncorrectProgram
	}
	if len(ix.Data) != 9 || ix.Data[0] != commandSetComputeUnitPrice {
		return 0, errors.Wrap(solana.ErrIncorrectInstruction, "not a SetComputeUnitPrice instruction")
	}

	return binary.LittleEndian.Uint64(ix.Data[1:]), nil
}
