package lightsystem

import (
	"bytes"
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/pkg/errors"
)

// InstructionDataInvoke is the Borsh encoded argument to the invoke instruction
type InstructionDataInvoke struct {
	Proof                                    *CompressedProof `bin:"optional"`
	InputCompressedAccountsWithMerkleContext []PackedCompressedAccountWithMerkleContext
	OutputCompressedAccounts                 []OutputCompressedAccountWithPackedContext
	RelayFee                                 *uint64 `bin:"optional"`
	NewAddressParams                         []NewAddressParamsPacked
	CompressOrDecompressLamports             *uint64 `bin:"optional"`
	IsCompress                               bool
}

// Marshal encodes the full instruction data: the anchor discriminator followed
// by the Borsh payload as a length prefixed byte vector.
func (d *InstructionDataInvoke) Marshal() ([]byte, error) {
	var payload bytes.Buffer
	if err := bin.NewBorshEncoder(&payload).Encode(d); err != nil {
		return nil, errors.Wrap(err, "error encoding invoke instruction data")
	}

	data := make([]byte, 0, len(invokeInstructionDiscriminator)+4+payload.Len())
	data = append(data, invokeInstructionDiscriminator...)
	data = binary.LittleEndian.AppendUint32(data, uint32(payload.Len()))
	data = append(data, payload.Bytes()...)
	return data, nil
}

// Unmarshal decodes instruction data produced by Marshal
func (d *InstructionDataInvoke) Unmarshal(data []byte) error {
	prefixSize := len(invokeInstructionDiscriminator) + 4
	if len(data) < prefixSize {
		return errors.New("invoke instruction data too short")
	}
	if !bytes.Equal(data[:len(invokeInstructionDiscriminator)], invokeInstructionDiscriminator) {
		return errors.New("invalid invoke instruction discriminator")
	}

	size := binary.LittleEndian.Uint32(data[len(invokeInstructionDiscriminator):prefixSize])
	if uint64(len(data)-prefixSize) != uint64(size) {
		return errors.Errorf("invoke payload length mismatch: header=%d actual=%d", size, len(data)-prefixSize)
	}

	if err := bin.NewBorshDecoder(data[prefixSize:]).Decode(d); err != nil {
		return errors.Wrap(err, "error decoding invoke instruction data")
	}
	return nil
}
