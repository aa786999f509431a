package lightsystem

import (
	"github.com/pkg/errors"
)

const (
	CompressedProofSize = 32 + 64 + 32
)

// CompressedProof is a compressed Groth16 proof over the BN254 curve
type CompressedProof struct {
	A [32]byte
	B [64]byte
	C [32]byte
}

// NewCompressedProof assembles a proof from its component points
func NewCompressedProof(a, b, c []byte) (*CompressedProof, error) {
	var proof CompressedProof
	if len(a) != len(proof.A) || len(b) != len(proof.B) || len(c) != len(proof.C) {
		return nil, errors.Errorf("invalid proof component lengths: a=%d b=%d c=%d", len(a), len(b), len(c))
	}

	copy(proof.A[:], a)
	copy(proof.B[:], b)
	copy(proof.C[:], c)
	return &proof, nil
}
