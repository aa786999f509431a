package photon

import (
	"crypto/ed25519"
	"encoding/base64"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/shield-server/pkg/solana/lightsystem"
)

const (
	HashSize = 32
)

// Hash is the content hash of a compressed account leaf
type Hash [HashSize]byte

func (h Hash) String() string {
	return base58.Encode(h[:])
}

// HashFromBase58 parses a base58 encoded leaf hash
func HashFromBase58(value string) (Hash, error) {
	var h Hash

	decoded, err := base58.Decode(value)
	if err != nil {
		return h, errors.Wrap(err, "invalid base58 hash")
	}
	if len(decoded) != HashSize {
		return h, errors.Errorf("invalid hash length: %d", len(decoded))
	}

	copy(h[:], decoded)
	return h, nil
}

// CompressedAccount is a leaf in a state tree holding lamports and optional
// program data for its owner.
type CompressedAccount struct {
	Hash        Hash
	Address     []byte
	Data        *lightsystem.CompressedAccountData
	Owner       ed25519.PublicKey
	Lamports    uint64
	Tree        ed25519.PublicKey
	LeafIndex   uint32
	Seq         *uint64
	SlotCreated uint64
}

// ValidityProof proves inclusion of a set of leaves at the returned root
// indices. Slices are ordered as the hashes in the request.
type ValidityProof struct {
	CompressedProof *lightsystem.CompressedProof
	Roots           []Hash
	RootIndices     []uint16
	LeafIndices     []uint32
	Leaves          []Hash
	MerkleTrees     []ed25519.PublicKey
}

type jsonAccountData struct {
	Discriminator uint64 `json:"discriminator"`
	Data          string `json:"data"`
	DataHash      string `json:"dataHash"`
}

type jsonCompressedAccount struct {
	Hash        string           `json:"hash"`
	Address     *string          `json:"address"`
	Data        *jsonAccountData `json:"data"`
	Owner       string           `json:"owner"`
	Lamports    uint64           `json:"lamports"`
	Tree        string           `json:"tree"`
	LeafIndex   uint32           `json:"leafIndex"`
	Seq         *uint64          `json:"seq"`
	SlotCreated uint64           `json:"slotCreated"`
}

func (a *jsonCompressedAccount) toCompressedAccount() (*CompressedAccount, error) {
	hash, err := HashFromBase58(a.Hash)
	if err != nil {
		return nil, err
	}

	owner, err := decodePublicKey(a.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "invalid owner")
	}

	tree, err := decodePublicKey(a.Tree)
	if err != nil {
		return nil, errors.Wrap(err, "invalid tree")
	}

	res := &CompressedAccount{
		Hash:        hash,
		Owner:       owner,
		Lamports:    a.Lamports,
		Tree:        tree,
		LeafIndex:   a.LeafIndex,
		Seq:         a.Seq,
		SlotCreated: a.SlotCreated,
	}

	if a.Address != nil {
		res.Address, err = base58.Decode(*a.Address)
		if err != nil {
			return nil, errors.Wrap(err, "invalid address")
		}
	}

	if a.Data != nil {
		data, err := base64.StdEncoding.DecodeString(a.Data.Data)
		if err != nil {
			return nil, errors.Wrap(err, "invalid account data")
		}

		dataHash, err := HashFromBase58(a.Data.DataHash)
		if err != nil {
			return nil, errors.Wrap(err, "invalid data hash")
		}

		res.Data = &lightsystem.CompressedAccountData{
			Data:     data,
			DataHash: dataHash,
		}
		putDiscriminator(res.Data, a.Data.Discriminator)
	}

	return res, nil
}

// Proof points are encoded as arrays of numbers rather than base64
type jsonCompressedProof struct {
	A []int `json:"a"`
	B []int `json:"b"`
	C []int `json:"c"`
}

type jsonValidityProof struct {
	CompressedProof *jsonCompressedProof `json:"compressedProof"`
	Roots           []string             `json:"roots"`
	RootIndices     []uint16             `json:"rootIndices"`
	LeafIndices     []uint32             `json:"leafIndices"`
	Leaves          []string             `json:"leaves"`
	MerkleTrees     []string             `json:"merkleTrees"`
}

func (p *jsonValidityProof) toValidityProof() (*ValidityProof, error) {
	if p.CompressedProof == nil {
		return nil, errors.New("missing compressed proof")
	}

	var points [3][]byte
	for i, point := range [][]int{p.CompressedProof.A, p.CompressedProof.B, p.CompressedProof.C} {
		for _, v := range point {
			if v < 0 || v > 255 {
				return nil, errors.Errorf("invalid proof byte: %d", v)
			}
			points[i] = append(points[i], byte(v))
		}
	}

	compressedProof, err := lightsystem.NewCompressedProof(points[0], points[1], points[2])
	if err != nil {
		return nil, err
	}

	res := &ValidityProof{
		CompressedProof: compressedProof,
		RootIndices:     p.RootIndices,
		LeafIndices:     p.LeafIndices,
	}

	for _, root := range p.Roots {
		decoded, err := HashFromBase58(root)
		if err != nil {
			return nil, errors.Wrap(err, "invalid root")
		}
		res.Roots = append(res.Roots, decoded)
	}

	for _, leaf := range p.Leaves {
		decoded, err := HashFromBase58(leaf)
		if err != nil {
			return nil, errors.Wrap(err, "invalid leaf")
		}
		res.Leaves = append(res.Leaves, decoded)
	}

	for _, tree := range p.MerkleTrees {
		decoded, err := decodePublicKey(tree)
		if err != nil {
			return nil, errors.Wrap(err, "invalid merkle tree")
		}
		res.MerkleTrees = append(res.MerkleTrees, decoded)
	}

	return res, nil
}

func decodePublicKey(value string) (ed25519.PublicKey, error) {
	decoded, err := base58.Decode(value)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, errors.Errorf("invalid public key length: %d", len(decoded))
	}
	return decoded, nil
}

// The indexer returns the discriminator as a little endian u64
func putDiscriminator(data *lightsystem.CompressedAccountData, value uint64) {
	for i := range data.Discriminator {
		data.Discriminator[i] = byte(value >> (8 * i))
	}
}
