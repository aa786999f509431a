// Package merkletree implements an append-only sha256 merkle tree with a
// bounded root history, used to model the state trees that hold compressed
// accounts.
package merkletree

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"
)

type Hash []byte
type Seed []byte
type Leaf []byte

const (
	MaxLevels = 63

	// DefaultRootHistorySize matches the root history kept by the state
	// trees backing compressed accounts.
	DefaultRootHistorySize = 2400
)

var (
	ErrMerkleTreeFull     = errors.New("merkle tree is full")
	ErrInvalidLevelCount  = errors.New("level count is invalid")
	ErrInvalidHistorySize = errors.New("root history size is invalid")
	ErrLeafNotFound       = errors.New("leaf not found")
	ErrRootNotFound       = errors.New("root not found")
)

// MerkleTree is an append-only in-memory merkle tree. Every append records the
// new root in a ring buffer addressed by root index, so proofs against a
// recent root stay verifiable after more leaves arrive.
//
// Pairs are hashed in sorted order, which lets Verify work without knowing
// the leaf position.
type MerkleTree struct {
	levels uint8

	// zeros[h] is the root of an empty subtree of height h
	zeros []Hash
	// frontier[h] is the most recent completed left node at height h
	frontier []Hash
	leaves   []Hash

	history []Hash
	head    uint16
}

func New(levels uint8, rootHistorySize uint16, seeds ...Seed) (*MerkleTree, error) {
	if levels < 1 || levels > MaxLevels {
		return nil, ErrInvalidLevelCount
	}
	if rootHistorySize == 0 {
		return nil, ErrInvalidHistorySize
	}

	zeros := make([]Hash, levels+1)
	zeros[0] = hash(bytes.Join(toBytes(seeds), nil))
	for h := 1; h <= int(levels); h++ {
		zeros[h] = hashPair(zeros[h-1], zeros[h-1])
	}

	t := &MerkleTree{
		levels:   levels,
		zeros:    zeros,
		frontier: make([]Hash, levels),
		history:  make([]Hash, rootHistorySize),
	}
	t.history[0] = zeros[levels]
	return t, nil
}

// AddLeaf appends a leaf and returns its index
func (t *MerkleTree) AddLeaf(leaf Leaf) (uint64, error) {
	index := uint64(len(t.leaves))
	if index >= uint64(1)<<t.levels {
		return 0, ErrMerkleTreeFull
	}

	node := hash(leaf)
	t.leaves = append(t.leaves, node)

	for h := uint8(0); h < t.levels; h++ {
		if (index>>h)&1 == 0 {
			t.frontier[h] = node
			node = hashPair(node, t.zeros[h])
		} else {
			node = hashPair(t.frontier[h], node)
		}
	}

	t.head = uint16((int(t.head) + 1) % len(t.history))
	t.history[t.head] = node
	return index, nil
}

func (t *MerkleTree) GetRoot() Hash {
	return clone(t.history[t.head])
}

// GetRootIndex returns the position of the current root in the root history
func (t *MerkleTree) GetRootIndex() uint16 {
	return t.head
}

// GetRootAtIndex returns a root from the history. Entries are overwritten once
// more than the history size leaves have been appended.
func (t *MerkleTree) GetRootAtIndex(index uint16) (Hash, error) {
	if int(index) >= len(t.history) || t.history[index] == nil {
		return nil, ErrRootNotFound
	}
	return clone(t.history[index]), nil
}

func (t *MerkleTree) GetIndexForLeaf(leaf Leaf) (int, error) {
	target := hash(leaf)
	for i, candidate := range t.leaves {
		if bytes.Equal(candidate, target) {
			return i, nil
		}
	}
	return 0, ErrLeafNotFound
}

func (t *MerkleTree) GetLeafCount() uint64 {
	return uint64(len(t.leaves))
}

// GetProofForLeafAtIndex returns the proof for forLeaf against the root the
// tree had right after untilLeaf was appended.
func (t *MerkleTree) GetProofForLeafAtIndex(forLeaf, untilLeaf uint64) ([]Hash, error) {
	if untilLeaf >= t.GetLeafCount() {
		return nil, ErrLeafNotFound
	}
	if forLeaf > untilLeaf {
		return nil, errors.Errorf("leaf %d was appended after leaf %d", forLeaf, untilLeaf)
	}

	proof := make([]Hash, t.levels)
	for h := uint8(0); h < t.levels; h++ {
		sibling := (forLeaf >> h) ^ 1
		proof[h] = t.node(h, sibling, untilLeaf+1)
	}
	return proof, nil
}

// GetProof returns the proof for a leaf against the current root
func (t *MerkleTree) GetProof(leafIndex uint64) ([]Hash, error) {
	if len(t.leaves) == 0 {
		return nil, ErrLeafNotFound
	}
	return t.GetProofForLeafAtIndex(leafIndex, t.GetLeafCount()-1)
}

// node returns the node at height h and position index in the tree formed by
// the first size leaves.
func (t *MerkleTree) node(h uint8, index, size uint64) Hash {
	if index<<h >= size {
		return t.zeros[h]
	}
	if h == 0 {
		return t.leaves[index]
	}
	return hashPair(t.node(h-1, 2*index, size), t.node(h-1, 2*index+1, size))
}

// Verify reports whether proof links leaf to root
func Verify(proof []Hash, root Hash, leaf Leaf) bool {
	node := hash(leaf)
	for _, sibling := range proof {
		node = hashPair(node, sibling)
	}
	return bytes.Equal(node, root)
}

func (h Hash) String() string {
	return hex.EncodeToString(h)
}

func hashPair(a, b Hash) Hash {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}

	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

func hash(value []byte) Hash {
	sum := sha256.Sum256(value)
	return sum[:]
}

func clone(h Hash) Hash {
	return append(Hash(nil), h...)
}

func toBytes(seeds []Seed) [][]byte {
	out := make([][]byte, len(seeds))
	for i, seed := range seeds {
		out[i] = seed
	}
	return out
}
