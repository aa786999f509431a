package merkletree

import (
	"bytes"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerkleTree_AllProofs(t *testing.T) {
	levels := uint8(4)

	tree, err := New(levels, DefaultRootHistorySize, Seed("test_seed"))
	require.NoError(t, err)

	var leaves [][]byte
	for i := 0; i < int(math.Pow(2, float64(levels))); i++ {
		leaves = append(leaves, []byte(fmt.Sprintf("leaf%d", i)))
	}

	roots := make([][]byte, 0)
	for i, leaf := range leaves {
		_, err = tree.GetIndexForLeaf(leaf)
		assert.Equal(t, ErrLeafNotFound, err)

		leafIndex, err := tree.AddLeaf(leaf)
		require.NoError(t, err)
		assert.EqualValues(t, i, leafIndex)
		assert.EqualValues(t, i+1, tree.GetLeafCount())

		index, err := tree.GetIndexForLeaf(leaf)
		require.NoError(t, err)
		assert.Equal(t, i, index)

		roots = append(roots, tree.GetRoot())

		for untilLeaf := 0; untilLeaf < int(tree.GetLeafCount()); untilLeaf++ {
			for forLeaf := 0; forLeaf < untilLeaf; forLeaf++ {
				proof, err := tree.GetProofForLeafAtIndex(uint64(forLeaf), uint64(untilLeaf))
				require.NoError(t, err)

				for _, root := range roots {
					for _, leaf := range leaves {
						expected := bytes.Equal(root, roots[untilLeaf]) && bytes.Equal(leaf, leaves[forLeaf])
						assert.Equal(t, expected, Verify(proof, root, leaf))
					}
				}
			}
		}
	}

	_, err = tree.AddLeaf([]byte("leaf"))
	assert.Equal(t, ErrMerkleTreeFull, err)
}

func TestMerkleTree_RootHistory(t *testing.T) {
	tree, err := New(8, 4, Seed("history"))
	require.NoError(t, err)

	emptyRoot := tree.GetRoot()
	root, err := tree.GetRootAtIndex(0)
	require.NoError(t, err)
	assert.Equal(t, emptyRoot, root)

	_, err = tree.GetRootAtIndex(1)
	assert.Equal(t, ErrRootNotFound, err)

	var history []Hash
	for i := 0; i < 6; i++ {
		_, err := tree.AddLeaf([]byte(fmt.Sprintf("leaf%d", i)))
		require.NoError(t, err)
		history = append(history, tree.GetRoot())

		assert.EqualValues(t, (i+1)%4, tree.GetRootIndex())

		root, err := tree.GetRootAtIndex(tree.GetRootIndex())
		require.NoError(t, err)
		assert.Equal(t, tree.GetRoot(), root)

		proof, err := tree.GetProof(uint64(i))
		require.NoError(t, err)
		assert.True(t, Verify(proof, root, []byte(fmt.Sprintf("leaf%d", i))))
	}

	// Index 1 has been overwritten by the fifth leaf's root
	root, err = tree.GetRootAtIndex(1)
	require.NoError(t, err)
	assert.Equal(t, history[4], root)

	_, err = tree.GetRootAtIndex(4)
	assert.Equal(t, ErrRootNotFound, err)
}

func TestMerkleTree_InvalidConfig(t *testing.T) {
	_, err := New(0, 1)
	assert.Equal(t, ErrInvalidLevelCount, err)

	_, err = New(MaxLevels+1, 1)
	assert.Equal(t, ErrInvalidLevelCount, err)

	_, err = New(8, 0)
	assert.Equal(t, ErrInvalidHistorySize, err)

	tree, err := New(8, 1)
	require.NoError(t, err)
	_, err = tree.GetProof(0)
	assert.Equal(t, ErrLeafNotFound, err)
}
