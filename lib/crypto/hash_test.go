package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMerkleTree(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		items  [][]byte
	}{
		{
			name:   "single leaf",
			detail: "the root of a one-leaf tree is the leaf hash itself",
			items:  [][]byte{[]byte("a")},
		},
		{
			name:   "even leaves",
			detail: "a full bottom level pairs every leaf",
			items:  [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")},
		},
		{
			name:   "odd leaves",
			detail: "an unmatched final leaf is combined with itself",
			items:  [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root, store, err := MerkleTree(test.items)
			require.NoError(t, err)
			require.Len(t, root, HashSize)
			// identical input must always reproduce the identical tree
			root2, store2, err := MerkleTree(test.items)
			require.NoError(t, err)
			require.Equal(t, root, root2)
			require.Equal(t, store, store2)
		})
	}
}

func TestMerkleTreeEmpty(t *testing.T) {
	root, store, err := MerkleTree(nil)
	require.NoError(t, err)
	require.Empty(t, root)
	require.Empty(t, store)
}

func TestMerkleTreeStructure(t *testing.T) {
	// 4 leaves: store = {H(a) H(b) H(c) H(d) H(H(a)H(b)) H(H(c)H(d)) root}
	items := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	root, store, err := MerkleTree(items)
	require.NoError(t, err)
	require.Len(t, store, 7)
	left := Hash(concat(store[0], store[1]))
	right := Hash(concat(store[2], store[3]))
	require.Equal(t, left, store[4])
	require.Equal(t, right, store[5])
	require.Equal(t, Hash(concat(left, right)), root)
}

func TestMerkleTreeOddDuplicatesLastLeaf(t *testing.T) {
	items := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	_, store, err := MerkleTree(items)
	require.NoError(t, err)
	// the unmatched third leaf pairs with itself
	require.Equal(t, Hash(concat(store[2], store[2])), store[5])
}

func TestMerkleProofRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 5, 8, 13} {
		items := make([][]byte, n)
		for i := range items {
			items[i] = []byte{byte(i)}
		}
		root, store, err := MerkleTree(items)
		require.NoError(t, err)
		for i := range items {
			proof, err := ProveMerkle(store, i)
			require.NoError(t, err)
			require.True(t, VerifyMerkleProof(root, items[i], proof), "n=%d i=%d", n, i)
			// the proof must not verify a different leaf
			require.False(t, VerifyMerkleProof(root, []byte("tampered"), proof))
		}
	}
}

func TestMerkleProofStaleTree(t *testing.T) {
	items := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	_, store, err := MerkleTree(items)
	require.NoError(t, err)
	proof, err := ProveMerkle(store, 1)
	require.NoError(t, err)
	// a proof from the old tree must fail against the root without the leaf
	newRoot, _, err := MerkleTree([][]byte{[]byte("a"), []byte("c"), []byte("d")})
	require.NoError(t, err)
	require.False(t, VerifyMerkleProof(newRoot, items[1], proof))
}

func TestMerkleProofBadIndex(t *testing.T) {
	_, store, err := MerkleTree([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.NoError(t, err)
	_, err = ProveMerkle(store, -1)
	require.ErrorIs(t, err, ErrIndexOutOfTree)
	_, err = ProveMerkle(store, 3) // the padding slot, not a real leaf
	require.ErrorIs(t, err, ErrIndexOutOfTree)
	_, err = ProveMerkle(nil, 0)
	require.ErrorIs(t, err, ErrEmptyTree)
}
