package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"hash"
)

const (
	HashSize = sha256.Size
)

var (
	MaxHash = bytes.Repeat([]byte{0xFF}, HashSize)

	ErrEmptyTree      = errors.New("merkle tree has no leaves")
	ErrIndexOutOfTree = errors.New("leaf index is outside the merkle tree")
)

// Hasher() returns the global hashing algorithm used
func Hasher() hash.Hash { return sha256.New() }

// Hash() executes the global hashing algorithm on input bytes
func Hash(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// HashString() returns the hex version of a hash
func HashString(msg []byte) string { return hex.EncodeToString(Hash(msg)) }

// MerkleTree creates a merkle tree from a slice of bytes. A linear slice was
// chosen since it uses about half as much memory as a pointer tree and keeps
// reconstruction deterministic.
// example: items = {a, b, c, d} -> store = {H(a), H(b), H(c), H(d), H(H(a),H(b)), H(H(c),H(d)), H(H(H(a),H(b)),H(H(c),H(d))) }
func MerkleTree(items [][]byte) (root []byte, store [][]byte, err error) {
	if len(items) == 0 {
		return []byte{}, [][]byte{}, nil
	}
	// calculate how many entries are required to hold the binary merkle
	// tree as a linear array and create a slice of that size
	offset := nextPowerOfTwo(len(items))
	// calculate the length of the tree
	size := offset*2 - 1
	// initialize the store to populate the tree with
	store = make([][]byte, size)
	// create the base hashes and populate the slice with them
	for i, item := range items {
		store[i] = Hash(item)
	}
	for i := 0; i < size-1; i += 2 {
		switch {
		// normal case, parent = hash(Concat(left, right))
		default:
			store[offset] = Hash(concat(store[i], store[i+1]))

		// no left or right child, so the parent is going to be nil
		case store[i] == nil:
			store[offset] = nil

		// no right child, parent = hash(Concat(left, left))
		case store[i+1] == nil:
			store[offset] = Hash(concat(store[i], store[i]))
		}
		offset++
	}
	return store[size-1], store, nil
}

// MerkleProof is the sibling-hash path from a leaf to the root
type MerkleProof struct {
	Index    uint64   `json:"index"`    // position of the leaf within the leaf level
	Siblings [][]byte `json:"siblings"` // sibling hash per level, bottom-up
}

// ProveMerkle() extracts the sibling-hash path for the leaf at index from a
// linear tree produced by MerkleTree(); an unmatched final leaf duplicates itself
func ProveMerkle(store [][]byte, index int) (*MerkleProof, error) {
	if len(store) == 0 {
		return nil, ErrEmptyTree
	}
	// recover the leaf level width from the linear layout: size = 2*offset-1
	offset := (len(store) + 1) / 2
	if index < 0 || index >= offset || store[index] == nil {
		return nil, ErrIndexOutOfTree
	}
	proof := &MerkleProof{Index: uint64(index)}
	levelStart, levelSize, pos := 0, offset, index
	for levelSize > 1 {
		sibling := store[levelStart+(pos^1)]
		if sibling == nil {
			// no right child: the node was combined with itself
			sibling = store[levelStart+pos]
		}
		proof.Siblings = append(proof.Siblings, sibling)
		levelStart += levelSize
		levelSize /= 2
		pos /= 2
	}
	return proof, nil
}

// VerifyMerkleProof() recomputes the root from the supplied sibling-hash path
// and compares it against the expected root
func VerifyMerkleProof(root, leaf []byte, proof *MerkleProof) bool {
	if proof == nil || len(root) == 0 {
		return false
	}
	h, pos := Hash(leaf), proof.Index
	for _, sibling := range proof.Siblings {
		if pos&1 == 0 {
			h = Hash(concat(h, sibling))
		} else {
			h = Hash(concat(sibling, h))
		}
		pos >>= 1
	}
	return bytes.Equal(h, root)
}

// nextPowerOfTwo() calculates the smallest power of 2 that is greater than or equal to the input value
func nextPowerOfTwo(v int) int {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// concat() concatenates two byte slices
func concat(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}
