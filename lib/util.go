package lib

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/lattice-labs/lattice/lib/crypto"
)

/* This file contains small shared helpers: hex bytes, marshaling, and merkle wrappers */

// HexBytes represents a byte slice that marshals to and from hex strings in JSON
type HexBytes []byte

// NewHexBytesFromString() converts a hexadecimal string into HexBytes
func NewHexBytesFromString(s string) (HexBytes, ErrorI) {
	bz, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrJSONUnmarshal(err)
	}
	return bz, nil
}

// String() returns the HexBytes as a hexadecimal string
func (x HexBytes) String() string { return hex.EncodeToString(x) }

// MarshalJSON() serializes the HexBytes to a JSON byte slice
func (x HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(x))
}

// UnmarshalJSON() deserializes a JSON byte slice into HexBytes
func (x *HexBytes) UnmarshalJSON(b []byte) (err error) {
	var s string
	if err = json.Unmarshal(b, &s); err != nil {
		return err
	}
	*x, err = hex.DecodeString(s)
	return
}

// Marshal() converts an object into JSON bytes
func Marshal(v any) ([]byte, ErrorI) {
	bz, err := json.Marshal(v)
	if err != nil {
		return nil, ErrJSONMarshal(err)
	}
	return bz, nil
}

// Unmarshal() populates an object from JSON bytes
func Unmarshal(bz []byte, v any) ErrorI {
	if err := json.Unmarshal(bz, v); err != nil {
		return ErrJSONUnmarshal(err)
	}
	return nil
}

// Uint64ToBytes() encodes a uint64 as big-endian bytes, preserving lexicographical order
func Uint64ToBytes(u uint64) []byte {
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, u)
	return bz
}

// BytesToUint64() decodes big-endian bytes into a uint64
func BytesToUint64(bz []byte) uint64 { return binary.BigEndian.Uint64(bz) }

// Append() joins two byte slices into a newly allocated slice
func Append(a, b []byte) []byte {
	out := make([]byte, len(a)+len(b))
	copy(out, a)
	copy(out[len(a):], b)
	return out
}

// MerkleTree() generates a Merkle tree and its root from a list of items
func MerkleTree(items [][]byte) (root []byte, tree [][]byte, err ErrorI) {
	root, tree, er := crypto.MerkleTree(items)
	if er != nil {
		return nil, nil, ErrMerkleTree(er)
	}
	return
}
