package crypto

import (
	ed25519 "crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
)

const (
	Ed25519PrivKeySize   = ed25519.PrivateKeySize
	Ed25519PubKeySize    = ed25519.PublicKeySize
	Ed25519SignatureSize = ed25519.SignatureSize
)

// ED25519PrivateKey is the private key of a cryptographic key pair based on the
// Curve25519 elliptic curve, used to create digital signatures of messages
type ED25519PrivateKey struct{ ed25519.PrivateKey }

// NewEd25519PrivateKey() generates a new ED25519 private key
func NewEd25519PrivateKey() (*ED25519PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ED25519PrivateKey{PrivateKey: priv}, nil
}

// NewEd25519PrivateKeyFromBytes() wraps raw private key bytes
func NewEd25519PrivateKeyFromBytes(bz []byte) *ED25519PrivateKey {
	return &ED25519PrivateKey{PrivateKey: bz}
}

// Sign() produces an ed25519 signature over the message
func (p *ED25519PrivateKey) Sign(msg []byte) []byte { return ed25519.Sign(p.PrivateKey, msg) }

// PublicKey() returns the raw public key bytes of the pair
func (p *ED25519PrivateKey) PublicKey() []byte {
	return p.PrivateKey.Public().(ed25519.PublicKey)
}

// String() returns the hex representation of the private key
func (p *ED25519PrivateKey) String() string { return hex.EncodeToString(p.PrivateKey) }

// VerifyEd25519() checks an ed25519 signature against a message and raw public key bytes
func VerifyEd25519(msg, signature, publicKey []byte) bool {
	if len(publicKey) != Ed25519PubKeySize || len(signature) != Ed25519SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, msg, signature)
}

// Ed25519Verifier is a SignatureVerifier over ed25519 keys; the private key is
// used when signing migration and audit records
type Ed25519Verifier struct {
	key *ED25519PrivateKey
}

// NewEd25519Verifier() creates a verifier with a fresh signing key
func NewEd25519Verifier() (*Ed25519Verifier, error) {
	key, err := NewEd25519PrivateKey()
	if err != nil {
		return nil, err
	}
	return &Ed25519Verifier{key: key}, nil
}

// NewEd25519VerifierFromKey() creates a verifier around an existing key
func NewEd25519VerifierFromKey(key *ED25519PrivateKey) *Ed25519Verifier {
	return &Ed25519Verifier{key: key}
}

// Verify() checks a signature against a message and public key
func (v *Ed25519Verifier) Verify(msg, signature, publicKey []byte) bool {
	return VerifyEd25519(msg, signature, publicKey)
}

// Sign() signs the message with the verifier's own key
func (v *Ed25519Verifier) Sign(msg []byte) (signature, publicKey []byte, err error) {
	return v.key.Sign(msg), v.key.PublicKey(), nil
}
