// Package gwcrypto implements the gateway's cryptographic roles: Ed25519
// signing, Ed25519-to-X25519 shared-secret derivation, ChaCha20-Poly1305
// wrapping of session keys and data frames, and Solana-format client-id
// validation.
package gwcrypto

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
)

// ErrCrypto wraps every failure in this package: shared-secret derivation,
// AEAD seal/open, or key generation. Callers match it with errors.Is.
var ErrCrypto = errors.New("crypto error")

// KeyStore is the server's identity: its static signing key, and the
// ability to derive a shared secret with a connecting client.
type KeyStore interface {
	PublicKey() ed25519.PublicKey
	Sign(msg []byte) ([]byte, error)
	SharedSecret(peerPub ed25519.PublicKey) ([]byte, error)
}

// ServerKeyStore is the default KeyStore: an in-process Ed25519 keypair.
type ServerKeyStore struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewServerKeyStore generates a fresh Ed25519 keypair for the server.
func NewServerKeyStore() (*ServerKeyStore, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate server keypair: %v", ErrCrypto, err)
	}
	return &ServerKeyStore{priv: priv, pub: pub}, nil
}

// NewServerKeyStoreFromSeed builds a ServerKeyStore from a 32-byte seed,
// for operators who persist the server identity across restarts.
func NewServerKeyStoreFromSeed(seed []byte) (*ServerKeyStore, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d", ErrCrypto, ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &ServerKeyStore{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (s *ServerKeyStore) PublicKey() ed25519.PublicKey { return s.pub }

func (s *ServerKeyStore) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

// SharedSecret converts both the server's and the peer's Ed25519 keys to
// X25519 (RFC 8032 §5.1.5), runs ECDH, and returns SHA-256 of the raw
// output. Grounded on the teacher's convertEd25519PrivToX25519 /
// convertEd25519PubToX25519 pair.
func (s *ServerKeyStore) SharedSecret(peerPub ed25519.PublicKey) ([]byte, error) {
	xPrivBytes, err := ed25519PrivToX25519(s.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	xPeerPubBytes, err := ed25519PubToX25519(peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}

	curve := ecdh.X25519()
	xPriv, err := curve.NewPrivateKey(xPrivBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid derived x25519 private key: %v", ErrCrypto, err)
	}
	xPeerPub, err := curve.NewPublicKey(xPeerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid derived x25519 peer key: %v", ErrCrypto, err)
	}

	shared, err := xPriv.ECDH(xPeerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: ecdh: %v", ErrCrypto, err)
	}

	sum := sha256.Sum256(shared)
	return sum[:], nil
}

// ed25519PrivToX25519 derives the X25519 private scalar from an Ed25519
// private key's seed, per RFC 8032 §5.1.5 clamping.
func ed25519PrivToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad ed25519 private key length: %d", len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	x := make([]byte, 32)
	copy(x, h[:32])
	return x, nil
}

// ed25519PubToX25519 decompresses an Ed25519 point and returns its
// Montgomery-form (X25519) public key.
func ed25519PubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad ed25519 public key length: %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}
