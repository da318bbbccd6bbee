package gwcrypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// SessionKey is the 32-byte symmetric key the engine mints per session.
type SessionKey [32]byte

// GenerateSessionKey returns a fresh random 32-byte session key.
func GenerateSessionKey() (SessionKey, error) {
	var key SessionKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return SessionKey{}, fmt.Errorf("%w: generate session key: %v", ErrCrypto, err)
	}
	return key, nil
}

// SealSessionKey wraps a session key under an ECDH shared secret, used to
// deliver the key in IpAssign.
func SealSessionKey(sharedSecret []byte, key SessionKey) (ciphertext, nonce []byte, err error) {
	return seal(sharedSecret, key[:])
}

// OpenSessionKey reverses SealSessionKey.
func OpenSessionKey(sharedSecret, ciphertext, nonce []byte) (SessionKey, error) {
	plaintext, err := open(sharedSecret, ciphertext, nonce)
	if err != nil {
		return SessionKey{}, err
	}
	if len(plaintext) != 32 {
		return SessionKey{}, fmt.Errorf("%w: unwrapped session key has wrong length %d", ErrCrypto, len(plaintext))
	}
	var key SessionKey
	copy(key[:], plaintext)
	return key, nil
}

// SealData encrypts a steady-state tunnel payload under a session key. AAD
// is empty: payload authenticity is already anchored by the handshake
// signature chain, matching the wire schema's bare encrypted/nonce fields.
func SealData(key SessionKey, plaintext []byte) (ciphertext, nonce []byte, err error) {
	return seal(key[:], plaintext)
}

// OpenData reverses SealData.
func OpenData(key SessionKey, ciphertext, nonce []byte) ([]byte, error) {
	return open(key[:], ciphertext, nonce)
}

func seal(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: new aead: %v", ErrCrypto, err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: generate nonce: %v", ErrCrypto, err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

func open(key, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("%w: new aead: %v", ErrCrypto, err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrCrypto, err)
	}
	return plaintext, nil
}
