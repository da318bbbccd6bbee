package gwcrypto

import (
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ValidateClientID base58-decodes a client-supplied public key and checks
// it against the Solana pubkey length, using solana.PublicKeyFromBase58.
func ValidateClientID(s string) (ed25519.PublicKey, error) {
	pub, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid client id %q: %v", ErrCrypto, s, err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: client id %q has wrong key length %d", ErrCrypto, s, len(pub))
	}
	return ed25519.PublicKey(pub[:]), nil
}
