package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrChallenge is the sentinel every Verify failure wraps; use errors.Is
// against it, and the more specific Err* sentinels below to distinguish
// the reason.
var ErrChallenge = errors.New("challenge error")

var (
	// ErrUnknownChallenge means the id was never issued, already consumed,
	// or already swept for expiry.
	ErrUnknownChallenge = fmt.Errorf("%w: unknown challenge", ErrChallenge)
	// ErrExpiredChallenge means the challenge existed but its TTL elapsed.
	ErrExpiredChallenge = fmt.Errorf("%w: challenge expired", ErrChallenge)
	// ErrPeerMismatch means the responding connection's address differs
	// from the one the challenge was issued to.
	ErrPeerMismatch = fmt.Errorf("%w: peer address mismatch", ErrChallenge)
	// ErrBadSignature means the signature does not verify under the
	// claimed public key.
	ErrBadSignature = fmt.Errorf("%w: signature verification failed", ErrChallenge)
	// ErrACLDenied means the client id verified but the ACL rejects it.
	ErrACLDenied = fmt.Errorf("%w: acl denied", ErrChallenge)
)

// DefaultChallengeTTL is the window a challenge stays valid if the
// Authenticator is built with NewAuthenticator's zero value.
const DefaultChallengeTTL = 30 * time.Second

// ACLStore decides whether a verified client id may establish a session.
// The engine only ever sees this interface: MemoryACL and PostgresACL are
// interchangeable behind it.
type ACLStore interface {
	IsAllowed(clientID string) (bool, error)
}

// Authenticator issues challenges, verifies signed responses, and consults
// an ACLStore. One Authenticator is shared across all sessions.
type Authenticator struct {
	ttl     time.Duration
	store   *challengeStore
	acl     ACLStore
}

// NewAuthenticator builds an Authenticator with the given challenge TTL
// (DefaultChallengeTTL if zero) and ACL backend.
func NewAuthenticator(ttl time.Duration, acl ACLStore) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &Authenticator{
		ttl:   ttl,
		store: newChallengeStore(ttl),
		acl:   acl,
	}
}

// Close stops the authenticator's challenge-expiry sweep.
func (a *Authenticator) Close() { a.store.close() }

// Generate creates and stores a fresh challenge for peerAddr. Duplicate
// calls from the same peer produce distinct challenges; there is no
// coalescing.
func (a *Authenticator) Generate(peerAddr string) (Challenge, error) {
	data := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		return Challenge{}, fmt.Errorf("%w: generate challenge data: %v", ErrChallenge, err)
	}
	c := Challenge{
		ID:        uuid.NewString(),
		Data:      data,
		PeerAddr:  peerAddr,
		ExpiresAt: time.Now().Add(a.ttl),
	}
	a.store.put(c)
	return c, nil
}

// Verify looks up id, requires it unexpired and issued to peerAddr,
// checks signature over the challenge data under claimedPubkey, and on
// success removes the entry (single-use). A Challenge does not record the
// client it was issued to: the caller supplies claimedPubkey since Auth and
// ChallengeResponse are two separate frames in the handshake.
func (a *Authenticator) Verify(id string, signature []byte, claimedPubkey ed25519.PublicKey, peerAddr string) error {
	c, ok := a.store.take(id)
	if !ok {
		return ErrUnknownChallenge
	}
	if c.expired(time.Now()) {
		return ErrExpiredChallenge
	}
	if c.PeerAddr != peerAddr {
		return ErrPeerMismatch
	}
	if !ed25519.Verify(claimedPubkey, c.Data, signature) {
		return ErrBadSignature
	}
	return nil
}

// IsAllowed reports whether the ACL permits clientID to establish a
// session.
func (a *Authenticator) IsAllowed(clientID string) (bool, error) {
	if a.acl == nil {
		return true, nil
	}
	return a.acl.IsAllowed(clientID)
}
