// Package session holds the per-client Session object and the concurrent
// Registry that indexes live sessions by session id and by client id.
package session

import (
	"time"
)

// GeneralPrefix prefixes every session id, e.g. "session_<hex16>".
const GeneralPrefix = "session"

// Conn is the minimal transport surface a Session needs: one frame in,
// one frame out, each under its own deadline. transport.Conn satisfies
// this structurally so session never imports the transport package.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// SessionKey is the 32-byte symmetric key bound to one session, plus its
// issuance time for rotation-age checks.
type SessionKey struct {
	Key      [32]byte
	IssuedAt time.Time
}

// NeedsRotation reports whether this key's age has reached threshold.
func (k SessionKey) NeedsRotation(threshold time.Duration) bool {
	return time.Since(k.IssuedAt) >= threshold
}
