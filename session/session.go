package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeronyx/privacy-gateway/wire"
)

// Session holds one client's identity, its assigned IP, and the send/recv
// endpoints over the transport. The engine exclusively owns a Session for
// its lifetime; the Registry holds only a lookup handle.
type Session struct {
	SessionID string
	ClientID  string
	IPAddress string
	PeerAddr  string

	conn Conn

	sendMu sync.Mutex
	recvMu sync.Mutex

	lastActivity atomic.Int64 // unix nanos
	lastCounter  atomic.Uint64
}

// New constructs a Session bound to one transport connection. Registration
// with a Registry is the caller's responsibility (component E is separate
// from the object itself).
func New(sessionID, clientID, ipAddress, peerAddr string, conn Conn) *Session {
	s := &Session{
		SessionID: sessionID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		PeerAddr:  peerAddr,
		conn:      conn,
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// SendPacket encodes p and writes one frame, holding the send lock for the
// duration of the write so concurrent writers (inbound loop replies,
// heartbeat, key rotation) never interleave frames.
func (s *Session) SendPacket(p wire.PacketKind) error {
	frame, err := wire.Encode(p)
	if err != nil {
		return fmt.Errorf("session %s: encode %s: %w", s.SessionID, p.Tag(), err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteFrame(frame); err != nil {
		return fmt.Errorf("session %s: write frame: %w", s.SessionID, err)
	}
	return nil
}

// NextMessage reads and decodes one frame. On an orderly close it returns
// the transport's io.EOF unchanged, so callers test for it with errors.Is;
// a frame that fails to decode yields an error wrapping wire.ErrProtocol.
func (s *Session) NextMessage() (wire.PacketKind, error) {
	s.recvMu.Lock()
	frame, err := s.conn.ReadFrame()
	s.recvMu.Unlock()
	if err != nil {
		return nil, err
	}
	return wire.Decode(frame)
}

// UpdateActivity records the current time as the last time a valid inbound
// frame was processed.
func (s *Session) UpdateActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last time UpdateActivity was called.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// UpdateCounter implements the replay rule literally: drop (return false)
// iff counter <= last && counter != 0. The != 0 carve-out permits exactly
// one u64 wrap-around; a naive strict-monotonic check would drop the frame
// immediately following a legitimate wrap.
func (s *Session) UpdateCounter(counter uint64) bool {
	for {
		last := s.lastCounter.Load()
		if counter <= last && counter != 0 {
			return false
		}
		if s.lastCounter.CompareAndSwap(last, counter) {
			return true
		}
	}
}

// LastCounter returns the highest accepted Data counter.
func (s *Session) LastCounter() uint64 {
	return s.lastCounter.Load()
}

// Close closes the underlying transport connection. Safe to call more
// than once; the second close is a no-op error the caller should ignore.
func (s *Session) Close() error {
	return s.conn.Close()
}
