package session

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aeronyx/privacy-gateway/wire"
)

// pipeConn is an in-memory loopback Conn backed by one frame queue: frames
// written are read back in order, enough to exercise SendPacket/NextMessage
// without a real transport.
type pipeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (p *pipeConn) WriteFrame(frame []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("closed")
	}
	cp := append([]byte(nil), frame...)
	p.frames = append(p.frames, cp)
	return nil
}

func (p *pipeConn) ReadFrame() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frames) == 0 {
		return nil, io.EOF
	}
	f := p.frames[0]
	p.frames = p.frames[1:]
	return f, nil
}

func (p *pipeConn) SetReadDeadline(t time.Time) error  { return nil }
func (p *pipeConn) SetWriteDeadline(t time.Time) error { return nil }
func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestSendPacketThenNextMessageRoundTrip(t *testing.T) {
	conn := &pipeConn{}
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", conn)

	err := s.SendPacket(wire.Ping{Timestamp: 1, Sequence: 1})
	require.NoError(t, err)

	got, err := s.NextMessage()
	require.NoError(t, err)
	require.IsType(t, wire.Ping{}, got)
}

func TestNextMessageReturnsErrorOnEmptyConn(t *testing.T) {
	conn := &pipeConn{}
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", conn)

	_, err := s.NextMessage()
	require.ErrorIs(t, err, io.EOF)
}

func TestUpdateActivityAdvancesClock(t *testing.T) {
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})
	first := s.LastActivity()
	time.Sleep(time.Millisecond)
	s.UpdateActivity()
	require.True(t, s.LastActivity().After(first))
}

func TestUpdateCounterMonotonic(t *testing.T) {
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

	require.True(t, s.UpdateCounter(1))
	require.True(t, s.UpdateCounter(2))
	require.False(t, s.UpdateCounter(2), "equal counter must be rejected as replay")
	require.False(t, s.UpdateCounter(1), "lower counter must be rejected as replay")
	require.True(t, s.UpdateCounter(100))
	require.Equal(t, uint64(100), s.LastCounter())
}

func TestUpdateCounterZeroWrapAroundCarveOut(t *testing.T) {
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

	require.True(t, s.UpdateCounter(5))
	// counter == 0 is accepted even though 0 <= last, the single
	// wrap-around carve-out the replay rule grants.
	require.True(t, s.UpdateCounter(0))
	require.Equal(t, uint64(0), s.LastCounter())
}

func TestUpdateCounterConcurrentAcceptsHighestOnce(t *testing.T) {
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

	var wg sync.WaitGroup
	accepted := make([]bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			accepted[i] = s.UpdateCounter(uint64(i + 1))
		}(i)
	}
	wg.Wait()

	require.True(t, accepted[49], "the highest counter must be accepted")
	require.Equal(t, uint64(50), s.LastCounter())
}

func TestClose(t *testing.T) {
	conn := &pipeConn{}
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", conn)
	require.NoError(t, s.Close())
	require.True(t, conn.closed)
}

func TestSessionKeyNeedsRotation(t *testing.T) {
	k := SessionKey{IssuedAt: time.Now().Add(-2 * time.Hour)}
	require.True(t, k.NeedsRotation(time.Hour))

	fresh := SessionKey{IssuedAt: time.Now()}
	require.False(t, fresh.NeedsRotation(time.Hour))
}

func TestRegistryAddLookupRemove(t *testing.T) {
	r := NewRegistry()
	s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

	r.Add(s)
	require.Equal(t, 1, r.Count())

	got, ok := r.LookupBySession("sess1")
	require.True(t, ok)
	require.Same(t, s, got)

	got, ok = r.LookupByClient("client1")
	require.True(t, ok)
	require.Same(t, s, got)

	r.Remove("sess1")
	require.Equal(t, 0, r.Count())

	_, ok = r.LookupBySession("sess1")
	require.False(t, ok)
	_, ok = r.LookupByClient("client1")
	require.False(t, ok)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Remove("nope")
}

func TestRegistryRemoveTolerantOfReconnectRace(t *testing.T) {
	r := NewRegistry()
	s1 := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})
	s2 := New("sess2", "client1", "10.8.0.3", "1.2.3.4:9001", &pipeConn{})

	r.Add(s1)
	r.Add(s2) // reconnect: same client, new session id

	r.Remove("sess1") // stale session's cleanup runs after the reconnect

	got, ok := r.LookupByClient("client1")
	require.True(t, ok)
	require.Same(t, s2, got, "reconnect's session must survive the stale session's cleanup")
}

func TestRegistryIterSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Add(New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{}))
	r.Add(New("sess2", "client2", "10.8.0.3", "1.2.3.4:9001", &pipeConn{}))

	seen := map[string]bool{}
	r.IterSnapshot(func(s *Session) bool {
		seen[s.SessionID] = true
		return true
	})
	require.Len(t, seen, 2)
}

func TestMemoryKeyStore(t *testing.T) {
	ks := NewMemoryKeyStore()

	_, ok := ks.Get("client1")
	require.False(t, ok)
	require.False(t, ks.NeedsRotation("client1", time.Hour))

	key := SessionKey{IssuedAt: time.Now().Add(-2 * time.Hour)}
	ks.Store("client1", key)

	got, ok := ks.Get("client1")
	require.True(t, ok)
	require.Equal(t, key, got)
	require.True(t, ks.NeedsRotation("client1", time.Hour))

	ks.Remove("client1")
	_, ok = ks.Get("client1")
	require.False(t, ok)
}
