package session

import (
	"testing"
)

// FuzzUpdateCounter checks the replay rule holds for every counter value:
// a counter is accepted iff it is strictly greater than the last accepted
// one, with the single exception of 0 (the wrap-around carve-out).
func FuzzUpdateCounter(f *testing.F) {
	f.Add(uint64(0))
	f.Add(uint64(1))
	f.Add(uint64(2))
	f.Add(^uint64(0))

	f.Fuzz(func(t *testing.T, counter uint64) {
		s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

		last := s.LastCounter()
		accepted := s.UpdateCounter(counter)

		wantAccepted := counter > last || counter == 0
		if accepted != wantAccepted {
			t.Fatalf("UpdateCounter(%d) after last=%d: got accepted=%v, want %v", counter, last, accepted, wantAccepted)
		}
		if accepted && s.LastCounter() != counter {
			t.Fatalf("accepted counter %d did not become LastCounter (%d)", counter, s.LastCounter())
		}
	})
}

// FuzzUpdateCounterSequence replays a short sequence of counters through one
// session and checks that the accept/reject outcome always matches the rule
// applied against the session's own running state, never against a
// recomputed baseline.
func FuzzUpdateCounterSequence(f *testing.F) {
	f.Add(uint64(1), uint64(2), uint64(1))
	f.Add(uint64(5), uint64(0), uint64(5))
	f.Add(uint64(0), uint64(0), uint64(1))

	f.Fuzz(func(t *testing.T, a, b, c uint64) {
		s := New("sess1", "client1", "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

		for _, counter := range []uint64{a, b, c} {
			last := s.LastCounter()
			accepted := s.UpdateCounter(counter)
			wantAccepted := counter > last || counter == 0
			if accepted != wantAccepted {
				t.Fatalf("counter=%d last=%d: got accepted=%v, want %v", counter, last, accepted, wantAccepted)
			}
		}
	})
}

// FuzzRegistryClientIDs exercises Add/Remove/lookup against arbitrary
// client and session id strings, checking the registry never reports a
// removed session as present.
func FuzzRegistryClientIDs(f *testing.F) {
	f.Add("sess-1", "client-1")
	f.Add("", "")
	f.Add("sess-1", "sess-1")

	f.Fuzz(func(t *testing.T, sessionID, clientID string) {
		r := NewRegistry()
		s := New(sessionID, clientID, "10.8.0.2", "1.2.3.4:9000", &pipeConn{})

		r.Add(s)
		if got, ok := r.LookupBySession(sessionID); !ok || got != s {
			t.Fatalf("session %q not found immediately after Add", sessionID)
		}

		r.Remove(sessionID)
		if _, ok := r.LookupBySession(sessionID); ok {
			t.Fatalf("session %q still present after Remove", sessionID)
		}
	})
}
