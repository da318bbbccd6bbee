package session

import "sync"

// Registry is the concurrent set of live sessions, indexed both by session
// id and by client id. It is backed by two sync.Maps rather than the
// teacher's single map-plus-RWMutex: the spec requires independent
// by-session and by-client lookups that must never block a session's own
// I/O path, and a single shared mutex would let one session's lookup
// contend with another's hot path.
type Registry struct {
	bySession sync.Map // session id -> *Session
	byClient  sync.Map // client id -> *Session
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a session under both indices.
func (r *Registry) Add(s *Session) {
	r.bySession.Store(s.SessionID, s)
	r.byClient.Store(s.ClientID, s)
}

// Remove deregisters a session. Idempotent: removing an absent id is a
// no-op.
func (r *Registry) Remove(sessionID string) {
	v, ok := r.bySession.Load(sessionID)
	if !ok {
		return
	}
	s := v.(*Session)
	r.bySession.Delete(sessionID)
	// Only clear the client index if it still points at this session id;
	// a reconnect may have already replaced it.
	if cur, ok := r.byClient.Load(s.ClientID); ok && cur.(*Session).SessionID == sessionID {
		r.byClient.Delete(s.ClientID)
	}
}

// LookupBySession returns the session with the given session id.
func (r *Registry) LookupBySession(sessionID string) (*Session, bool) {
	v, ok := r.bySession.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// LookupByClient returns the live session for a client id, if any.
func (r *Registry) LookupByClient(clientID string) (*Session, bool) {
	v, ok := r.byClient.Load(clientID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// IterSnapshot calls fn once per currently-registered session. fn's
// return value stops iteration early when false, matching sync.Map.Range.
func (r *Registry) IterSnapshot(fn func(s *Session) bool) {
	r.bySession.Range(func(_, v any) bool {
		return fn(v.(*Session))
	})
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	n := 0
	r.bySession.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
