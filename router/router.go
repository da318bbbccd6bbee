// Package router dispatches decrypted Data packet payloads to whatever
// sits on the other side of the tunnel, and records traffic/latency
// telemetry about that dispatch.
package router

import (
	"context"

	"github.com/aeronyx/privacy-gateway/gwcrypto"
	"github.com/aeronyx/privacy-gateway/session"
)

// Router is the external collaborator the session engine hands every
// inbound Data packet's ciphertext to.
type Router interface {
	HandleInbound(ctx context.Context, ciphertext, nonce []byte, key session.SessionKey, sess *session.Session) (int, error)
}

// NetworkMonitor records per-client traffic counters and latency samples
// observed while routing.
type NetworkMonitor interface {
	RecordClientTraffic(clientID string, rx, tx uint64)
	RecordSent(n uint64)
	RecordLatency(clientID string, rttMillis float64)
}

// LoopbackRouter is the default Router: it decrypts the payload and
// discards it, reporting its length. A real deployment would forward the
// plaintext to a TUN device or an upstream proxy; that transport is out
// of scope here.
type LoopbackRouter struct {
	monitor NetworkMonitor
}

// NewLoopbackRouter returns a Router that decrypts inbound Data packets
// and reports their length to monitor (which may be nil to discard
// telemetry entirely).
func NewLoopbackRouter(monitor NetworkMonitor) *LoopbackRouter {
	return &LoopbackRouter{monitor: monitor}
}

func (r *LoopbackRouter) HandleInbound(ctx context.Context, ciphertext, nonce []byte, key session.SessionKey, sess *session.Session) (int, error) {
	plaintext, err := gwcrypto.OpenData(gwcrypto.SessionKey(key.Key), ciphertext, nonce)
	if err != nil {
		return 0, err
	}

	n := len(plaintext)
	if r.monitor != nil {
		r.monitor.RecordClientTraffic(sess.ClientID, uint64(n), 0)
	}
	return n, nil
}
