// Package engine drives one client connection from acceptance through
// authentication, establishment, the steady-state message loop, and
// teardown. It is the gateway's per-client state machine.
package engine

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/sync/errgroup"

	"github.com/aeronyx/privacy-gateway/auth"
	"github.com/aeronyx/privacy-gateway/gwcrypto"
	"github.com/aeronyx/privacy-gateway/internal/logger"
	"github.com/aeronyx/privacy-gateway/ippool"
	"github.com/aeronyx/privacy-gateway/router"
	"github.com/aeronyx/privacy-gateway/serverstate"
	"github.com/aeronyx/privacy-gateway/session"
	"github.com/aeronyx/privacy-gateway/wire"
)

// Error kinds the engine returns, matched with errors.Is.
var (
	ErrTransport  = errors.New("transport error")
	ErrProtocol   = errors.New("protocol error")
	ErrAuth       = errors.New("auth error")
	ErrCrypto     = errors.New("crypto error")
	ErrAllocation = errors.New("allocation error")
	ErrInternal   = errors.New("internal error")
	ErrShutdown   = errors.New("shutdown")
)

const (
	// DefaultHandshakeTimeout bounds each of the two handshake reads.
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultHeartbeatInterval is the server-initiated Ping period.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultRotationInterval is how often the rotation timer checks the
	// current key's age against DefaultRotationThreshold.
	DefaultRotationInterval = 60 * time.Second
	// DefaultRotationThreshold is the key age that triggers a rotation.
	DefaultRotationThreshold = 3600 * time.Second
)

// Deps wires every external collaborator the engine needs. Metrics and
// Monitor default to no-ops when left nil.
type Deps struct {
	Keys          gwcrypto.KeyStore
	SessionKeys   session.KeyStore
	IPPool        ippool.Pool
	Router        router.Router
	Monitor       router.NetworkMonitor
	Metrics       Metrics
	State         serverstate.Tracker
	Authenticator *auth.Authenticator
	Registry      *session.Registry

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	RotationInterval  time.Duration
	RotationThreshold time.Duration
}

// Metrics is the handshake-facing subset of telemetry the engine emits.
type Metrics interface {
	HandshakeStart()
	HandshakeComplete()
	AuthSuccess()
	AuthFailure(reason string)
}

type noopMetrics struct{}

func (noopMetrics) HandshakeStart()           {}
func (noopMetrics) HandshakeComplete()        {}
func (noopMetrics) AuthSuccess()              {}
func (noopMetrics) AuthFailure(reason string) {}

type noopMonitor struct{}

func (noopMonitor) RecordClientTraffic(clientID string, rx, tx uint64) {}
func (noopMonitor) RecordSent(n uint64)                                {}
func (noopMonitor) RecordLatency(clientID string, rttMillis float64)   {}

func (d Deps) withDefaults() Deps {
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Monitor == nil {
		d.Monitor = noopMonitor{}
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if d.HeartbeatInterval <= 0 {
		d.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if d.RotationInterval <= 0 {
		d.RotationInterval = DefaultRotationInterval
	}
	if d.RotationThreshold <= 0 {
		d.RotationThreshold = DefaultRotationThreshold
	}
	return d
}

// Run drives one connection to completion. It returns nil on an orderly
// close, an error wrapping ErrShutdown when the server is stopping, and a
// wrapped error otherwise. Cleanup runs exactly
// once before returning, regardless of how establishment or the loop
// exits, provided a session was actually constructed.
func Run(ctx context.Context, conn session.Conn, peerAddr string, deps Deps) error {
	d := deps.withDefaults()

	d.Metrics.HandshakeStart()

	authRes, err := awaitAuth(conn, peerAddr, d)
	if err != nil {
		return err
	}

	sess, sessionKey, err := establish(conn, authRes, peerAddr, d)
	if err != nil {
		return err
	}

	d.Registry.Add(sess)
	d.Metrics.HandshakeComplete()
	defer cleanup(sess, d)

	// The handshake deadline covers only the two handshake reads.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("%w: clear read deadline: %v", ErrTransport, err)
	}

	return runLoop(ctx, sess, authRes.clientID, sessionKey, d)
}

// authResult carries the verified client identity forward from the
// handshake into establishment.
type authResult struct {
	clientID string
	pubKey   ed25519.PublicKey
}

func awaitAuth(conn session.Conn, peerAddr string, d Deps) (authResult, error) {
	if err := conn.SetReadDeadline(time.Now().Add(d.HandshakeTimeout)); err != nil {
		return authResult{}, fmt.Errorf("%w: set read deadline: %v", ErrTransport, err)
	}
	frame, err := conn.ReadFrame()
	if err != nil {
		d.Metrics.AuthFailure("timeout")
		return authResult{}, fmt.Errorf("%w: await auth: %v", ErrTransport, err)
	}
	pkt, err := wire.Decode(frame)
	if err != nil {
		sendError(conn, wire.ErrCodeAuthFormat, "malformed auth frame")
		d.Metrics.AuthFailure("invalid_pubkey")
		return authResult{}, fmt.Errorf("%w: decode auth: %v", ErrProtocol, err)
	}
	authPkt, ok := pkt.(wire.Auth)
	if !ok {
		sendError(conn, wire.ErrCodeUnexpectedKind, "expected Auth")
		d.Metrics.AuthFailure("invalid_pubkey")
		return authResult{}, fmt.Errorf("%w: expected Auth, got %s", ErrProtocol, pkt.Tag())
	}

	pub, err := gwcrypto.ValidateClientID(authPkt.PublicKey)
	if err != nil {
		sendError(conn, wire.ErrCodeAuthFormat, "invalid public key")
		d.Metrics.AuthFailure("invalid_pubkey")
		return authResult{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	challenge, err := d.Authenticator.Generate(peerAddr)
	if err != nil {
		sendError(conn, wire.ErrCodeAuthFormat, "challenge generation failed")
		d.Metrics.AuthFailure("invalid_pubkey")
		return authResult{}, fmt.Errorf("%w: generate challenge: %v", ErrAuth, err)
	}

	if err := writePacket(conn, wire.Challenge{
		Data:      challenge.Data,
		ServerKey: base58.Encode(d.Keys.PublicKey()),
		ExpiresAt: uint64(challenge.ExpiresAt.UnixMilli()),
		ID:        challenge.ID,
	}); err != nil {
		d.Metrics.AuthFailure("timeout")
		return authResult{}, fmt.Errorf("%w: send challenge: %v", ErrTransport, err)
	}

	return awaitResponse(conn, authPkt.PublicKey, pub, challenge.ID, peerAddr, d)
}

func awaitResponse(conn session.Conn, claimedPubKeyStr string, pub ed25519.PublicKey, challengeID, peerAddr string, d Deps) (authResult, error) {
	if err := conn.SetReadDeadline(time.Now().Add(d.HandshakeTimeout)); err != nil {
		return authResult{}, fmt.Errorf("%w: set read deadline: %v", ErrTransport, err)
	}
	frame, err := conn.ReadFrame()
	if err != nil {
		d.Metrics.AuthFailure("timeout")
		return authResult{}, fmt.Errorf("%w: await challenge response: %v", ErrTransport, err)
	}
	pkt, err := wire.Decode(frame)
	if err != nil {
		sendError(conn, wire.ErrCodeUnexpectedKind, "malformed challenge response")
		d.Metrics.AuthFailure("bad_signature")
		return authResult{}, fmt.Errorf("%w: decode challenge response: %v", ErrProtocol, err)
	}
	resp, ok := pkt.(wire.ChallengeResponse)
	if !ok {
		sendError(conn, wire.ErrCodeUnexpectedKind, "expected ChallengeResponse")
		d.Metrics.AuthFailure("bad_signature")
		return authResult{}, fmt.Errorf("%w: expected ChallengeResponse, got %s", ErrProtocol, pkt.Tag())
	}

	if resp.PublicKey != claimedPubKeyStr {
		sendError(conn, wire.ErrCodeAuthFormat, "public key mismatch")
		d.Metrics.AuthFailure("invalid_pubkey")
		return authResult{}, fmt.Errorf("%w: public key mismatch", ErrAuth)
	}

	sigBytes, err := base58.Decode(resp.Signature)
	if err != nil {
		sendError(conn, wire.ErrCodeAuthFormat, "malformed signature")
		d.Metrics.AuthFailure("bad_signature")
		return authResult{}, fmt.Errorf("%w: decode signature: %v", ErrAuth, err)
	}

	if err := d.Authenticator.Verify(challengeID, sigBytes, pub, peerAddr); err != nil {
		sendError(conn, wire.ErrCodeAuthFormat, "signature verification failed")
		d.Metrics.AuthFailure("bad_signature")
		return authResult{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	res := authResult{clientID: claimedPubKeyStr, pubKey: pub}

	allowed, err := d.Authenticator.IsAllowed(res.clientID)
	if err != nil {
		sendError(conn, wire.ErrCodeACLDenied, "acl check failed")
		d.Metrics.AuthFailure("acl_denied")
		return authResult{}, fmt.Errorf("%w: acl check: %v", ErrAuth, err)
	}
	if !allowed {
		sendError(conn, wire.ErrCodeACLDenied, "access denied")
		d.Metrics.AuthFailure("acl_denied")
		return authResult{}, fmt.Errorf("%w: acl denied for %s", ErrAuth, res.clientID)
	}

	d.Metrics.AuthSuccess()
	return res, nil
}

// establish runs the establishment transaction (spec §4.F): IP
// allocation, session id mint, session key mint+install, shared-secret
// wrap, IpAssign send. Any failure unwinds prior steps in reverse order.
func establish(conn session.Conn, a authResult, peerAddr string, d Deps) (*session.Session, session.SessionKey, error) {
	ip, err := d.IPPool.Allocate(a.clientID)
	if err != nil {
		sendError(conn, wire.ErrCodeAllocationFailed, "ip allocation failed")
		return nil, session.SessionKey{}, fmt.Errorf("%w: allocate ip: %v", ErrAllocation, err)
	}

	sessionID, err := newSessionID()
	if err != nil {
		_ = d.IPPool.Release(ip)
		sendError(conn, wire.ErrCodeAllocationFailed, "session id generation failed")
		return nil, session.SessionKey{}, fmt.Errorf("%w: mint session id: %v", ErrInternal, err)
	}

	key, err := gwcrypto.GenerateSessionKey()
	if err != nil {
		_ = d.IPPool.Release(ip)
		sendError(conn, wire.ErrCodeCryptoFailure, "session key generation failed")
		return nil, session.SessionKey{}, fmt.Errorf("%w: generate session key: %v", ErrCrypto, err)
	}
	sk := session.SessionKey{Key: [32]byte(key), IssuedAt: time.Now()}

	shared, err := d.Keys.SharedSecret(a.pubKey)
	if err != nil {
		_ = d.IPPool.Release(ip)
		sendError(conn, wire.ErrCodeCryptoFailure, "shared secret derivation failed")
		return nil, session.SessionKey{}, fmt.Errorf("%w: derive shared secret: %v", ErrCrypto, err)
	}

	ciphertext, nonce, err := gwcrypto.SealSessionKey(shared, key)
	if err != nil {
		_ = d.IPPool.Release(ip)
		sendError(conn, wire.ErrCodeCryptoFailure, "session key wrap failed")
		return nil, session.SessionKey{}, fmt.Errorf("%w: seal session key: %v", ErrCrypto, err)
	}

	d.SessionKeys.Store(a.clientID, sk)

	if err := writePacket(conn, wire.IpAssign{
		IPAddress:           ip,
		LeaseDuration:       uint64(d.IPPool.DefaultLeaseDuration().Seconds()),
		SessionID:           sessionID,
		EncryptedSessionKey: ciphertext,
		KeyNonce:            nonce,
	}); err != nil {
		d.SessionKeys.Remove(a.clientID)
		_ = d.IPPool.Release(ip)
		return nil, session.SessionKey{}, fmt.Errorf("%w: send ip assign: %v", ErrTransport, err)
	}

	sess := session.New(sessionID, a.clientID, ip, peerAddr, conn)
	return sess, sk, nil
}

// runLoop runs the inbound loop plus the heartbeat and rotation timers
// until the session terminates, joining on an errgroup so any goroutine's
// exit cancels the shared context and brings the other two down.
func runLoop(ctx context.Context, sess *session.Session, clientID string, sessionKey session.SessionKey, d Deps) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// inboundLoop is the only goroutine whose exit means the session
		// is over, whether that's a clean close or a fatal error. Cancel
		// explicitly so heartbeatLoop/rotationLoop notice: errgroup only
		// cancels its derived context on a non-nil error, and a clean
		// close returns nil.
		err := inboundLoop(ctx, sess, clientID, d)
		cancel()
		return err
	})
	g.Go(func() error {
		heartbeatLoop(ctx, sess, d)
		return nil
	})
	g.Go(func() error {
		rotationLoop(ctx, sess, clientID, d)
		return nil
	})

	return g.Wait()
}

func inboundLoop(ctx context.Context, sess *session.Session, clientID string, d Deps) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if d.State != nil && d.State.Load() == serverstate.Stopping {
			_ = sess.SendPacket(wire.Disconnect{Reason: wire.DisconnectReasonShutdown, Message: "Server shutting down"})
			return fmt.Errorf("%w: server stopping", ErrShutdown)
		}

		pkt, err := sess.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, wire.ErrProtocol) {
				logger.Warn("dropping malformed frame", logger.String("session_id", sess.SessionID), logger.Error(err))
				continue
			}
			return fmt.Errorf("%w: read frame: %v", ErrTransport, err)
		}

		sess.UpdateActivity()

		key, _ := d.SessionKeys.Get(clientID)
		terminate, err := dispatch(ctx, sess, clientID, pkt, key, d)
		if err != nil {
			return err
		}
		if terminate {
			return nil
		}
	}
}

// dispatch handles one decoded packet in RUNNING. It returns
// (terminate=true, nil) on an orderly Disconnect, and a non-nil error
// only for failures the spec marks fatal. Everything else is non-fatal:
// log and continue.
func dispatch(ctx context.Context, sess *session.Session, clientID string, pkt wire.PacketKind, key session.SessionKey, d Deps) (bool, error) {
	switch p := pkt.(type) {
	case wire.Data:
		if !sess.UpdateCounter(p.Counter) {
			logger.Warn("dropping replayed data packet", logger.String("session_id", sess.SessionID))
			return false, nil
		}
		n, err := d.Router.HandleInbound(ctx, p.Encrypted, p.Nonce, key, sess)
		if err != nil {
			logger.Warn("router rejected data packet", logger.String("session_id", sess.SessionID))
			return false, nil
		}
		// The router already recorded per-client rx/tx for this packet;
		// RecordSent tracks the same bytes against the global counter.
		d.Monitor.RecordSent(uint64(n))
		return false, nil

	case wire.Ping:
		err := sess.SendPacket(wire.Pong{
			EchoTimestamp:   p.Timestamp,
			ServerTimestamp: uint64(time.Now().UnixMilli()),
			Sequence:        p.Sequence,
		})
		if err != nil {
			return false, fmt.Errorf("%w: send pong: %v", ErrTransport, err)
		}
		return false, nil

	case wire.Pong:
		now := uint64(time.Now().UnixMilli())
		if now >= p.EchoTimestamp {
			d.Monitor.RecordLatency(clientID, float64(now-p.EchoTimestamp))
		}
		return false, nil

	case wire.IpRenewal:
		if p.SessionID != sess.SessionID || p.IPAddress != sess.IPAddress {
			logger.Warn("ip renewal field mismatch", logger.String("session_id", sess.SessionID))
			return false, nil
		}
		expiresAt, err := d.IPPool.Renew(sess.IPAddress)
		resp := wire.IpRenewalResponse{SessionID: sess.SessionID, Success: err == nil}
		if err == nil {
			resp.ExpiresAt = expiresAt
		}
		if sendErr := sess.SendPacket(resp); sendErr != nil {
			return false, fmt.Errorf("%w: send ip renewal response: %v", ErrTransport, sendErr)
		}
		return false, nil

	case wire.Disconnect:
		return true, nil

	default:
		logger.Warn("unexpected packet kind in running state", logger.String("session_id", sess.SessionID))
		return false, nil
	}
}

func heartbeatLoop(ctx context.Context, sess *session.Session, d Deps) {
	ticker := time.NewTicker(d.HeartbeatInterval)
	defer ticker.Stop()

	var sequence uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = sess.SendPacket(wire.Ping{Timestamp: uint64(time.Now().UnixMilli()), Sequence: sequence})
			sequence++
		}
	}
}

func rotationLoop(ctx context.Context, sess *session.Session, clientID string, d Deps) {
	ticker := time.NewTicker(d.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.SessionKeys.NeedsRotation(clientID, d.RotationThreshold) {
				continue
			}
			rotateKey(sess, clientID, d)
		}
	}
}

func rotateKey(sess *session.Session, clientID string, d Deps) {
	current, ok := d.SessionKeys.Get(clientID)
	if !ok {
		return
	}

	newKey, err := gwcrypto.GenerateSessionKey()
	if err != nil {
		logger.Warn("key rotation: generate failed", logger.String("session_id", sess.SessionID))
		return
	}

	ciphertext, nonce, err := gwcrypto.SealData(gwcrypto.SessionKey(current.Key), newKey[:])
	if err != nil {
		logger.Warn("key rotation: seal failed", logger.String("session_id", sess.SessionID))
		return
	}

	keyID := hex.EncodeToString(nonce)
	sig, err := d.Keys.Sign(append([]byte(keyID), nonce...))
	if err != nil {
		logger.Warn("key rotation: sign failed", logger.String("session_id", sess.SessionID))
		return
	}

	if err := sess.SendPacket(wire.KeyRotation{
		EncryptedNewKey: ciphertext,
		Nonce:           nonce,
		KeyID:           keyID,
		Signature:       base58.Encode(sig),
	}); err != nil {
		logger.Warn("key rotation: send failed", logger.String("session_id", sess.SessionID))
		return
	}

	d.SessionKeys.Store(clientID, session.SessionKey{Key: [32]byte(newKey), IssuedAt: time.Now()})
}

// cleanup runs the TERMINATED actions exactly once, in the mandated
// order, tolerating failure at every step.
func cleanup(sess *session.Session, d Deps) {
	d.Registry.Remove(sess.SessionID)
	if err := d.IPPool.Release(sess.IPAddress); err != nil {
		logger.Warn("cleanup: ip release failed", logger.String("session_id", sess.SessionID))
	}
	d.SessionKeys.Remove(sess.ClientID)
	_ = sess.Close()
}

func writePacket(conn session.Conn, p wire.PacketKind) error {
	frame, err := wire.Encode(p)
	if err != nil {
		return err
	}
	return conn.WriteFrame(frame)
}

func sendError(conn session.Conn, code uint16, message string) {
	frame, err := wire.Encode(wire.Error{Code: code, Message: message})
	if err != nil {
		return
	}
	_ = conn.WriteFrame(frame)
}

func newSessionID() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return session.GeneralPrefix + "_" + hex.EncodeToString(raw), nil
}
