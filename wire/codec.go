package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocol wraps every decode failure: unknown tag, truncated payload, or
// a field that fails its own constraint. Callers match it with errors.Is.
var ErrProtocol = errors.New("protocol error")

// envelope is the canonical frame shape: one WebSocket binary message is one
// envelope, tag first so Decode can dispatch before unmarshaling the payload.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals a PacketKind into its wire frame bytes.
func Encode(p PacketKind) ([]byte, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", p.Tag(), err)
	}
	frame, err := json.Marshal(envelope{Type: p.Tag(), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("wire: encode envelope for %s: %w", p.Tag(), err)
	}
	return frame, nil
}

// Decode reads one wire frame and returns the concrete PacketKind it names.
func Decode(frame []byte) (PacketKind, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", ErrProtocol, err)
	}

	var (
		p   PacketKind
		err error
	)
	switch env.Type {
	case "Auth":
		var v Auth
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "Challenge":
		var v Challenge
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "ChallengeResponse":
		var v ChallengeResponse
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "IpAssign":
		var v IpAssign
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "IpRenewal":
		var v IpRenewal
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "IpRenewalResponse":
		var v IpRenewalResponse
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "Data":
		var v Data
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "Ping":
		var v Ping
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "Pong":
		var v Pong
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "KeyRotation":
		var v KeyRotation
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "Disconnect":
		var v Disconnect
		err = json.Unmarshal(env.Payload, &v)
		p = v
	case "Error":
		var v Error
		err = json.Unmarshal(env.Payload, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown packet tag %q", ErrProtocol, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: payload for %s: %v", ErrProtocol, env.Type, err)
	}
	return p, nil
}
