// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"

	"github.com/bureau-foundation/m2m/codec"
)

// MessageType is the "type" discriminant of a control message.
type MessageType string

const (
	TypeHello  MessageType = "HELLO"
	TypeAccept MessageType = "ACCEPT"
	TypeReject MessageType = "REJECT"
	TypeData   MessageType = "DATA"
	TypePing   MessageType = "PING"
	TypePong   MessageType = "PONG"
	TypeClose  MessageType = "CLOSE"
)

// RejectCode enumerates the reasons a HELLO may be rejected.
type RejectCode string

const (
	RejectVersionMismatch   RejectCode = "VERSION_MISMATCH"
	RejectNoCommonAlgorithm RejectCode = "NO_COMMON_ALGORITHM"
	RejectSecurityPolicy    RejectCode = "SECURITY_POLICY"
	RejectRateLimited       RejectCode = "RATE_LIMITED"
	RejectServerBusy        RejectCode = "SERVER_BUSY"
	RejectUnknown           RejectCode = "UNKNOWN"
)

// CloseReason enumerates the reasons a session may close.
type CloseReason string

const (
	CloseNormal          CloseReason = "NORMAL"
	CloseTimeout         CloseReason = "TIMEOUT"
	CloseError           CloseReason = "ERROR"
	CloseClientShutdown  CloseReason = "CLIENT_SHUTDOWN"
	CloseServerShutdown  CloseReason = "SERVER_SHUTDOWN"
)

// ControlMessage is the out-of-band JSON envelope exchanged by the
// transport. SessionID is null until a session_id has been allocated
// (HELLO from the initiating side always carries a null session_id).
type ControlMessage struct {
	Type            MessageType     `json:"type"`
	SessionID       *string         `json:"session_id"`
	TimestampMillis int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// capabilitiesWire is the JSON-facing representation of Capabilities.
// Kept distinct from the internal type so codec.Algorithm/codec.Security
// (a string and a byte enum respectively) serialize as plain strings on
// the wire without exposing internal numeric representations.
type capabilitiesWire struct {
	Algorithms        []string `json:"algorithms"`
	TokenizerIDs      []string `json:"tokenizer_ids"`
	SecurityModes     []string `json:"security_modes"`
	MaxPayloadSize    uint32   `json:"max_payload_size"`
	Streaming         bool     `json:"streaming"`
	ThreatScanning    bool     `json:"threat_scanning"`
	BinarySafeChannel bool     `json:"binary_safe_channel"`
}

func securityModeName(mode codec.Security) string {
	switch mode {
	case codec.SecurityNone:
		return "None"
	case codec.SecurityHMAC:
		return "HMAC"
	case codec.SecurityAEAD:
		return "AEAD"
	default:
		return "Unknown"
	}
}

func securityModeFromName(name string) (codec.Security, error) {
	switch name {
	case "None":
		return codec.SecurityNone, nil
	case "HMAC":
		return codec.SecurityHMAC, nil
	case "AEAD":
		return codec.SecurityAEAD, nil
	default:
		return 0, fmt.Errorf("session: unknown security mode %q", name)
	}
}

func toWire(c Capabilities) capabilitiesWire {
	algorithms := make([]string, len(c.Algorithms))
	for i, alg := range c.Algorithms {
		algorithms[i] = string(alg)
	}
	tokenizerIDs := make([]string, len(c.TokenizerIDs))
	for i, id := range c.TokenizerIDs {
		tokenizerIDs[i] = string(rune(id))
	}
	securityModes := make([]string, len(c.SecurityModes))
	for i, mode := range c.SecurityModes {
		securityModes[i] = securityModeName(mode)
	}
	return capabilitiesWire{
		Algorithms:        algorithms,
		TokenizerIDs:      tokenizerIDs,
		SecurityModes:     securityModes,
		MaxPayloadSize:    c.MaxPayloadSize,
		Streaming:         c.Streaming,
		ThreatScanning:    c.ThreatScanning,
		BinarySafeChannel: c.BinarySafeChannel,
	}
}

func fromWire(w capabilitiesWire) (Capabilities, error) {
	algorithms := make([]codec.Algorithm, len(w.Algorithms))
	for i, alg := range w.Algorithms {
		algorithms[i] = codec.Algorithm(alg)
	}
	tokenizerIDs := make([]byte, len(w.TokenizerIDs))
	for i, id := range w.TokenizerIDs {
		if len(id) != 1 {
			return Capabilities{}, fmt.Errorf("session: tokenizer id %q is not a single character", id)
		}
		tokenizerIDs[i] = id[0]
	}
	securityModes := make([]codec.Security, len(w.SecurityModes))
	for i, name := range w.SecurityModes {
		mode, err := securityModeFromName(name)
		if err != nil {
			return Capabilities{}, err
		}
		securityModes[i] = mode
	}
	return Capabilities{
		Algorithms:        algorithms,
		TokenizerIDs:      tokenizerIDs,
		SecurityModes:     securityModes,
		MaxPayloadSize:    w.MaxPayloadSize,
		Streaming:         w.Streaming,
		ThreatScanning:    w.ThreatScanning,
		BinarySafeChannel: w.BinarySafeChannel,
	}, nil
}

// HelloPayload is the payload of a HELLO message.
type HelloPayload struct {
	Capabilities Capabilities
}

func (p HelloPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(p.Capabilities))
}

func (p *HelloPayload) UnmarshalJSON(data []byte) error {
	var wire capabilitiesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	caps, err := fromWire(wire)
	if err != nil {
		return err
	}
	p.Capabilities = caps
	return nil
}

// AcceptPayload is the payload of an ACCEPT message: the negotiated
// (intersected) capability set.
type AcceptPayload struct {
	Capabilities Capabilities
}

func (p AcceptPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(p.Capabilities))
}

func (p *AcceptPayload) UnmarshalJSON(data []byte) error {
	var wire capabilitiesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	caps, err := fromWire(wire)
	if err != nil {
		return err
	}
	p.Capabilities = caps
	return nil
}

// RejectPayload is the payload of a REJECT message.
type RejectPayload struct {
	Code   RejectCode `json:"code"`
	Reason string     `json:"reason,omitempty"`
}

// ClosePayload is the payload of a CLOSE message.
type ClosePayload struct {
	Reason CloseReason `json:"reason"`
}

func marshalPayload(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, newError(KindInvalidMessage, "failed to marshal payload", err)
	}
	return raw, nil
}
