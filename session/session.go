// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the handshake and keep-alive state machine
// that negotiates codec capabilities between two peers. A Session is not
// concurrent: every exported method must be called from a single
// goroutine, or externally serialized by the caller. Time never comes
// from an internal clock — every operation that can time out takes the
// current time as an explicit parameter, so a caller drives the state
// machine's notion of "now" (typically from one dispatch loop per
// connection).
package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is one of the five states a Session can occupy.
type State int

const (
	StateInitial State = iota
	StateHelloSent
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateHelloSent:
		return "HelloSent"
	case StateEstablished:
		return "Established"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// TickResult reports what a caller must do after a Tick call: send a
// PING, or note that the session has just closed.
type TickResult struct {
	SendPing     bool
	Closed       bool
	CloseReason  CloseReason
}

// Session is a single handshake/keep-alive state machine instance. The
// zero value is not usable; construct with New.
type Session struct {
	config Config

	state                   State
	sessionID               string
	localCapabilities       Capabilities
	negotiatedCapabilities  Capabilities
	hasNegotiatedCaps       bool
	rejectReason            *RejectPayload
	closeReason             CloseReason

	lastActivityAt time.Time
	helloSentAt    time.Time
	closingAt      time.Time

	awaitingPong   bool
	lastPingSentAt time.Time
	missedPongs    int
}

// New constructs a Session in the Initial state.
func New(config Config, localCapabilities Capabilities) *Session {
	return &Session{
		config:            config.withDefaults(),
		state:             StateInitial,
		localCapabilities: localCapabilities,
	}
}

// State returns the session's current state.
func (s *Session) State() State { return s.state }

// SessionID returns the negotiated session id and true, or ("", false)
// if no session has been established yet.
func (s *Session) SessionID() (string, bool) {
	if s.sessionID == "" {
		return "", false
	}
	return s.sessionID, true
}

// NegotiatedCapabilities returns the intersected capability set and
// true once the session has been established.
func (s *Session) NegotiatedCapabilities() (Capabilities, bool) {
	return s.negotiatedCapabilities, s.hasNegotiatedCaps
}

// PendingPings reports whether a PING has been sent and is awaiting a
// PONG.
func (s *Session) PendingPings() int {
	if s.awaitingPong {
		return 1
	}
	return 0
}

// MissedPongs reports how many consecutive PINGs have gone unanswered.
// The session closes once this reaches 3.
func (s *Session) MissedPongs() int {
	return s.missedPongs
}

// CreateHello transitions Initial -> HelloSent and returns a HELLO
// message advertising the session's local capabilities.
func (s *Session) CreateHello(now time.Time) (ControlMessage, error) {
	if s.state != StateInitial {
		return ControlMessage{}, newError(KindProtocol, "CreateHello is only valid from the Initial state", nil)
	}

	payload, err := marshalPayload(HelloPayload{Capabilities: s.localCapabilities})
	if err != nil {
		return ControlMessage{}, err
	}

	s.state = StateHelloSent
	s.helloSentAt = now
	s.lastActivityAt = now

	return ControlMessage{
		Type:            TypeHello,
		SessionID:       nil,
		TimestampMillis: now.UnixMilli(),
		Payload:         payload,
	}, nil
}

// Close transitions Established -> Closing and returns the CLOSE
// message to send. From Initial or HelloSent (a session that never
// finished handshaking) it closes immediately since there is no peer
// relationship yet to gracefully tear down.
func (s *Session) Close(reason CloseReason, now time.Time) (ControlMessage, error) {
	switch s.state {
	case StateEstablished:
		s.state = StateClosing
		s.closingAt = now
		s.closeReason = reason

		payload, err := marshalPayload(ClosePayload{Reason: reason})
		if err != nil {
			return ControlMessage{}, err
		}
		sessionID := s.sessionID
		return ControlMessage{
			Type:            TypeClose,
			SessionID:       &sessionID,
			TimestampMillis: now.UnixMilli(),
			Payload:         payload,
		}, nil

	case StateInitial, StateHelloSent:
		s.state = StateClosed
		s.closeReason = reason
		return ControlMessage{}, nil

	case StateClosed:
		return ControlMessage{}, newError(s.closedKind(), "session is already closed", nil)

	default: // StateClosing
		return ControlMessage{}, newError(KindNotEstablished, "session is already closing", nil)
	}
}

// closedKind reports the Kind a closed session's errors should carry:
// KindExpired when its close reason is TIMEOUT, KindNotEstablished
// otherwise. Every Tick-driven timeout sets that reason, but so does a
// local Close(CloseTimeout) or a peer CLOSE carrying reason TIMEOUT.
func (s *Session) closedKind() Kind {
	if s.closeReason == CloseTimeout {
		return KindExpired
	}
	return KindNotEstablished
}

// Receive processes an inbound control message and returns the response
// to send, if any. A message that is not valid for the current state
// never changes state; it is reported as a KindProtocol error, or as
// KindNotEstablished/KindExpired once the session is closed. A payload
// that fails to parse is reported as KindInvalidMessage.
func (s *Session) Receive(msg ControlMessage, now time.Time) (*ControlMessage, error) {
	switch s.state {
	case StateInitial:
		return s.receiveInitial(msg, now)
	case StateHelloSent:
		return s.receiveHelloSent(msg, now)
	case StateEstablished:
		return s.receiveEstablished(msg, now)
	case StateClosing:
		return s.receiveClosing(msg, now)
	default: // StateClosed
		return nil, newError(s.closedKind(), "session is closed", nil)
	}
}

func (s *Session) receiveInitial(msg ControlMessage, now time.Time) (*ControlMessage, error) {
	if msg.Type != TypeHello {
		return nil, newError(KindProtocol, "expected HELLO in Initial state", nil)
	}

	var hello HelloPayload
	if err := json.Unmarshal(msg.Payload, &hello); err != nil {
		return nil, newError(KindInvalidMessage, "malformed HELLO payload", err)
	}

	negotiated, err := IntersectCapabilities(s.localCapabilities, hello.Capabilities)
	if err != nil {
		s.state = StateClosed
		// NO_COMMON_ALGORITHM covers a disjoint algorithm set. A tokenizer
		// mismatch has no dedicated code in spec.md's RejectCode enum, so
		// it reports UNKNOWN rather than the misleading SECURITY_POLICY —
		// the free-text Reason carries the actual explanation (see
		// DESIGN.md's Open Question decisions).
		code := RejectNoCommonAlgorithm
		if sessionErr, ok := err.(*Error); ok && sessionErr.Kind == KindCapabilityMismatch {
			code = RejectUnknown
		}
		reject := RejectPayload{Code: code, Reason: err.Error()}
		s.rejectReason = &reject
		payload, marshalErr := marshalPayload(reject)
		if marshalErr != nil {
			return nil, marshalErr
		}
		return &ControlMessage{
			Type:            TypeReject,
			SessionID:       nil,
			TimestampMillis: now.UnixMilli(),
			Payload:         payload,
		}, nil
	}

	s.sessionID = uuid.New().String()
	s.negotiatedCapabilities = negotiated
	s.hasNegotiatedCaps = true
	s.state = StateEstablished
	s.lastActivityAt = now

	acceptPayload, err := marshalPayload(AcceptPayload{Capabilities: negotiated})
	if err != nil {
		return nil, err
	}
	sessionID := s.sessionID
	return &ControlMessage{
		Type:            TypeAccept,
		SessionID:       &sessionID,
		TimestampMillis: now.UnixMilli(),
		Payload:         acceptPayload,
	}, nil
}

func (s *Session) receiveHelloSent(msg ControlMessage, now time.Time) (*ControlMessage, error) {
	switch msg.Type {
	case TypeAccept:
		var accept AcceptPayload
		if err := json.Unmarshal(msg.Payload, &accept); err != nil {
			return nil, newError(KindInvalidMessage, "malformed ACCEPT payload", err)
		}
		if msg.SessionID == nil {
			return nil, newError(KindInvalidMessage, "ACCEPT missing session_id", nil)
		}
		s.sessionID = *msg.SessionID
		s.negotiatedCapabilities = accept.Capabilities
		s.hasNegotiatedCaps = true
		s.state = StateEstablished
		s.lastActivityAt = now
		return nil, nil

	case TypeReject:
		var reject RejectPayload
		if err := json.Unmarshal(msg.Payload, &reject); err != nil {
			return nil, newError(KindInvalidMessage, "malformed REJECT payload", err)
		}
		s.rejectReason = &reject
		s.state = StateClosed
		return nil, nil

	default:
		return nil, newError(KindProtocol, "expected ACCEPT or REJECT in HelloSent state", nil)
	}
}

func (s *Session) receiveEstablished(msg ControlMessage, now time.Time) (*ControlMessage, error) {
	switch msg.Type {
	case TypePing:
		s.lastActivityAt = now
		sessionID := s.sessionID
		return &ControlMessage{
			Type:            TypePong,
			SessionID:       &sessionID,
			TimestampMillis: now.UnixMilli(),
			Payload:         json.RawMessage("{}"),
		}, nil

	case TypePong:
		s.lastActivityAt = now
		s.awaitingPong = false
		s.missedPongs = 0
		return nil, nil

	case TypeData:
		s.lastActivityAt = now
		return nil, nil

	case TypeClose:
		var closePayload ClosePayload
		if err := json.Unmarshal(msg.Payload, &closePayload); err != nil {
			return nil, newError(KindInvalidMessage, "malformed CLOSE payload", err)
		}
		s.closeReason = closePayload.Reason
		s.state = StateClosed
		return nil, nil

	default:
		return nil, newError(KindProtocol, "unexpected message type in Established state", nil)
	}
}

func (s *Session) receiveClosing(msg ControlMessage, now time.Time) (*ControlMessage, error) {
	if msg.Type == TypeClose {
		s.state = StateClosed
		return nil, nil
	}
	return nil, newError(KindProtocol, "unexpected message type in Closing state", nil)
}

// Tick advances the session's notion of time to now, returning any
// action the caller must take: sending a keep-alive PING, or observing
// that the session has just timed out and closed. The caller is
// responsible for calling Tick regularly (e.g. once per second) on
// every live session; the core never starts its own timer.
func (s *Session) Tick(now time.Time) TickResult {
	switch s.state {
	case StateHelloSent:
		if now.Sub(s.helloSentAt) >= s.config.HandshakeTimeout {
			s.state = StateClosed
			s.closeReason = CloseTimeout
			return TickResult{Closed: true, CloseReason: CloseTimeout}
		}
		return TickResult{}

	case StateEstablished:
		if now.Sub(s.lastActivityAt) >= s.config.InactivityTimeout {
			s.state = StateClosed
			s.closeReason = CloseTimeout
			return TickResult{Closed: true, CloseReason: CloseTimeout}
		}

		if s.awaitingPong {
			if now.Sub(s.lastPingSentAt) >= s.config.PongTimeout {
				s.missedPongs++
				if s.missedPongs >= 3 {
					s.awaitingPong = false
					s.state = StateClosed
					s.closeReason = CloseTimeout
					return TickResult{Closed: true, CloseReason: CloseTimeout}
				}
				s.lastPingSentAt = now
				return TickResult{SendPing: true}
			}
			return TickResult{}
		}

		since := s.lastActivityAt
		if s.lastPingSentAt.After(since) {
			since = s.lastPingSentAt
		}
		if now.Sub(since) >= s.config.KeepAliveInterval {
			s.awaitingPong = true
			s.lastPingSentAt = now
			return TickResult{SendPing: true}
		}
		return TickResult{}

	case StateClosing:
		if now.Sub(s.closingAt) >= s.config.CloseTimeout {
			s.state = StateClosed
			s.closeReason = CloseTimeout
			return TickResult{Closed: true, CloseReason: CloseTimeout}
		}
		return TickResult{}

	default:
		return TickResult{}
	}
}

// RejectReason returns the reason a HELLO was rejected, if this session
// ended that way.
func (s *Session) RejectReason() (RejectPayload, bool) {
	if s.rejectReason == nil {
		return RejectPayload{}, false
	}
	return *s.rejectReason, true
}

// CloseReasonValue returns the reason the session closed, if it has.
func (s *Session) CloseReasonValue() (CloseReason, bool) {
	if s.state != StateClosed {
		return "", false
	}
	return s.closeReason, true
}
