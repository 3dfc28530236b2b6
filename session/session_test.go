// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bureau-foundation/m2m/codec"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fullCapabilities() Capabilities {
	return Capabilities{
		Algorithms:        []codec.Algorithm{codec.AlgorithmM2M, codec.AlgorithmTokenNative, codec.AlgorithmBrotli},
		TokenizerIDs:      []byte{'C', 'O'},
		SecurityModes:     []codec.Security{codec.SecurityNone, codec.SecurityAEAD},
		MaxPayloadSize:    1 << 20,
		Streaming:         true,
		ThreatScanning:    true,
		BinarySafeChannel: true,
	}
}

func TestSession_HandshakeToEstablished(t *testing.T) {
	initiator := New(Config{}, fullCapabilities())
	acceptor := New(Config{}, fullCapabilities())

	hello, err := initiator.CreateHello(epoch)
	if err != nil {
		t.Fatalf("CreateHello: %v", err)
	}
	if initiator.State() != StateHelloSent {
		t.Fatalf("initiator state = %v, want HelloSent", initiator.State())
	}

	accept, err := acceptor.Receive(hello, epoch)
	if err != nil {
		t.Fatalf("acceptor.Receive(HELLO): %v", err)
	}
	if accept == nil || accept.Type != TypeAccept {
		t.Fatalf("expected ACCEPT response, got %+v", accept)
	}
	if acceptor.State() != StateEstablished {
		t.Fatalf("acceptor state = %v, want Established", acceptor.State())
	}
	sessionID, ok := acceptor.SessionID()
	if !ok || sessionID == "" {
		t.Fatal("expected acceptor to generate a non-empty session id")
	}

	resp, err := initiator.Receive(*accept, epoch)
	if err != nil {
		t.Fatalf("initiator.Receive(ACCEPT): %v", err)
	}
	if resp != nil {
		t.Errorf("expected no response to ACCEPT, got %+v", resp)
	}
	if initiator.State() != StateEstablished {
		t.Fatalf("initiator state = %v, want Established", initiator.State())
	}
	initiatorID, _ := initiator.SessionID()
	if initiatorID != sessionID {
		t.Errorf("initiator session id = %q, want %q", initiatorID, sessionID)
	}

	negotiated, ok := initiator.NegotiatedCapabilities()
	if !ok {
		t.Fatal("expected negotiated capabilities")
	}
	if len(negotiated.Algorithms) != 3 {
		t.Errorf("negotiated algorithms = %v, want all 3", negotiated.Algorithms)
	}
}

func TestSession_NoCommonAlgorithm_RejectsAndCloses(t *testing.T) {
	initiator := New(Config{}, Capabilities{Algorithms: []codec.Algorithm{codec.AlgorithmTokenNative}, MaxPayloadSize: 1024})
	acceptor := New(Config{}, Capabilities{Algorithms: []codec.Algorithm{codec.AlgorithmBrotli}, MaxPayloadSize: 1024})

	hello, err := initiator.CreateHello(epoch)
	if err != nil {
		t.Fatalf("CreateHello: %v", err)
	}

	reject, err := acceptor.Receive(hello, epoch)
	if err != nil {
		t.Fatalf("acceptor.Receive(HELLO): %v", err)
	}
	if reject == nil || reject.Type != TypeReject {
		t.Fatalf("expected REJECT response, got %+v", reject)
	}
	if acceptor.State() != StateClosed {
		t.Fatalf("acceptor state = %v, want Closed", acceptor.State())
	}

	var rejectPayload RejectPayload
	if err := json.Unmarshal(reject.Payload, &rejectPayload); err != nil {
		t.Fatalf("failed to parse reject payload: %v", err)
	}
	if rejectPayload.Code != RejectNoCommonAlgorithm {
		t.Errorf("reject code = %q, want %q", rejectPayload.Code, RejectNoCommonAlgorithm)
	}

	if _, err := initiator.Receive(*reject, epoch); err != nil {
		t.Fatalf("initiator.Receive(REJECT): %v", err)
	}
	if initiator.State() != StateClosed {
		t.Fatalf("initiator state = %v, want Closed", initiator.State())
	}
}

func TestSession_HandshakeTimeout(t *testing.T) {
	s := New(Config{HandshakeTimeout: 30 * time.Second}, fullCapabilities())
	if _, err := s.CreateHello(epoch); err != nil {
		t.Fatalf("CreateHello: %v", err)
	}

	result := s.Tick(epoch.Add(15 * time.Second))
	if result.Closed {
		t.Fatal("session closed before handshake timeout elapsed")
	}

	result = s.Tick(epoch.Add(31 * time.Second))
	if !result.Closed || result.CloseReason != CloseTimeout {
		t.Fatalf("expected timeout closure, got %+v", result)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", s.State())
	}

	_, err := s.Receive(ControlMessage{Type: TypeAccept}, epoch.Add(32*time.Second))
	if err == nil {
		t.Fatal("expected error receiving on a timed-out session")
	}
	sessionErr, ok := err.(*Error)
	if !ok || sessionErr.Kind != KindExpired {
		t.Fatalf("expected KindExpired for a session closed by timeout, got %v", err)
	}
}

func TestSession_ClosedByTimeout_CloseReturnsExpired(t *testing.T) {
	cfg := Config{CloseTimeout: 5 * time.Second}
	a, _ := establishedPair(t)
	a.config = cfg

	if _, err := a.Close(CloseNormal, epoch); err != nil {
		t.Fatalf("Close: %v", err)
	}
	result := a.Tick(epoch.Add(6 * time.Second))
	if !result.Closed {
		t.Fatal("expected forced closure after close timeout")
	}

	_, err := a.Close(CloseNormal, epoch.Add(7*time.Second))
	if err == nil {
		t.Fatal("expected error closing an already-closed session")
	}
	sessionErr, ok := err.(*Error)
	if !ok || sessionErr.Kind != KindExpired {
		t.Fatalf("expected KindExpired since Tick forced closure via CloseTimeout, got %v", err)
	}
}

func establishedPair(t *testing.T) (*Session, *Session) {
	t.Helper()
	initiator := New(Config{}, fullCapabilities())
	acceptor := New(Config{}, fullCapabilities())

	hello, err := initiator.CreateHello(epoch)
	if err != nil {
		t.Fatalf("CreateHello: %v", err)
	}
	accept, err := acceptor.Receive(hello, epoch)
	if err != nil {
		t.Fatalf("acceptor.Receive(HELLO): %v", err)
	}
	if _, err := initiator.Receive(*accept, epoch); err != nil {
		t.Fatalf("initiator.Receive(ACCEPT): %v", err)
	}
	return initiator, acceptor
}

func TestSession_KeepAlive_PingPong(t *testing.T) {
	cfg := Config{KeepAliveInterval: 10 * time.Second, PongTimeout: 10 * time.Second}
	a := New(cfg, fullCapabilities())
	b := New(cfg, fullCapabilities())
	hello, _ := a.CreateHello(epoch)
	accept, _ := b.Receive(hello, epoch)
	a.Receive(*accept, epoch)

	result := a.Tick(epoch.Add(10 * time.Second))
	if !result.SendPing {
		t.Fatal("expected keep-alive PING to be due")
	}
	if a.PendingPings() != 1 {
		t.Errorf("PendingPings() = %d, want 1", a.PendingPings())
	}

	sessionID, _ := a.SessionID()
	ping := ControlMessage{Type: TypePing, SessionID: &sessionID, TimestampMillis: 0, Payload: []byte("{}")}
	pong, err := b.Receive(ping, epoch.Add(10*time.Second))
	if err != nil {
		t.Fatalf("b.Receive(PING): %v", err)
	}
	if pong == nil || pong.Type != TypePong {
		t.Fatalf("expected PONG response, got %+v", pong)
	}

	if _, err := a.Receive(*pong, epoch.Add(11*time.Second)); err != nil {
		t.Fatalf("a.Receive(PONG): %v", err)
	}
	if a.PendingPings() != 0 {
		t.Errorf("PendingPings() = %d after PONG, want 0", a.PendingPings())
	}
}

func TestSession_MissedPongsCloseSession(t *testing.T) {
	cfg := Config{KeepAliveInterval: 10 * time.Second, PongTimeout: 5 * time.Second}
	a := New(cfg, fullCapabilities())
	b := New(cfg, fullCapabilities())
	hello, _ := a.CreateHello(epoch)
	accept, _ := b.Receive(hello, epoch)
	a.Receive(*accept, epoch)

	t0 := epoch.Add(10 * time.Second)
	if r := a.Tick(t0); !r.SendPing {
		t.Fatal("expected first PING")
	}

	t1 := t0.Add(5 * time.Second)
	if r := a.Tick(t1); !r.SendPing {
		t.Fatal("expected retry PING after first missed pong")
	}
	if a.MissedPongs() != 1 {
		t.Fatalf("MissedPongs() = %d, want 1", a.MissedPongs())
	}

	t2 := t1.Add(5 * time.Second)
	if r := a.Tick(t2); !r.SendPing {
		t.Fatal("expected retry PING after second missed pong")
	}
	if a.MissedPongs() != 2 {
		t.Fatalf("MissedPongs() = %d, want 2", a.MissedPongs())
	}

	t3 := t2.Add(5 * time.Second)
	result := a.Tick(t3)
	if !result.Closed {
		t.Fatalf("expected session to close after 3 missed pongs, MissedPongs()=%d", a.MissedPongs())
	}
	if a.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", a.State())
	}
}

func TestSession_InactivityTimeout(t *testing.T) {
	cfg := Config{InactivityTimeout: 5 * time.Minute, KeepAliveInterval: time.Hour}
	a, _ := establishedPair(t)
	a.config = cfg

	result := a.Tick(epoch.Add(6 * time.Minute))
	if !result.Closed || result.CloseReason != CloseTimeout {
		t.Fatalf("expected inactivity closure, got %+v", result)
	}
}

func TestSession_GracefulClose(t *testing.T) {
	cfg := Config{CloseTimeout: 5 * time.Second}
	a := New(cfg, fullCapabilities())
	b := New(cfg, fullCapabilities())
	hello, _ := a.CreateHello(epoch)
	accept, _ := b.Receive(hello, epoch)
	a.Receive(*accept, epoch)

	closeMsg, err := a.Close(CloseNormal, epoch)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.State() != StateClosing {
		t.Fatalf("state = %v, want Closing", a.State())
	}

	if _, err := b.Receive(closeMsg, epoch); err != nil {
		t.Fatalf("b.Receive(CLOSE): %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("b state = %v, want Closed", b.State())
	}

	if _, err := b.Close(CloseNormal, epoch); err == nil {
		t.Error("expected error closing an already-closed session")
	}

	if _, err := a.Receive(closeMsg, epoch.Add(time.Second)); err != nil {
		t.Fatalf("a.Receive(CLOSE) while Closing: %v", err)
	}
	if a.State() != StateClosed {
		t.Fatalf("a state = %v, want Closed", a.State())
	}
}

func TestSession_CloseTimeoutForcesClosed(t *testing.T) {
	cfg := Config{CloseTimeout: 5 * time.Second}
	a, _ := establishedPair(t)
	a.config = cfg

	if _, err := a.Close(CloseNormal, epoch); err != nil {
		t.Fatalf("Close: %v", err)
	}

	result := a.Tick(epoch.Add(6 * time.Second))
	if !result.Closed {
		t.Fatal("expected forced closure after close timeout")
	}
	if a.State() != StateClosed {
		t.Fatalf("state = %v, want Closed", a.State())
	}
}

func TestSession_InvalidMessageDoesNotChangeState(t *testing.T) {
	s := New(Config{}, fullCapabilities())
	sessionID := "irrelevant"
	msg := ControlMessage{Type: TypePing, SessionID: &sessionID, Payload: []byte("{}")}

	if _, err := s.Receive(msg, epoch); err == nil {
		t.Fatal("expected protocol error for PING in Initial state")
	}
	if s.State() != StateInitial {
		t.Fatalf("state = %v, want unchanged Initial", s.State())
	}
}

func TestSession_ReceiveOnClosedSession(t *testing.T) {
	s := New(Config{}, fullCapabilities())
	s.state = StateClosed

	if _, err := s.Receive(ControlMessage{Type: TypeData}, epoch); err == nil {
		t.Fatal("expected error receiving on a closed session")
	}
}

func TestSession_DataMessageUpdatesActivityWithoutResponse(t *testing.T) {
	a, b := establishedPair(t)
	_ = a

	resp, err := b.Receive(ControlMessage{Type: TypeData, Payload: []byte(`{"n":1}`)}, epoch.Add(time.Minute))
	if err != nil {
		t.Fatalf("Receive(DATA): %v", err)
	}
	if resp != nil {
		t.Errorf("expected no response to DATA, got %+v", resp)
	}
}
