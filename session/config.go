// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "time"

// Config holds the tunable timeouts for a Session. The zero value is
// valid: every field defaults to the values below when left unset
// (New applies the defaults).
type Config struct {
	// HandshakeTimeout bounds how long a session may sit in HelloSent
	// waiting for ACCEPT or REJECT before Tick forces it to Closed.
	// Defaults to 30s.
	HandshakeTimeout time.Duration

	// KeepAliveInterval is how long an established session may go
	// without inbound traffic or an outgoing PING before Tick asks for a
	// PING. Defaults to 10s.
	KeepAliveInterval time.Duration

	// PongTimeout bounds how long a PING may go unanswered before it
	// counts as missed. Defaults to 10s.
	PongTimeout time.Duration

	// CloseTimeout bounds how long a session may sit in Closing waiting
	// for the peer's CLOSE acknowledgement before Tick forces it to
	// Closed. Defaults to 5s.
	CloseTimeout time.Duration

	// InactivityTimeout closes an established session that has received
	// no traffic at all (not even PONGs) for this long. Defaults to
	// 5 minutes.
	InactivityTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 10 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = 5 * time.Second
	}
	if c.InactivityTimeout == 0 {
		c.InactivityTimeout = 5 * time.Minute
	}
	return c
}
