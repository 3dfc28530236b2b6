// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/bureau-foundation/m2m/lib/secret"
)

func mustMasterKey(t *testing.T) *secret.Buffer {
	t.Helper()
	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i)
	}
	buffer, err := secret.NewFromBytes(master)
	if err != nil {
		t.Fatalf("failed to build master key: %v", err)
	}
	return buffer
}

func TestValidateID(t *testing.T) {
	if err := ValidateID(""); err == nil {
		t.Error("expected error for empty id")
	}
	if err := ValidateID("agent-001"); err != nil {
		t.Errorf("expected valid id, got %v", err)
	}
	if err := ValidateID("test_org.name"); err == nil {
		t.Error("expected error for id containing a period")
	}
	if err := ValidateID("has space"); err == nil {
		t.Error("expected error for id with space")
	}
	if err := ValidateID("has/slash"); err == nil {
		t.Error("expected error for id with slash")
	}
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	if err := ValidateID(string(long)); err == nil {
		t.Error("expected error for id longer than 128 bytes")
	}
}

func TestDeriveAgentKey_TestVector(t *testing.T) {
	master := mustMasterKey(t)
	defer master.Close()

	// master = 00..1f, label "m2m/v1/test-org/agent-001", length 32.
	key, err := DeriveAgentKey(master, "test-org", "agent-001", 32)
	if err != nil {
		t.Fatalf("DeriveAgentKey failed: %v", err)
	}
	defer key.Close()

	want := "c87f687fae1cf5991cd0cc64e113ec09750b0d1c41338a41cd8ad90bdd60dba1"
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		t.Fatalf("bad test vector: %v", err)
	}

	if !bytesEqual(key.Bytes(), wantBytes) {
		t.Errorf("HKDF output = %x, want %x", key.Bytes(), wantBytes)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDeriveAgentKey_Deterministic(t *testing.T) {
	master := mustMasterKey(t)
	defer master.Close()

	a, err := DeriveAgentKey(master, "acme", "agent-1", 32)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	master2 := mustMasterKey(t)
	defer master2.Close()
	b, err := DeriveAgentKey(master2, "acme", "agent-1", 32)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if !a.Equal(b) {
		t.Error("expected identical (master, org, agent) to derive identical keys")
	}
}

func TestDeriveAgentKey_InvalidOrg(t *testing.T) {
	master := mustMasterKey(t)
	defer master.Close()

	if _, err := DeriveAgentKey(master, "", "agent-1", 32); err == nil {
		t.Error("expected error for empty org")
	}
}

func TestDerivePurposeKey_RequiresPurpose(t *testing.T) {
	master := mustMasterKey(t)
	defer master.Close()

	if _, err := DerivePurposeKey(master, "acme", "agent-1", "", 32); err == nil {
		t.Error("expected error for empty purpose")
	}
}

func TestDeriveSessionKey_SymmetricAcrossInitiator(t *testing.T) {
	master := mustMasterKey(t)
	defer master.Close()

	forward, err := DeriveSessionKey(master, "acme", "agent-a", "agent-b", "sid-1", 32)
	if err != nil {
		t.Fatal(err)
	}
	defer forward.Close()

	master2 := mustMasterKey(t)
	defer master2.Close()
	reverse, err := DeriveSessionKey(master2, "acme", "agent-b", "agent-a", "sid-1", 32)
	if err != nil {
		t.Fatal(err)
	}
	defer reverse.Close()

	if !forward.Equal(reverse) {
		t.Error("expected session key to be symmetric regardless of a/b order")
	}
}

func TestKeyring_PutGetKeyID(t *testing.T) {
	keyring, err := NewKeyring()
	if err != nil {
		t.Fatal(err)
	}

	master := mustMasterKey(t)
	key, err := DeriveAgentKey(master, "acme", "agent-1", 32)
	master.Close()
	if err != nil {
		t.Fatal(err)
	}

	keyring.Put("agent-1", key)

	got, err := keyring.Get("agent-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.Equal(key) {
		t.Error("expected retrieved key to equal stored key")
	}

	id1, err := keyring.KeyID(got)
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	id2, err := keyring.KeyID(got)
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	if id1 != id2 {
		t.Error("expected KeyID to be stable across calls")
	}
}

func TestKeyring_Get_NotFound(t *testing.T) {
	keyring, err := NewKeyring()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := keyring.Get("missing"); err == nil {
		t.Error("expected error for missing key id")
	}
}
