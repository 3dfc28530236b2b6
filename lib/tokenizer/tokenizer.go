// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

// Package tokenizer defines the pluggable BPE tokenizer capability used
// by the token-native codec, plus a small registry so callers can inject
// backends instead of relying on a process-wide singleton.
//
// Tokenizer vocabularies (cl100k_base, o200k_base, Llama BPE) are large
// external assets; this package does not embed one. The byte-level
// backends registered by NewDefaultRegistry are round-trip-correct
// placeholders that satisfy the wire contract (a stable one-character id,
// a u32 token stream, and decode(encode(s)) == s) without depending on a
// vocabulary file. A production deployment injects a real BPE backend
// through Registry.Register using the same interface.
package tokenizer

import (
	"fmt"
	"unicode/utf8"
)

// ID identifies a tokenizer backend on the wire. Only three values are
// defined by the protocol.
type ID byte

const (
	CL100kBase ID = 'C'
	O200kBase  ID = 'O'
	LlamaBPE   ID = 'L'
)

// Tokenizer converts between UTF-8 text and a sequence of token ids. A
// tokenizer's vocabulary is implicit: encode and decode must agree on it
// for the round trip in spec §8 property 8 to hold.
type Tokenizer interface {
	// ID returns the stable one-character wire identifier.
	ID() ID
	// Encode tokenizes text into a sequence of token ids.
	Encode(text string) ([]uint32, error)
	// Decode reconstructs text from a sequence of token ids produced by
	// this same tokenizer. Decode must return an error rather than
	// producing invalid UTF-8 or panicking on an out-of-vocabulary id.
	Decode(ids []uint32) (string, error)
}

// Registry is an explicit, injectable mapping from tokenizer id to
// backend. The zero value is not usable; construct with NewRegistry.
// Concurrent use requires no external locking: registrations are
// expected at startup, and lookups afterward are read-only accesses to
// an otherwise-immutable map reference held by the caller.
type Registry struct {
	backends map[ID]Tokenizer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[ID]Tokenizer)}
}

// NewDefaultRegistry returns a registry pre-populated with byte-level
// placeholder backends for all three protocol tokenizer ids. Callers
// that have a real BPE vocabulary should Register a replacement before
// using the registry.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(newByteTokenizer(CL100kBase))
	r.Register(newByteTokenizer(O200kBase))
	r.Register(newByteTokenizer(LlamaBPE))
	return r
}

// Register adds or replaces a backend under its own ID.
func (r *Registry) Register(t Tokenizer) {
	r.backends[t.ID()] = t
}

// Lookup returns the backend registered for id, or false if none is
// registered.
func (r *Registry) Lookup(id ID) (Tokenizer, bool) {
	t, ok := r.backends[id]
	return t, ok
}

// byteTokenizer is a placeholder Tokenizer that treats every UTF-8 byte
// of the input as its own token id. It is fully round-trip-correct for
// any valid UTF-8 string, which is the only property the wire format
// requires of a backend.
type byteTokenizer struct {
	id ID
}

func newByteTokenizer(id ID) *byteTokenizer {
	return &byteTokenizer{id: id}
}

func (t *byteTokenizer) ID() ID { return t.id }

func (t *byteTokenizer) Encode(text string) ([]uint32, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("tokenizer: input is not valid UTF-8")
	}
	ids := make([]uint32, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = uint32(text[i])
	}
	return ids, nil
}

func (t *byteTokenizer) Decode(ids []uint32) (string, error) {
	buf := make([]byte, len(ids))
	for i, id := range ids {
		if id > 0xFF {
			return "", fmt.Errorf("tokenizer: id %d out of range for byte-level backend %c", id, t.id)
		}
		buf[i] = byte(id)
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("tokenizer: decoded bytes are not valid UTF-8")
	}
	return string(buf), nil
}

// CountTokens returns the number of tokens text would encode to under
// the backend registered for id, without materializing the decoded
// string again. No other package in this module calls it; the session
// layer does not enforce payload limits in token units.
func CountTokens(r *Registry, id ID, text string) (int, error) {
	backend, ok := r.Lookup(id)
	if !ok {
		return 0, fmt.Errorf("tokenizer: unknown id %c", byte(id))
	}
	ids, err := backend.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
