// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/base64"
	"fmt"

	"github.com/bureau-foundation/m2m/lib/tokenizer"
	"github.com/bureau-foundation/m2m/lib/varint"
)

// EncodeToken tokenizes original as UTF-8 text, emits its ids as a
// concatenated varint stream, base64-encodes that stream, and assembles
// the "#TK|<id>|<base64>" wire frame.
func EncodeToken(original []byte, registry *tokenizer.Registry, id tokenizer.ID) ([]byte, error) {
	backend, ok := registry.Lookup(id)
	if !ok {
		return nil, newError(KindInvalidCodec, fmt.Sprintf("unknown tokenizer id %c", byte(id)), nil)
	}

	ids, err := backend.Encode(string(original))
	if err != nil {
		return nil, newError(KindCompression, "tokenization failed", err)
	}

	varintStream := encodeVarintStream(ids)
	encoded := base64.StdEncoding.EncodeToString(varintStream)

	wire := make([]byte, 0, 4+1+1+len(encoded))
	wire = append(wire, "#TK|"...)
	wire = append(wire, byte(id))
	wire = append(wire, '|')
	wire = append(wire, encoded...)
	return wire, nil
}

// EncodeTokenBinary produces the binary-safe token-native variant: a
// single tokenizer-id byte {0,1,2} followed by the raw varint stream,
// with no base64 wrapper and no "#TK|" prefix. Only valid when both
// peers have negotiated a binary-safe channel capability — enforcement
// of that capability is the session layer's responsibility, not this
// codec's.
func EncodeTokenBinary(original []byte, registry *tokenizer.Registry, id tokenizer.ID) ([]byte, error) {
	backend, ok := registry.Lookup(id)
	if !ok {
		return nil, newError(KindInvalidCodec, fmt.Sprintf("unknown tokenizer id %c", byte(id)), nil)
	}

	ids, err := backend.Encode(string(original))
	if err != nil {
		return nil, newError(KindCompression, "tokenization failed", err)
	}

	slot, err := binaryTokenizerSlot(id)
	if err != nil {
		return nil, err
	}

	varintStream := encodeVarintStream(ids)
	out := make([]byte, 0, 1+len(varintStream))
	out = append(out, slot)
	out = append(out, varintStream...)
	return out, nil
}

// DecodeToken reverses EncodeToken. wire must already have the "#TK|"
// prefix stripped, i.e. it begins with the tokenizer id byte.
func DecodeToken(wire []byte, registry *tokenizer.Registry) ([]byte, error) {
	if len(wire) < 2 || wire[1] != '|' {
		return nil, newError(KindInvalidCodec, "malformed token-native header", nil)
	}
	id := tokenizer.ID(wire[0])
	backend, ok := registry.Lookup(id)
	if !ok {
		return nil, newError(KindInvalidCodec, fmt.Sprintf("unknown tokenizer id %c", byte(id)), nil)
	}

	encoded := wire[2:]
	varintStream, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, newError(KindDecompression, "invalid base64 in token-native frame", err)
	}

	ids, err := decodeVarintStream(varintStream)
	if err != nil {
		return nil, err
	}

	text, err := backend.Decode(ids)
	if err != nil {
		return nil, newError(KindDecompression, "detokenization failed", err)
	}
	return []byte(text), nil
}

// DecodeTokenBinary reverses EncodeTokenBinary.
func DecodeTokenBinary(wire []byte, registry *tokenizer.Registry) ([]byte, error) {
	if len(wire) < 1 {
		return nil, newError(KindInvalidCodec, "empty binary token-native frame", nil)
	}
	id, err := binaryTokenizerID(wire[0])
	if err != nil {
		return nil, err
	}
	backend, ok := registry.Lookup(id)
	if !ok {
		return nil, newError(KindInvalidCodec, fmt.Sprintf("unknown tokenizer id %c", byte(id)), nil)
	}

	ids, err := decodeVarintStream(wire[1:])
	if err != nil {
		return nil, err
	}

	text, err := backend.Decode(ids)
	if err != nil {
		return nil, newError(KindDecompression, "detokenization failed", err)
	}
	return []byte(text), nil
}

func encodeVarintStream(ids []uint32) []byte {
	out := make([]byte, 0, len(ids)*2)
	for _, id := range ids {
		out = varint.Append(out, id)
	}
	return out
}

func decodeVarintStream(data []byte) ([]uint32, error) {
	var ids []uint32
	for len(data) > 0 {
		value, n, err := varint.Decode(data)
		if err != nil {
			return nil, newError(KindDecompression, "truncated varint in token-native stream", err)
		}
		ids = append(ids, value)
		data = data[n:]
	}
	return ids, nil
}

func binaryTokenizerSlot(id tokenizer.ID) (byte, error) {
	switch id {
	case tokenizer.CL100kBase:
		return 0, nil
	case tokenizer.O200kBase:
		return 1, nil
	case tokenizer.LlamaBPE:
		return 2, nil
	default:
		return 0, newError(KindInvalidCodec, fmt.Sprintf("unknown tokenizer id %c", byte(id)), nil)
	}
}

func binaryTokenizerID(slot byte) (tokenizer.ID, error) {
	switch slot {
	case 0:
		return tokenizer.CL100kBase, nil
	case 1:
		return tokenizer.O200kBase, nil
	case 2:
		return tokenizer.LlamaBPE, nil
	default:
		return 0, newError(KindInvalidCodec, fmt.Sprintf("unknown binary tokenizer slot %d", slot), nil)
	}
}
