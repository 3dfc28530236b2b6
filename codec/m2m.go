// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"math"

	"github.com/andybalholm/brotli"

	m2mcrypto "github.com/bureau-foundation/m2m/crypto"
	"github.com/bureau-foundation/m2m/lib/secret"
	"github.com/bureau-foundation/m2m/lib/varint"
)

// brotliQuality is the compression quality used when encoding M2M v1
// payloads. Brotli quality is a speed/ratio tradeoff only; every level
// is lossless, so the exact value is implementation-defined per the
// wire contract.
const brotliQuality = 5

// chatCompletionShape is the shallow JSON shape the routing-header
// extractor reads. Fields absent from the source JSON take their zero
// value, matching the "malformed JSON falls back to empty/zero" policy.
type chatCompletionShape struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens *uint32 `json:"max_tokens"`
}

// extractRoutingMetadata shallow-parses original as a chat-completion
// JSON body. A JSON parse failure is not itself an error here — it
// yields the zero-value metadata, and the caller still succeeds at
// encoding the message (the compressed payload preserves the original
// bytes exactly regardless of whether routing extraction succeeded).
func extractRoutingMetadata(original []byte, costOverride *float32) RoutingHeader {
	var shape chatCompletionShape
	_ = json.Unmarshal(original, &shape) // best effort; zero value on failure

	roles := make([]Role, len(shape.Messages))
	var contentBytes uint64
	for i, m := range shape.Messages {
		roles[i] = roleFromString(m.Role)
		contentBytes += uint64(len(m.Content))
	}
	contentHint := uint32(contentBytes)
	if contentBytes > math.MaxUint32 {
		contentHint = math.MaxUint32
	}

	var maxTokens uint32
	if shape.MaxTokens != nil {
		maxTokens = *shape.MaxTokens
	}

	var cost float32
	if costOverride != nil {
		cost = *costOverride
	} else {
		cost = float32(DefaultCostPerByte) * float32(contentHint)
	}

	return RoutingHeader{
		Model:        shape.Model,
		Roles:        roles,
		ContentHint:  contentHint,
		MaxTokens:    maxTokens,
		CostEstimate: cost,
	}
}

// buildRoutingHeader serializes a RoutingHeader in the field order
// specified by the wire contract: model, msg_count, roles, content_hint,
// max_tokens, cost_estimate.
func buildRoutingHeader(h RoutingHeader) []byte {
	out := make([]byte, 0, 32+len(h.Model))

	modelBytes := []byte(h.Model)
	out = varint.Append(out, uint32(len(modelBytes)))
	out = append(out, modelBytes...)

	out = varint.Append(out, uint32(len(h.Roles)))

	packedRoles := make([]uint8, len(h.Roles))
	for i, r := range h.Roles {
		packedRoles[i] = uint8(r)
	}
	out = append(out, varint.PackRoles(packedRoles)...)

	out = varint.Append(out, h.ContentHint)
	out = varint.Append(out, h.MaxTokens)

	var costBits [4]byte
	binary.LittleEndian.PutUint32(costBits[:], math.Float32bits(h.CostEstimate))
	out = append(out, costBits[:]...)

	return out
}

// parseRoutingHeader is the exact inverse of buildRoutingHeader.
func parseRoutingHeader(data []byte) (RoutingHeader, error) {
	modelLen, n, err := varint.Decode(data)
	if err != nil {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (model length)", err)
	}
	data = data[n:]

	if uint64(len(data)) < uint64(modelLen) {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (model bytes)", nil)
	}
	model := string(data[:modelLen])
	data = data[modelLen:]

	msgCount, n, err := varint.Decode(data)
	if err != nil {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (msg_count)", err)
	}
	data = data[n:]

	roleBytesNeeded := (int(msgCount) + 3) / 4
	if len(data) < roleBytesNeeded {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (roles)", nil)
	}
	packedRoles, err := varint.UnpackRoles(data[:roleBytesNeeded], int(msgCount))
	if err != nil {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (roles)", err)
	}
	data = data[roleBytesNeeded:]

	roles := make([]Role, len(packedRoles))
	for i, r := range packedRoles {
		roles[i] = Role(r)
	}

	contentHint, n, err := varint.Decode(data)
	if err != nil {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (content_hint)", err)
	}
	data = data[n:]

	maxTokens, n, err := varint.Decode(data)
	if err != nil {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (max_tokens)", err)
	}
	data = data[n:]

	if len(data) < 4 {
		return RoutingHeader{}, newError(KindDecompression, "truncated routing header (cost_estimate)", nil)
	}
	cost := math.Float32frombits(binary.LittleEndian.Uint32(data[:4]))

	return RoutingHeader{
		Model:        model,
		Roles:        roles,
		ContentHint:  contentHint,
		MaxTokens:    maxTokens,
		CostEstimate: cost,
	}, nil
}

func buildFixedHeader(headerLen int, schema Schema, security Security, flags uint32) []byte {
	out := make([]byte, FixedHeaderSize)
	binary.LittleEndian.PutUint16(out[0:2], uint16(headerLen))
	out[2] = byte(schema)
	out[3] = byte(security)
	binary.LittleEndian.PutUint32(out[4:8], flags)
	// out[8:20] reserved, left zero.
	return out
}

func parseFixedHeader(data []byte) (FixedHeader, error) {
	if len(data) < FixedHeaderSize {
		return FixedHeader{}, newError(KindDecompression, "truncated fixed header", nil)
	}
	headerLen := binary.LittleEndian.Uint16(data[0:2])
	if headerLen < FixedHeaderSize {
		return FixedHeader{}, newError(KindDecompression, "header_len below minimum fixed header size", nil)
	}
	schema := Schema(data[2])
	if !schema.valid() {
		return FixedHeader{}, newError(KindDecompression, "unrecognized schema byte", nil)
	}
	security := Security(data[3])
	if !security.valid() {
		return FixedHeader{}, newError(KindDecompression, "unrecognized security byte", nil)
	}
	flags := binary.LittleEndian.Uint32(data[4:8])
	// Reserved bytes 8:20 are ignored on parse (forward compatibility).
	return FixedHeader{HeaderLen: headerLen, Schema: schema, Security: security, Flags: flags}, nil
}

// EncodeM2M builds an M2M v1 wire frame from the original JSON bytes,
// including the leading "#M2M|1|" prefix.
func EncodeM2M(original []byte, opts EncodeOptions) ([]byte, error) {
	metadata := extractRoutingMetadata(original, opts.CostEstimate)
	routingHeader := buildRoutingHeader(metadata)

	headerLen := FixedHeaderSize + len(routingHeader)
	if headerLen > MaxHeaderLen {
		return nil, newError(KindCompression, "routing header too large for a 2-byte header_len field", nil)
	}
	fixedHeader := buildFixedHeader(headerLen, opts.Schema, opts.Security, opts.Flags)

	checksum := crc32.ChecksumIEEE(original)

	var compressedBuf bytes.Buffer
	writer := brotli.NewWriterLevel(&compressedBuf, brotliQuality)
	if _, err := writer.Write(original); err != nil {
		return nil, newError(KindCompression, "brotli write failed", err)
	}
	if err := writer.Close(); err != nil {
		return nil, newError(KindCompression, "brotli close failed", err)
	}

	payloadSection := make([]byte, 8, 8+compressedBuf.Len())
	binary.LittleEndian.PutUint32(payloadSection[0:4], uint32(len(original)))
	binary.LittleEndian.PutUint32(payloadSection[4:8], checksum)
	payloadSection = append(payloadSection, compressedBuf.Bytes()...)

	securedTail, err := applySecurity(opts, fixedHeader, routingHeader, payloadSection)
	if err != nil {
		return nil, err
	}

	wire := make([]byte, 0, len(PrefixM2Mv1)+headerLen+len(securedTail))
	wire = append(wire, PrefixM2Mv1...)
	wire = append(wire, fixedHeader...)
	wire = append(wire, routingHeader...)
	wire = append(wire, securedTail...)
	return wire, nil
}

// applySecurity returns the bytes that follow the routing header on the
// wire: the payload section verbatim (None), the payload section plus a
// trailing HMAC tag (HMAC), or nonce||ciphertext||tag (AEAD).
func applySecurity(opts EncodeOptions, fixedHeader, routingHeader, payloadSection []byte) ([]byte, error) {
	switch opts.Security {
	case SecurityNone:
		return payloadSection, nil

	case SecurityHMAC:
		tag, err := m2mcrypto.ComputeHMAC(opts.Key, fixedHeader, routingHeader, payloadSection)
		if err != nil {
			return nil, err
		}
		return append(append([]byte(nil), payloadSection...), tag...), nil

	case SecurityAEAD:
		nonceSource := opts.NonceSource
		if nonceSource == nil {
			nonceSource = m2mcrypto.RandomNonceSource{}
		}
		nonce, sealed, err := m2mcrypto.SealAEAD(nonceSource, opts.Key, fixedHeader, routingHeader, payloadSection)
		if err != nil {
			return nil, err
		}
		out := make([]byte, 0, len(nonce)+len(sealed))
		out = append(out, nonce...)
		out = append(out, sealed...)
		return out, nil

	default:
		return nil, newError(KindCompression, "unrecognized security mode", nil)
	}
}

// InspectM2M recovers the fixed and routing headers of an M2M v1 frame
// without touching the payload section, so callers can route or
// prioritize a message without paying the cost of decompression or
// (when present) authentication.
func InspectM2M(wire []byte) (FixedHeader, RoutingHeader, error) {
	fixed, err := parseFixedHeader(wire)
	if err != nil {
		return FixedHeader{}, RoutingHeader{}, err
	}
	if len(wire) < int(fixed.HeaderLen) {
		return FixedHeader{}, RoutingHeader{}, newError(KindDecompression, "truncated header", nil)
	}
	routing, err := parseRoutingHeader(wire[FixedHeaderSize:fixed.HeaderLen])
	if err != nil {
		return FixedHeader{}, RoutingHeader{}, err
	}
	return fixed, routing, nil
}

// DecodeM2M reverses EncodeM2M. wire must already have the "#M2M|1|"
// prefix stripped.
func DecodeM2M(wire []byte, opts DecodeOptions) ([]byte, error) {
	fixed, _, err := InspectM2M(wire)
	if err != nil {
		return nil, err
	}

	fixedHeaderBytes := wire[:FixedHeaderSize]
	routingHeaderBytes := wire[FixedHeaderSize:fixed.HeaderLen]
	tail := wire[fixed.HeaderLen:]

	payloadSection, err := removeSecurity(fixed.Security, opts.Key, fixedHeaderBytes, routingHeaderBytes, tail)
	if err != nil {
		return nil, err
	}

	if len(payloadSection) < 8 {
		return nil, newError(KindDecompression, "truncated payload section", nil)
	}
	payloadLen := binary.LittleEndian.Uint32(payloadSection[0:4])
	expectedCRC := binary.LittleEndian.Uint32(payloadSection[4:8])
	compressed := payloadSection[8:]

	if payloadLen > opts.maxPayloadSize() {
		return nil, newError(KindDecompression, "payload_len exceeds configured maximum", nil)
	}

	original, err := decompressBounded(compressed, payloadLen)
	if err != nil {
		return nil, err
	}

	if crc32.ChecksumIEEE(original) != expectedCRC {
		return nil, newError(KindDecompression, "crc32 mismatch", nil)
	}

	return original, nil
}

// removeSecurity is the inverse of applySecurity: it validates and
// strips whatever the security byte says was applied, returning the
// plaintext payload section.
func removeSecurity(security Security, key *secret.Buffer, fixedHeader, routingHeader, tail []byte) ([]byte, error) {
	switch security {
	case SecurityNone:
		return tail, nil

	case SecurityHMAC:
		if len(tail) < m2mcrypto.HMACSize {
			return nil, newError(KindDecompression, "truncated HMAC tag", nil)
		}
		payloadSection := tail[:len(tail)-m2mcrypto.HMACSize]
		tag := tail[len(tail)-m2mcrypto.HMACSize:]
		if err := m2mcrypto.VerifyHMAC(key, fixedHeader, routingHeader, payloadSection, tag); err != nil {
			return nil, err
		}
		return payloadSection, nil

	case SecurityAEAD:
		if len(tail) < m2mcrypto.NonceSize+m2mcrypto.TagSize {
			return nil, newError(KindDecompression, "truncated AEAD frame", nil)
		}
		nonce := tail[:m2mcrypto.NonceSize]
		sealed := tail[m2mcrypto.NonceSize:]
		return m2mcrypto.OpenAEAD(key, fixedHeader, routingHeader, nonce, sealed)

	default:
		return nil, newError(KindDecompression, "unrecognized security mode", nil)
	}
}

// decompressBounded Brotli-decompresses compressed, reading at most
// expectedLen+1 bytes of output so a decompression bomb cannot grow
// unbounded. The one byte beyond expectedLen is what exposes an
// over-long stream: output of any length other than exactly expectedLen
// is rejected.
func decompressBounded(compressed []byte, expectedLen uint32) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(compressed))
	limited := io.LimitReader(reader, int64(expectedLen)+1)

	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, newError(KindDecompression, "brotli decompression failed", err)
	}
	if uint32(len(out)) != expectedLen {
		return nil, newError(KindDecompression, "decompressed size does not match payload_len", nil)
	}
	return out, nil
}
