// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec implements the wire-level compression codecs for
// machine-to-machine JSON traffic: the default M2M v1 binary frame, the
// token-native codec, the legacy Brotli/zlib codec, and the dispatch
// engine that picks among them by inspecting a message's prefix.
package codec

import (
	"github.com/bureau-foundation/m2m/crypto"
	"github.com/bureau-foundation/m2m/lib/secret"
)

// Algorithm names a compression algorithm a peer can support. Selection
// among algorithms is an external concern — the engine never picks one
// itself, it only applies the one it is told to.
type Algorithm string

const (
	AlgorithmM2M         Algorithm = "M2M"
	AlgorithmTokenNative Algorithm = "TokenNative"
	AlgorithmBrotli      Algorithm = "Brotli"
)

// Schema identifies the shape of the JSON payload carried by an M2M v1
// frame.
type Schema byte

const (
	SchemaRequest           Schema = 0x01
	SchemaResponse          Schema = 0x02
	SchemaStream            Schema = 0x03
	SchemaError             Schema = 0x10
	SchemaEmbeddingRequest  Schema = 0x11
	SchemaEmbeddingResponse Schema = 0x12
)

func (s Schema) valid() bool {
	switch s {
	case SchemaRequest, SchemaResponse, SchemaStream, SchemaError, SchemaEmbeddingRequest, SchemaEmbeddingResponse:
		return true
	default:
		return false
	}
}

// Security selects which security layer, if any, wraps the payload
// section of an M2M v1 frame.
type Security byte

const (
	SecurityNone Security = 0x00
	SecurityHMAC Security = 0x01
	SecurityAEAD Security = 0x02
)

func (s Security) valid() bool {
	switch s {
	case SecurityNone, SecurityHMAC, SecurityAEAD:
		return true
	default:
		return false
	}
}

// Role is a chat message role, packed 2 bits per entry in the routing
// header.
type Role uint8

const (
	RoleSystem    Role = 0
	RoleUser      Role = 1
	RoleAssistant Role = 2
	RoleTool      Role = 3
)

func roleFromString(s string) Role {
	switch s {
	case "system":
		return RoleSystem
	case "user":
		return RoleUser
	case "assistant":
		return RoleAssistant
	default:
		return RoleTool
	}
}

const (
	// FixedHeaderSize is the exact size in bytes of an M2M v1 fixed
	// header.
	FixedHeaderSize = 20

	// MaxPayloadSize is the default cap on payload_len (the original
	// JSON size before compression), enforced before decompression
	// begins.
	MaxPayloadSize = 16 * 1024 * 1024

	// MaxHeaderLen is the largest value the 2-byte header_len field can
	// represent.
	MaxHeaderLen = 65535

	// DefaultCostPerByte is the placeholder per-byte cost estimate used
	// when EncodeOptions.CostEstimate is nil. It is not part of the wire
	// contract; only round-tripping the resulting f32 is.
	DefaultCostPerByte = 0.0000015
)

// Wire prefixes, checked in this exact order by the engine.
const (
	PrefixM2Mv1            = "#M2M|1|"
	PrefixTokenNativeStart = "#TK|"
	PrefixLegacyV3         = "#M2M[v3.0]|DATA:"
	PrefixLegacyV2         = "#M2M[v2.0]|DATA:"
)

// RoutingHeader is the M2M v1 frame's inspectable metadata, recoverable
// without decompressing the payload.
type RoutingHeader struct {
	Model        string
	Roles        []Role
	ContentHint  uint32
	MaxTokens    uint32
	CostEstimate float32 // NaN encodes "absent"
}

// FixedHeader is the M2M v1 frame's 20-byte fixed-size header.
type FixedHeader struct {
	HeaderLen uint16
	Schema    Schema
	Security  Security
	Flags     uint32
}

// CompressionResult is the output of a compress operation.
type CompressionResult struct {
	Data            []byte
	OriginalBytes   int
	CompressedBytes int
}

// EncodeOptions configures an M2M v1 or token-native encode operation.
type EncodeOptions struct {
	Schema      Schema
	Security    Security
	Key         *secret.Buffer     // required when Security != SecurityNone
	NonceSource crypto.NonceSource // defaults to crypto.RandomNonceSource{} when nil
	Flags       uint32

	// CostEstimate overrides the placeholder per-byte cost formula. A
	// nil value lets the codec compute DefaultCostPerByte * content
	// hint bytes.
	CostEstimate *float32

	// TokenizerID selects the token-native backend when encoding with
	// AlgorithmTokenNative. Ignored otherwise.
	TokenizerID byte

	// BinarySafe requests the token-native binary variant (no base64
	// wrapper). Only meaningful with AlgorithmTokenNative, and only
	// valid when both peers have negotiated a binary-safe channel.
	BinarySafe bool
}

// DecodeOptions configures a decode operation.
type DecodeOptions struct {
	Key            *secret.Buffer // required when the frame's security byte != None
	MaxPayloadSize uint32         // 0 means MaxPayloadSize
}

func (o DecodeOptions) maxPayloadSize() uint32 {
	if o.MaxPayloadSize == 0 {
		return MaxPayloadSize
	}
	return o.MaxPayloadSize
}
