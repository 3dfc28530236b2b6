// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"

	"github.com/bureau-foundation/m2m/lib/tokenizer"
)

// Engine dispatches compress/decompress calls to the concrete codec
// selected by algorithm (compress) or by wire prefix (decompress). It
// holds an injected tokenizer registry rather than reaching for a
// process-wide singleton, so a caller can swap tokenizer backends —
// including in tests — without touching this package.
type Engine struct {
	tokenizers *tokenizer.Registry
}

// NewEngine returns an Engine backed by the given tokenizer registry. A
// nil registry is replaced with tokenizer.NewDefaultRegistry().
func NewEngine(registry *tokenizer.Registry) *Engine {
	if registry == nil {
		registry = tokenizer.NewDefaultRegistry()
	}
	return &Engine{tokenizers: registry}
}

// RegisterTokenizer adds or replaces a tokenizer backend without
// requiring a new Engine.
func (e *Engine) RegisterTokenizer(t tokenizer.Tokenizer) {
	e.tokenizers.Register(t)
}

// Compress applies the selected algorithm to original. It never chooses
// the algorithm itself — that selection is an external concern.
func (e *Engine) Compress(original []byte, algorithm Algorithm, opts EncodeOptions) (CompressionResult, error) {
	var wire []byte
	var err error

	switch algorithm {
	case AlgorithmM2M:
		wire, err = EncodeM2M(original, opts)
	case AlgorithmTokenNative:
		if opts.BinarySafe {
			wire, err = EncodeTokenBinary(original, e.tokenizers, tokenizer.ID(opts.TokenizerID))
		} else {
			wire, err = EncodeToken(original, e.tokenizers, tokenizer.ID(opts.TokenizerID))
		}
	case AlgorithmBrotli:
		wire, err = EncodeLegacyV3(original)
	default:
		return CompressionResult{}, newError(KindInvalidCodec, fmt.Sprintf("unknown algorithm %q", algorithm), nil)
	}
	if err != nil {
		return CompressionResult{}, err
	}

	return CompressionResult{
		Data:            wire,
		OriginalBytes:   len(original),
		CompressedBytes: len(wire),
	}, nil
}

// Decompress inspects wireBytes' prefix in order — M2M v1, token-native,
// legacy Brotli v3.0, legacy v2.0, passthrough — and delegates to the
// matching codec. An unrecognized prefix is returned unchanged. The
// engine never partially decodes: any failure after a prefix match
// returns an error and no output.
func (e *Engine) Decompress(wireBytes []byte, opts DecodeOptions) ([]byte, error) {
	switch {
	case bytes.HasPrefix(wireBytes, []byte(PrefixM2Mv1)):
		return DecodeM2M(wireBytes[len(PrefixM2Mv1):], opts)

	case bytes.HasPrefix(wireBytes, []byte(PrefixTokenNativeStart)):
		return DecodeToken(wireBytes[len(PrefixTokenNativeStart):], e.tokenizers)

	case bytes.HasPrefix(wireBytes, []byte(PrefixLegacyV3)):
		return DecodeLegacyV3(wireBytes[len(PrefixLegacyV3):])

	case bytes.HasPrefix(wireBytes, []byte(PrefixLegacyV2)):
		return DecodeLegacyV2(wireBytes[len(PrefixLegacyV2):])

	default:
		return wireBytes, nil
	}
}
