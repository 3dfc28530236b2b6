// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"io"

	"github.com/andybalholm/brotli"
)

// EncodeLegacyV3 produces the "#M2M[v3.0]|DATA:<base64>" frame: raw
// Brotli over original, base64-encoded. This is the only legacy variant
// new messages may be produced with; v2.0 is decode-only.
func EncodeLegacyV3(original []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := brotli.NewWriterLevel(&buf, brotliQuality)
	if _, err := writer.Write(original); err != nil {
		return nil, newError(KindCompression, "brotli write failed", err)
	}
	if err := writer.Close(); err != nil {
		return nil, newError(KindCompression, "brotli close failed", err)
	}

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	out := make([]byte, 0, len(PrefixLegacyV3)+len(encoded))
	out = append(out, PrefixLegacyV3...)
	out = append(out, encoded...)
	return out, nil
}

// DecodeLegacyV3 reverses EncodeLegacyV3. data must already have the
// "#M2M[v3.0]|DATA:" prefix stripped.
func DecodeLegacyV3(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, newError(KindDecompression, "invalid base64 in legacy v3.0 frame", err)
	}
	original, err := io.ReadAll(brotli.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, newError(KindDecompression, "brotli decompression failed", err)
	}
	return original, nil
}

// DecodeLegacyV2 decodes the deprecated "#M2M[v2.0]|DATA:" frame. Its
// producers used either Brotli or zlib inconsistently, so decode
// attempts Brotli first and falls back to zlib; if both fail, decoding
// fails. No new messages may be produced with this prefix.
func DecodeLegacyV2(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, newError(KindDecompression, "invalid base64 in legacy v2.0 frame", err)
	}

	if original, brotliErr := io.ReadAll(brotli.NewReader(bytes.NewReader(raw))); brotliErr == nil {
		return original, nil
	}

	zlibReader, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(KindDecompression, "legacy v2.0 frame is neither valid brotli nor zlib", err)
	}
	defer zlibReader.Close()

	original, err := io.ReadAll(zlibReader)
	if err != nil {
		return nil, newError(KindDecompression, "legacy v2.0 zlib decompression failed", err)
	}
	return original, nil
}
