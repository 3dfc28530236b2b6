// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"sort"

	"github.com/bureau-foundation/m2m/codec"
)

// Capabilities is the set of features a peer declares support for
// during handshake.
type Capabilities struct {
	Algorithms     []codec.Algorithm
	TokenizerIDs   []byte // tokenizer.ID values, e.g. 'C', 'O', 'L'
	SecurityModes  []codec.Security
	MaxPayloadSize uint32
	Streaming      bool
	ThreatScanning bool

	// BinarySafeChannel gates the token-native codec's binary variant
	// (no base64 wrapper). Restored from original_source, which ties
	// this to the transport rather than the algorithm set.
	BinarySafeChannel bool
}

func intersectAlgorithms(a, b []codec.Algorithm) []codec.Algorithm {
	present := make(map[codec.Algorithm]bool, len(a))
	for _, alg := range a {
		present[alg] = true
	}
	var out []codec.Algorithm
	for _, alg := range b {
		if present[alg] {
			out = append(out, alg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func intersectTokenizers(a, b []byte) []byte {
	present := make(map[byte]bool, len(a))
	for _, id := range a {
		present[id] = true
	}
	var out []byte
	for _, id := range b {
		if present[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func intersectSecurityModes(a, b []codec.Security) []codec.Security {
	present := make(map[codec.Security]bool, len(a))
	for _, mode := range a {
		present[mode] = true
	}
	var out []codec.Security
	for _, mode := range b {
		if present[mode] {
			out = append(out, mode)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func requiresTokenizer(algorithms []codec.Algorithm) bool {
	for _, alg := range algorithms {
		if alg == codec.AlgorithmTokenNative {
			return true
		}
	}
	return false
}

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// IntersectCapabilities computes the negotiated capability set for a
// session from two peers' advertised capabilities, per the rules:
// (a) algorithms are set-intersected, empty is a hard reject; (b)
// tokenizers are set-intersected, empty is a reject only when a
// tokenizer-requiring algorithm was negotiated; (c) security modes are
// set-intersected, defaulting to None when no shared non-None mode
// exists; (d) max payload size is the minimum of both; (e) streaming
// and the binary-safe channel flag are logical ANDs.
func IntersectCapabilities(local, remote Capabilities) (Capabilities, error) {
	algorithms := intersectAlgorithms(local.Algorithms, remote.Algorithms)
	if len(algorithms) == 0 {
		return Capabilities{}, newError(KindNegotiationFailed, "no common algorithm", nil)
	}

	tokenizers := intersectTokenizers(local.TokenizerIDs, remote.TokenizerIDs)
	if len(tokenizers) == 0 && requiresTokenizer(algorithms) {
		return Capabilities{}, newError(KindCapabilityMismatch, "no common tokenizer for a negotiated algorithm requiring one", nil)
	}

	securityModes := intersectSecurityModes(local.SecurityModes, remote.SecurityModes)
	hasNonNone := false
	for _, mode := range securityModes {
		if mode != codec.SecurityNone {
			hasNonNone = true
			break
		}
	}
	if !hasNonNone {
		securityModes = []codec.Security{codec.SecurityNone}
	}

	return Capabilities{
		Algorithms:        algorithms,
		TokenizerIDs:      tokenizers,
		SecurityModes:     securityModes,
		MaxPayloadSize:    minUint32(local.MaxPayloadSize, remote.MaxPayloadSize),
		Streaming:         local.Streaming && remote.Streaming,
		ThreatScanning:    local.ThreatScanning && remote.ThreatScanning,
		BinarySafeChannel: local.BinarySafeChannel && remote.BinarySafeChannel,
	}, nil
}
