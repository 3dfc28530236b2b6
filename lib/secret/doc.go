// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for cryptographic key
// material: HKDF master keys, derived session keys, HMAC keys, and
// X25519 private scalars.
//
// [Buffer] allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed with a write the compiler cannot prove dead, then
// unlocked and unmapped. Because the memory lives outside the Go heap,
// the garbage collector cannot copy or relocate it, so no stray
// duplicate of a key survives in a moved allocation.
//
// Constructors:
//
//   - [New] -- allocates a zero-filled buffer of a given size
//   - [NewFromBytes] -- copies into protected memory, zeros the source
//
// Access via [Buffer.Bytes] (slice into mmap region) or [Buffer.String]
// (heap copy for API boundaries that require a string, such as parsing
// an X25519 identity). [Buffer.Equal] uses constant-time comparison so
// key-equality checks do not leak timing information. [Buffer.WriteTo]
// implements io.WriterTo so a key can be fed into an HMAC or HKDF
// reader without an intermediate heap copy. After Close, any access
// panics. Close is idempotent.
//
// Depends on golang.org/x/sys/unix. No further internal dependencies —
// this package sits at the bottom of the dependency graph, imported by
// the crypto package everywhere key material is held.
package secret
