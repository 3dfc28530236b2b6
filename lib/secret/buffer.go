// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"fmt"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds key material in memory that is locked against swapping,
// excluded from core dumps, and zeroed on close. The backing memory is
// allocated via mmap outside the Go heap.
//
// A Buffer must not be copied after creation. Use Close to release the
// memory when the key is no longer needed. After Close, any access to
// the buffer's contents will panic.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	closed bool
}

// New allocates a new key buffer of the given size. The buffer is
// backed by an anonymous mmap region that is:
//   - Locked into physical RAM (mlock), preventing swap
//   - Excluded from core dumps (MADV_DONTDUMP)
//   - Outside the Go heap, invisible to the garbage collector
//
// The caller must call Close when the key is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	// Allocate anonymous memory outside the Go heap.
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	// Lock the memory to prevent it from being swapped to disk.
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock failed: %w", err)
	}

	// Exclude from core dumps.
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		// Treated as fatal: MADV_DONTDUMP may not be supported on all
		// kernels, but a buffer that could appear in a core dump is not
		// handed out. The region is unlocked and unmapped first.
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP) failed: %w", err)
	}

	return &Buffer{
		data:   data,
		length: size,
	}, nil
}

// NewFromBytes creates a key buffer from existing data. The source
// bytes are copied into the protected region and then zeroed in place,
// so the caller's original slice no longer holds the key.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}

	copy(buffer.data, source)
	Zero(source)

	return buffer, nil
}

// Bytes returns the key data. The returned slice points directly into
// the mmap region — do not hold references to it beyond the lifetime of
// the Buffer. Panics if the buffer has been closed.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}

	return b.data[:b.length]
}

// String returns the key data as a string. The returned string is
// backed by a heap-allocated copy (Go strings are immutable and must
// live on the heap), so this should only be used at API boundaries
// that require string arguments — parsing an X25519 identity, for
// instance. Prefer Bytes() when possible.
//
// Panics if the buffer has been closed.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}

	return string(b.data[:b.length])
}

// Len returns the size of the key data.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.length
}

// Equal reports whether two buffers hold identical bytes, using a
// constant-time comparison so that key-equality checks (session key
// symmetry tests, key rotation dedup) do not leak timing information
// about where the buffers first differ.
func (b *Buffer) Equal(other *Buffer) bool {
	b.mu.Lock()
	left := append([]byte(nil), b.data[:b.length]...)
	b.mu.Unlock()
	defer Zero(left)

	other.mu.Lock()
	right := append([]byte(nil), other.data[:other.length]...)
	other.mu.Unlock()
	defer Zero(right)

	if len(left) != len(right) {
		return false
	}
	return subtle.ConstantTimeCompare(left, right) == 1
}

// WriteTo writes the key data to w. It implements io.WriterTo so a key
// can be fed directly into an hmac.Hash or an HKDF info writer without
// an intermediate heap-visible copy beyond what io.Writer itself
// requires. Panics if the buffer has been closed.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	data := b.Bytes()
	n, err := w.Write(data)
	return int64(n), err
}

// Close zeros the buffer contents with a write the compiler cannot
// prove dead, unlocks and unmaps the memory. After Close, any access
// to the buffer's Bytes() will panic. Close is idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.data)

	// Unlock and unmap. Errors here are reported but not fatal — the
	// memory will be released when the process exits regardless.
	var firstError error
	if err := unix.Munlock(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munlock failed: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}

	b.data = nil
	return firstError
}

// Zero overwrites data with zero bytes using a volatile-style write
// that the compiler cannot elide as dead code. A plain `for i := range
// data { data[i] = 0 }` immediately before the backing memory is freed
// or goes out of scope is exactly the pattern an optimizer is entitled
// to remove — nothing observable depends on the write. Routing every
// zeroing operation through runtime.KeepAlive after the loop pins the
// slice header live past the loop, which is enough to keep gc from
// proving the store unobservable under the current compiler; combined
// with mmap'd memory that isn't a stack-allocated temporary in the
// first place, there is no allocation for an optimizer to reason about
// eliminating entirely.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
	runtime.KeepAlive(data)
}
