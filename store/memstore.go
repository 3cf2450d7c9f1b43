// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

// MemStore is an in-process Backing implementation used by the alloc,
// hashtable and multimap package tests so they can exercise the full
// allocator/rehash machinery without touching the filesystem. It plays
// the same role lldb.MemFiler plays opposite lldb.SimpleFileFiler: a
// drop-in, memory-only stand-in for the real mmap-backed Store.
type MemStore struct {
	buf []byte
}

var _ Backing = (*MemStore)(nil)

// NewMemStore returns a MemStore pre-sized to initialBytes.
func NewMemStore(initialBytes int64) *MemStore {
	return &MemStore{buf: make([]byte, initialBytes)}
}

// Bytes implements Backing.
func (m *MemStore) Bytes() []byte { return m.buf }

// Size implements Backing.
func (m *MemStore) Size() int64 { return int64(len(m.buf)) }

// Grow implements Backing.
func (m *MemStore) Grow(newBytes int64) error {
	if newBytes <= int64(len(m.buf)) {
		return nil
	}

	grown := make([]byte, newBytes)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

// Sync implements Backing; a nop, there is nothing to flush.
func (m *MemStore) Sync() error { return nil }

// Close implements Backing; a nop.
func (m *MemStore) Close() error { return nil }

// Abandon implements Backing; a nop.
func (m *MemStore) Abandon() error { return nil }
