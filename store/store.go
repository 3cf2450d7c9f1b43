// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store owns the file descriptor and the memory-mapped region
// backing a diskmap file. It grows the file and the mapping on demand and
// exposes a stable origin (the address of byte 0 of the live mapping)
// together with the current mapped size.
//
// A Store is not safe for concurrent use; it is designed for use by a
// single goroutine, the way lldb.Filer implementations are.
package store

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/thomasrebele/diskmap/dberr"
)

// Backing is the minimal surface the alloc package needs from a mapped
// region. Store implements it against a real file; MemStore implements it
// against a growable in-process byte slice for tests, mirroring the way
// lldb pairs an os.File-backed Filer with a MemFiler test double.
type Backing interface {
	// Bytes returns the live mapping. The returned slice is only valid
	// until the next call that may Grow the mapping.
	Bytes() []byte

	// Size returns the current mapped size in bytes.
	Size() int64

	// Grow extends the backing to at least newBytes and remaps it. Any
	// slice previously returned by Bytes is invalidated.
	Grow(newBytes int64) error

	// Sync flushes dirty pages to the underlying storage.
	Sync() error

	// Close flushes and releases all resources.
	Close() error

	// Abandon releases all resources without flushing.
	Abandon() error
}

var _ Backing = (*Store)(nil)

// Store is a Backing implemented over an mmap'd regular file.
type Store struct {
	path   string
	file   *os.File
	mmap   []byte
	closed bool
}

// Open opens or creates the file at path, ensures its length is at least
// initialBytes, and maps the whole file read/write shared (initialBytes
// bytes for a shorter or new file, the full existing length otherwise).
func Open(path string, initialBytes int64) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, &dberr.IOError{Op: "open", Path: path, Err: err}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &dberr.IOError{Op: "stat", Path: path, Err: err}
	}

	size := fi.Size()
	if size < initialBytes {
		size = initialBytes
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, &dberr.IOError{Op: "truncate", Path: path, Err: err}
		}
	}

	s := &Store{path: path, file: f}
	if err := s.mapFile(size); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) mapFile(size int64) error {
	mm, err := unix.Mmap(int(s.file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return &dberr.IOError{Op: "mmap", Path: s.path, Err: err}
	}

	s.mmap = mm
	return nil
}

func (s *Store) unmapFile() error {
	if s.mmap == nil {
		return nil
	}

	err := unix.Munmap(s.mmap)
	s.mmap = nil
	if err != nil {
		return &dberr.IOError{Op: "munmap", Path: s.path, Err: err}
	}
	return nil
}

// Bytes implements Backing.
func (s *Store) Bytes() []byte { return s.mmap }

// Size implements Backing.
func (s *Store) Size() int64 { return int64(len(s.mmap)) }

// Grow implements Backing. It flushes, unmaps, extends the file, and
// re-maps it; the new base address may differ from the old one.
func (s *Store) Grow(newBytes int64) error {
	if newBytes <= s.Size() {
		return nil
	}

	if err := s.Sync(); err != nil {
		return err
	}

	if err := s.unmapFile(); err != nil {
		return err
	}

	if err := s.file.Truncate(newBytes); err != nil {
		return &dberr.IOError{Op: "truncate", Path: s.path, Err: err}
	}

	return s.mapFile(newBytes)
}

// Sync implements Backing.
func (s *Store) Sync() error {
	if s.mmap == nil {
		return nil
	}

	if err := unix.Msync(s.mmap, unix.MS_SYNC); err != nil {
		return &dberr.IOError{Op: "msync", Path: s.path, Err: err}
	}
	return nil
}

// Close implements Backing: sync, unmap, close the descriptor. A second
// call reports the misuse instead of silently succeeding, the way
// SimpleFileFiler.Close refuses a Close while updates are still nested.
func (s *Store) Close() error {
	if s.closed {
		return &dberr.InvalidArgument{Op: "store.Close", Detail: "already closed"}
	}
	s.closed = true

	var first error
	if err := s.Sync(); err != nil && first == nil {
		first = err
	}
	if err := s.unmapFile(); err != nil && first == nil {
		first = err
	}
	if err := s.file.Close(); err != nil && first == nil {
		first = &dberr.IOError{Op: "close", Path: s.path, Err: err}
	}
	return first
}

// Abandon implements Backing: unmap and close without flushing, used for
// transactional discard in tests. A second call, like Close, reports the
// misuse instead of silently succeeding.
func (s *Store) Abandon() error {
	if s.closed {
		return &dberr.InvalidArgument{Op: "store.Abandon", Detail: "already closed"}
	}
	s.closed = true

	var first error
	if err := s.unmapFile(); err != nil {
		first = err
	}
	if err := s.file.Close(); err != nil && first == nil {
		first = &dberr.IOError{Op: "close", Path: s.path, Err: err}
	}
	return first
}

// Path returns the path the Store was opened with.
func (s *Store) Path() string { return s.path }
