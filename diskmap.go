// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diskmap is a persistent on-disk multimap backed by a single
// memory-mapped file. It layers a backing store (package store), a block
// allocator (package alloc), a robin-hood hash table (package hashtable)
// and a key/value-set multimap (package multimap) on top of each other;
// this package is the thin facade tying the four together behind one
// handle, the way lldb/dbm's own top package glues Filer, Allocator and
// BTree into one database handle.
package diskmap

import (
	"os"

	"github.com/thomasrebele/diskmap/alloc"
	"github.com/thomasrebele/diskmap/dberr"
	"github.com/thomasrebele/diskmap/multimap"
	"github.com/thomasrebele/diskmap/store"
)

// defaultOuterBucketCount is the starting bucket count for a freshly
// created file's outer table.
const defaultOuterBucketCount = 16

// initialFileBytes is the minimum size a brand new or reopened file is
// mapped at (a longer existing file is mapped at its full length) before
// the allocator's own Create/Open and the first Allocate call grow it
// further; mmap requires a non-empty mapping, so this plays the role
// nomasters/haystack's DataHeaderSize+RecordSize floor plays for its own
// initial Truncate.
const initialFileBytes = 4096

// DiskMap is a handle on an open diskmap file.
type DiskMap struct {
	s  *store.Store
	a  *alloc.Allocator
	mm *multimap.Multimap
}

// Create initializes a brand new diskmap file at path.
func Create(path string) (*DiskMap, error) {
	s, err := store.Open(path, initialFileBytes)
	if err != nil {
		return nil, err
	}

	a, err := alloc.Create(s)
	if err != nil {
		s.Abandon()
		return nil, err
	}

	mm, headerOff, err := multimap.Create(a, defaultOuterBucketCount)
	if err != nil {
		s.Abandon()
		return nil, err
	}
	a.SetRoot(headerOff)

	return &DiskMap{s: s, a: a, mm: mm}, nil
}

// Open reattaches to an existing diskmap file. Unlike Create, it never
// brings a new file into existence.
func Open(path string) (*DiskMap, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &dberr.IOError{Op: "open", Path: path, Err: err}
	}

	s, err := store.Open(path, initialFileBytes)
	if err != nil {
		return nil, err
	}

	a, err := alloc.Open(s)
	if err != nil {
		s.Close()
		return nil, err
	}

	mm, err := multimap.Open(a, a.Root())
	if err != nil {
		s.Close()
		return nil, err
	}

	return &DiskMap{s: s, a: a, mm: mm}, nil
}

// Insert adds value to the set of values associated with key.
func (d *DiskMap) Insert(key, value string) error {
	return d.mm.Insert(key, value)
}

// ValuesOf returns every value associated with key.
func (d *DiskMap) ValuesOf(key string) ([]string, error) {
	return d.mm.ValuesOf(key)
}

// IterateKeys visits every key with at least one value.
func (d *DiskMap) IterateKeys(fn func(key string) bool) {
	d.mm.IterateKeys(fn)
}

// Verify checks the allocator's block list for structural corruption.
func (d *DiskMap) Verify() error {
	return d.a.Verify()
}

// Stats reports the outer table's occupancy for diagnostics.
func (d *DiskMap) Stats() Stats {
	hs := d.mm.Stats()
	as := d.a.Stats()
	return Stats{
		Keys:        hs.Filled,
		BucketCount: hs.BucketCount,
		MaxDist:     hs.MaxDist,
		LoadFactor:  hs.LoadFactor,
		MappedBytes: as.MappedSize,
		UsedBlocks:  as.UsedBlocks,
		FreeBlocks:  as.FreeBlocks,
	}
}

// Stats summarizes a DiskMap's occupancy across its outer table and its
// backing allocator, combining hashtable.Stats and alloc.Stats into the
// single read-only view a caller (or cmd/diskmap) wants.
type Stats struct {
	Keys        uint64
	BucketCount uint64
	MaxDist     uint64
	LoadFactor  float64
	MappedBytes int64
	UsedBlocks  int64
	FreeBlocks  int64
}

// Close flushes and releases the underlying file.
func (d *DiskMap) Close() error {
	return d.s.Close()
}
