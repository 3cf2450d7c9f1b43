// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package multimap layers a one-to-many string multimap on top of two
// levels of hashtable.Table: an outer table mapping each key to the
// header offset of an inner table, and an inner table per key whose own
// keys are that key's distinct values (and whose values are empty — a
// hash set, not a hash map).
package multimap

import (
	"encoding/binary"

	"github.com/thomasrebele/diskmap/alloc"
	"github.com/thomasrebele/diskmap/dberr"
	"github.com/thomasrebele/diskmap/hashtable"
)

const (
	// outerValueWidth is the width of the outer table's value: the
	// 8-byte offset of a key's inner table header.
	outerValueWidth = 8

	// innerBucketCount is the starting bucket count for a freshly
	// created inner table; it grows on its own once a key accumulates
	// enough distinct values.
	innerBucketCount = 4
)

// Multimap is a persisted key -> set-of-values structure.
type Multimap struct {
	a     *alloc.Allocator
	outer *hashtable.Table
}

// Create allocates a fresh, empty multimap and returns it together with
// the offset of its outer table's header (the handle to pass to Open to
// reattach to it later).
func Create(a *alloc.Allocator, outerBucketCount int) (*Multimap, int64, error) {
	outer, headerOff, err := hashtable.Create(a, outerValueWidth, outerBucketCount)
	if err != nil {
		return nil, 0, err
	}
	return &Multimap{a: a, outer: outer}, headerOff, nil
}

// Open reattaches a Multimap to the outer table at headerOff.
func Open(a *alloc.Allocator, headerOff int64) (*Multimap, error) {
	outer, err := hashtable.Open(a, headerOff, outerValueWidth)
	if err != nil {
		return nil, err
	}
	return &Multimap{a: a, outer: outer}, nil
}

// Insert adds value to the set of values associated with key. Inserting a
// value already present under key is a no-op.
func (m *Multimap) Insert(key, value string) error {
	if key == "" {
		return &dberr.InvalidArgument{Op: "multimap.Insert", Detail: "empty key"}
	}
	if value == "" {
		return &dberr.InvalidArgument{Op: "multimap.Insert", Detail: "empty value"}
	}

	inner, err := m.innerFor(key, true)
	if err != nil {
		return err
	}

	return inner.InsertStr(value, nil)
}

// ValuesOf returns every value associated with key, in the inner table's
// bucket order (an unspecified but stable order between mutations).
func (m *Multimap) ValuesOf(key string) ([]string, error) {
	inner, err := m.innerFor(key, false)
	if err != nil {
		return nil, err
	}
	if inner == nil {
		return nil, nil
	}

	var values []string
	inner.Iterate(func(value string, _ []byte) bool {
		values = append(values, value)
		return true
	})
	return values, nil
}

// IterateKeys visits every key that has at least one value, until fn
// returns false.
func (m *Multimap) IterateKeys(fn func(key string) bool) {
	m.outer.Iterate(func(key string, _ []byte) bool {
		return fn(key)
	})
}

// innerFor resolves the inner table for key, creating it (and registering
// it in the outer table) if create is true and the key is not yet known.
// It returns a nil *hashtable.Table, nil error when create is false and
// key is absent.
func (m *Multimap) innerFor(key string, create bool) (*hashtable.Table, error) {
	if v, ok := m.outer.Lookup(key); ok {
		innerOff := int64(binary.LittleEndian.Uint64(v))
		return hashtable.Open(m.a, innerOff, 0)
	}

	if !create {
		return nil, nil
	}

	inner, innerOff, err := hashtable.Create(m.a, 0, innerBucketCount)
	if err != nil {
		return nil, err
	}

	v := make([]byte, 8)
	binary.LittleEndian.PutUint64(v, uint64(innerOff))
	if err := m.outer.InsertStr(key, v); err != nil {
		return nil, err
	}

	return inner, nil
}

// Stats reports the outer table's occupancy; the inner tables' combined
// size is not tracked separately, matching the single-level Stats the
// hashtable package itself exposes.
func (m *Multimap) Stats() hashtable.Stats {
	return m.outer.Stats()
}
