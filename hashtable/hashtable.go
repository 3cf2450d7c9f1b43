// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hashtable implements an open-addressing hash table, keyed by
// interned C strings, stored entirely inside an alloc.Allocator-managed
// region. Collisions are resolved with the robin-hood displacement
// algorithm: on insert, an entry that has probed further than the one
// currently occupying its slot steals the slot, and the displaced entry
// keeps probing from there. The effect, as in couchbase's in-memory
// RHStore this table's Insert is ported from, is that no entry ever sits
// much further from its ideal bucket than any other.
package hashtable

import (
	"encoding/binary"

	"github.com/thomasrebele/diskmap/alloc"
	"github.com/thomasrebele/diskmap/dberr"
)

const (
	headerSize   = 40
	slotKeySize  = 16 // hash uint64 + key offset uint64

	// loadFactorNum/loadFactorDen bound the table at a 0.9 load factor;
	// crossing it doubles the bucket array.
	loadFactorNum = 9
	loadFactorDen = 10
)

// Table is a hash table living inside an Allocator's address space.
type Table struct {
	a          *alloc.Allocator
	headerOff  int64
	valueWidth int
}

// header mirrors the fixed-size record at headerOff.
type header struct {
	bucketCount   uint64
	bucketSize    uint64
	filled        uint64
	maxDist       uint64
	bucketsOffset uint64
}

// Create allocates a table header and an initial bucket array sized for
// bucketCount entries of valueWidth bytes each, and returns the table
// together with the offset of its header (the handle a caller — typically
// a multimap's outer table — persists to reopen it later).
func Create(a *alloc.Allocator, valueWidth int, bucketCount int) (*Table, int64, error) {
	if bucketCount < 1 {
		bucketCount = 1
	}

	headerOff, err := a.Allocate(headerSize)
	if err != nil {
		return nil, 0, err
	}

	bucketSize := slotKeySize + valueWidth
	bucketsOff, err := a.Allocate(bucketCount * bucketSize)
	if err != nil {
		return nil, 0, err
	}
	zero(a.Bytes(bucketsOff, bucketCount*bucketSize))

	t := &Table{a: a, headerOff: headerOff, valueWidth: valueWidth}
	t.putHeader(header{
		bucketCount:   uint64(bucketCount),
		bucketSize:    uint64(bucketSize),
		filled:        0,
		maxDist:       0,
		bucketsOffset: uint64(bucketsOff),
	})

	return t, headerOff, nil
}

// Open attaches a Table to a header a prior Create returned the offset of.
func Open(a *alloc.Allocator, headerOff int64, valueWidth int) (*Table, error) {
	t := &Table{a: a, headerOff: headerOff, valueWidth: valueWidth}
	h := t.getHeader()
	if int(h.bucketSize) != slotKeySize+valueWidth {
		return nil, &dberr.Corrupt{Op: "hashtable.Open", Offset: headerOff, Detail: "value width mismatch"}
	}
	return t, nil
}

func (t *Table) getHeader() header {
	b := t.a.Bytes(t.headerOff, headerSize)
	return header{
		bucketCount:   binary.LittleEndian.Uint64(b[0:8]),
		bucketSize:    binary.LittleEndian.Uint64(b[8:16]),
		filled:        binary.LittleEndian.Uint64(b[16:24]),
		maxDist:       binary.LittleEndian.Uint64(b[24:32]),
		bucketsOffset: binary.LittleEndian.Uint64(b[32:40]),
	}
}

func (t *Table) putHeader(h header) {
	b := t.a.Bytes(t.headerOff, headerSize)
	binary.LittleEndian.PutUint64(b[0:8], h.bucketCount)
	binary.LittleEndian.PutUint64(b[8:16], h.bucketSize)
	binary.LittleEndian.PutUint64(b[16:24], h.filled)
	binary.LittleEndian.PutUint64(b[24:32], h.maxDist)
	binary.LittleEndian.PutUint64(b[32:40], h.bucketsOffset)
}

// slot is the in-memory view of one bucket: a hash, the offset of its
// interned key, and valueWidth bytes of caller-defined payload. hash==0
// marks an empty slot, so fnv64 remaps a genuine zero hash to 1.
type slot struct {
	hash      uint64
	keyOffset uint64
	value     []byte
}

func (t *Table) bucketOff(h header, idx uint64) int64 {
	return int64(h.bucketsOffset) + int64(idx)*int64(h.bucketSize)
}

func (t *Table) readSlot(h header, idx uint64) slot {
	b := t.a.Bytes(t.bucketOff(h, idx), int(h.bucketSize))
	return slot{
		hash:      binary.LittleEndian.Uint64(b[0:8]),
		keyOffset: binary.LittleEndian.Uint64(b[8:16]),
		value:     append([]byte(nil), b[16:16+t.valueWidth]...),
	}
}

func (t *Table) writeSlot(h header, idx uint64, s slot) {
	b := t.a.Bytes(t.bucketOff(h, idx), int(h.bucketSize))
	binary.LittleEndian.PutUint64(b[0:8], s.hash)
	binary.LittleEndian.PutUint64(b[8:16], s.keyOffset)
	copy(b[16:16+t.valueWidth], s.value)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// fnv64 is the FNV-1a 64-bit hash used for every key, with the single
// collision remapped: a raw hash of 0 would be indistinguishable from an
// empty slot, so it is folded to 1.
func fnv64(s string) uint64 {
	const offsetBasis = 14695981039346656037
	const prime = 1099511628211

	h := uint64(offsetBasis)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}

	if h == 0 {
		return 1
	}
	return h
}

// probeDistance returns how many slots past home idx sits, wrapping around
// the bucket array. It is written to avoid round-tripping through uint64
// wraparound (idx-home can underflow for idx < home), which would only
// cancel out correctly for a power-of-two bucketCount.
func probeDistance(idx, home, bucketCount uint64) uint64 {
	if idx >= home {
		return idx - home
	}
	return bucketCount - (home - idx)
}

// Lookup returns the value stored for key, if any. The probe is bounded by
// the table's recorded max_dist, so a miss costs at most max_dist+1 slot
// reads rather than a full table scan.
func (t *Table) Lookup(key string) ([]byte, bool) {
	h := t.getHeader()
	if h.bucketCount == 0 {
		return nil, false
	}

	hash := fnv64(key)
	home := hash % h.bucketCount

	for dist := uint64(0); dist <= h.maxDist; dist++ {
		idx := (home + dist) % h.bucketCount
		s := t.readSlot(h, idx)
		if s.hash == 0 {
			return nil, false
		}
		if s.hash == hash && t.a.ReadCString(int64(s.keyOffset)) == key {
			return s.value, true
		}
	}

	return nil, false
}

// InsertStr inserts or updates the value for key, interning key into the
// allocator's address space on first insert.
//
// The displacement loop mirrors couchbase's RHStore.Set: an incoming entry
// displaces whichever occupant of its probe chain has travelled a shorter
// distance from its own home bucket, and the displaced occupant continues
// probing in the incoming entry's place.
func (t *Table) InsertStr(key string, value []byte) error {
	if key == "" {
		return &dberr.InvalidArgument{Op: "hashtable.InsertStr", Detail: "empty key"}
	}
	if len(value) != t.valueWidth {
		return &dberr.InvalidArgument{Op: "hashtable.InsertStr", Detail: "value width mismatch"}
	}

	h := t.getHeader()
	if (h.filled+1)*loadFactorDen >= h.bucketCount*loadFactorNum {
		var err error
		h, err = t.grow(h)
		if err != nil {
			return err
		}
	}

	hash := fnv64(key)
	home := hash % h.bucketCount

	// Check for an existing entry to update in place before disturbing
	// the probe chain with a brand new key.
	for dist := uint64(0); dist <= h.maxDist; dist++ {
		idx := (home + dist) % h.bucketCount
		s := t.readSlot(h, idx)
		if s.hash == 0 {
			break
		}
		if s.hash == hash && t.a.ReadCString(int64(s.keyOffset)) == key {
			s.value = append([]byte(nil), value...)
			t.writeSlot(h, idx, s)
			return nil
		}
	}

	keyOff, err := t.a.InternString(key)
	if err != nil {
		return err
	}

	cur := slot{hash: hash, keyOffset: uint64(keyOff), value: append([]byte(nil), value...)}
	idx := home
	dist := uint64(0)

	for {
		occ := t.readSlot(h, idx)
		if occ.hash == 0 {
			t.writeSlot(h, idx, cur)
			h.filled++
			if dist > h.maxDist {
				h.maxDist = dist
			}
			t.putHeader(h)
			return nil
		}

		occHome := occ.hash % h.bucketCount
		occDist := probeDistance(idx, occHome, h.bucketCount)

		if occDist < dist {
			if dist > h.maxDist {
				h.maxDist = dist
			}
			cur, occ = occ, cur
			dist = occDist
		}

		t.writeSlot(h, idx, occ)

		dist++
		idx = (idx + 1) % h.bucketCount

		if dist > h.bucketCount {
			return &dberr.Corrupt{Op: "hashtable.InsertStr", Offset: t.headerOff, Detail: "probe exceeded bucket count"}
		}
	}
}

// grow doubles the bucket array and reinserts every live entry, the same
// policy modernc/EinfachAndy's robin-hood map applies once its load factor
// threshold is crossed.
func (t *Table) grow(h header) (header, error) {
	oldBucketsOff := int64(h.bucketsOffset)
	oldBucketCount := h.bucketCount
	oldBucketSize := int(h.bucketSize)

	newBucketCount := oldBucketCount * 2
	if newBucketCount == 0 {
		newBucketCount = 1
	}

	newBucketsOff, err := t.a.Allocate(int(newBucketCount) * oldBucketSize)
	if err != nil {
		return header{}, err
	}
	zero(t.a.Bytes(newBucketsOff, int(newBucketCount)*oldBucketSize))

	newHeader := header{
		bucketCount:   newBucketCount,
		bucketSize:    h.bucketSize,
		filled:        0,
		maxDist:       0,
		bucketsOffset: uint64(newBucketsOff),
	}
	t.putHeader(newHeader)

	for i := uint64(0); i < oldBucketCount; i++ {
		b := t.a.Bytes(oldBucketsOff+int64(i)*int64(oldBucketSize), oldBucketSize)
		hash := binary.LittleEndian.Uint64(b[0:8])
		if hash == 0 {
			continue
		}
		keyOff := binary.LittleEndian.Uint64(b[8:16])
		value := append([]byte(nil), b[16:16+t.valueWidth]...)
		key := t.a.ReadCString(int64(keyOff))

		newHeader = t.insertExisting(newHeader, hash, keyOff, key, value)
	}

	t.putHeader(newHeader)

	if err := t.a.Free(oldBucketsOff); err != nil {
		return header{}, err
	}

	return newHeader, nil
}

// insertExisting reinserts an entry that is already interned (used while
// rehashing during grow, where the key offset must be preserved rather
// than re-interned).
func (t *Table) insertExisting(h header, hash, keyOff uint64, key string, value []byte) header {
	cur := slot{hash: hash, keyOffset: keyOff, value: value}
	idx := hash % h.bucketCount
	dist := uint64(0)

	for {
		occ := t.readSlot(h, idx)
		if occ.hash == 0 {
			t.writeSlot(h, idx, cur)
			h.filled++
			if dist > h.maxDist {
				h.maxDist = dist
			}
			return h
		}

		occHome := occ.hash % h.bucketCount
		occDist := probeDistance(idx, occHome, h.bucketCount)

		if occDist < dist {
			if dist > h.maxDist {
				h.maxDist = dist
			}
			cur, occ = occ, cur
			dist = occDist
		}

		t.writeSlot(h, idx, occ)

		dist++
		idx = (idx + 1) % h.bucketCount
	}
}

// Iterate visits every live entry in bucket order until fn returns false.
func (t *Table) Iterate(fn func(key string, value []byte) bool) {
	h := t.getHeader()
	for i := uint64(0); i < h.bucketCount; i++ {
		s := t.readSlot(h, i)
		if s.hash == 0 {
			continue
		}
		key := t.a.ReadCString(int64(s.keyOffset))
		if !fn(key, s.value) {
			return
		}
	}
}

// ValueAt returns a copy of the value bytes stored in bucket idx, or false
// if idx is past the end of the bucket array or the bucket is empty.
func (t *Table) ValueAt(idx uint64) ([]byte, bool) {
	h := t.getHeader()
	if idx >= h.bucketCount {
		return nil, false
	}
	s := t.readSlot(h, idx)
	if s.hash == 0 {
		return nil, false
	}
	return s.value, true
}

// Stats summarizes the table for diagnostics.
type Stats struct {
	BucketCount uint64
	Filled      uint64
	MaxDist     uint64
	LoadFactor  float64
}

// Stats reports the table's current occupancy and probe-distance bound.
func (t *Table) Stats() Stats {
	h := t.getHeader()
	lf := 0.0
	if h.bucketCount > 0 {
		lf = float64(h.filled) / float64(h.bucketCount)
	}
	return Stats{BucketCount: h.bucketCount, Filled: h.filled, MaxDist: h.maxDist, LoadFactor: lf}
}
