// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alloc carves a mapped region owned by a store.Backing into
// variable-sized allocations. It keeps its bookkeeping — a header and a
// doubly-linked list of block records — inside the mapping itself, so an
// allocator opened against a previously populated store.Backing picks up
// exactly where a prior process left off.
//
// Every offset alloc hands back is measured from byte 0 of the mapping and
// survives a Grow of the backing store; only raw byte slices obtained from
// Bytes are invalidated by Grow (see store.Backing).
package alloc

import (
	"encoding/binary"

	"github.com/thomasrebele/diskmap/dberr"
	"github.com/thomasrebele/diskmap/internal/offset"
	"github.com/thomasrebele/diskmap/store"
)

const (
	magic           = "DISKMAP1"
	formatVersion   = 1
	headerSize      = 40
	blockRecordSize = 24
)

// Allocator partitions a store.Backing into blocks. It is not safe for
// concurrent use.
type Allocator struct {
	s store.Backing
}

// Create initializes a fresh allocator header and two sentinel block
// records (a zero-gap head and a tail) at the start of s, growing s if it
// is smaller than the header plus the two sentinels require.
func Create(s store.Backing) (*Allocator, error) {
	need := int64(headerSize + 2*blockRecordSize)
	if s.Size() < need {
		if err := s.Grow(offset.RoundUp256(need)); err != nil {
			return nil, err
		}
	}

	headOff := int64(headerSize)
	tailOff := headOff + blockRecordSize

	a := &Allocator{s: s}
	a.putHeader(header{
		nextFreeBlockOffset: headOff,
		mappedSize:          s.Size(),
	})
	a.putRecord(headOff, blockRecord{prev: 0, next: tailOff, used: false})
	a.putRecord(tailOff, blockRecord{prev: headOff, next: 0, used: false})

	return a, nil
}

// Open attaches an Allocator to a store.Backing that a prior Create
// already initialized, validating the header's magic and version.
func Open(s store.Backing) (*Allocator, error) {
	if s.Size() < headerSize {
		return nil, &dberr.Corrupt{Op: "alloc.Open", Offset: 0, Detail: "backing smaller than allocator header"}
	}

	b := s.Bytes()
	if string(b[0:8]) != magic {
		return nil, &dberr.Corrupt{Op: "alloc.Open", Offset: 0, Detail: "bad magic"}
	}

	if v := binary.LittleEndian.Uint32(b[8:12]); v != formatVersion {
		return nil, &dberr.Corrupt{Op: "alloc.Open", Offset: 8, Detail: "unsupported format version"}
	}

	return &Allocator{s: s}, nil
}

// Backing returns the store.Backing the allocator carves its blocks from.
func (a *Allocator) Backing() store.Backing { return a.s }

// header mirrors the allocator header stored at byte 0 of the mapping.
// root is a single caller-defined offset (e.g. the diskmap facade's outer
// multimap table header) that the allocator carries on the caller's
// behalf purely as a fixed, well-known place to bootstrap from on Open;
// the allocator itself never reads or writes through it.
type header struct {
	nextFreeBlockOffset int64
	mappedSize          int64
	root                int64
}

func (a *Allocator) getHeader() header {
	b := a.s.Bytes()
	return header{
		nextFreeBlockOffset: int64(binary.LittleEndian.Uint64(b[16:24])),
		mappedSize:          int64(binary.LittleEndian.Uint64(b[24:32])),
		root:                int64(binary.LittleEndian.Uint64(b[32:40])),
	}
}

func (a *Allocator) putHeader(h header) {
	b := a.s.Bytes()
	copy(b[0:8], magic)
	binary.LittleEndian.PutUint32(b[8:12], formatVersion)
	binary.LittleEndian.PutUint32(b[12:16], 0)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.nextFreeBlockOffset))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.mappedSize))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.root))
}

// Root returns the caller-defined bootstrap offset previously stored with
// SetRoot, or 0 if none has been set yet.
func (a *Allocator) Root() int64 {
	return a.getHeader().root
}

// SetRoot records off as the bootstrap offset for the next Open of this
// allocator's backing to read back via Root.
func (a *Allocator) SetRoot(off int64) {
	h := a.getHeader()
	h.root = off
	a.putHeader(h)
}

// blockRecord is the doubly-linked node stored immediately before the
// payload it describes. used distinguishes a free gap from one that is
// currently handed out to a caller; spec.md's record has only prev/next,
// but a free/used bit is indispensable to tell a genuinely free gap from a
// used block whose payload simply happens to reach all the way to its
// successor (see DESIGN.md for the reasoning).
type blockRecord struct {
	prev int64
	next int64
	used bool
}

func (a *Allocator) getRecord(off int64) blockRecord {
	b := a.s.Bytes()[off : off+blockRecordSize]
	return blockRecord{
		prev: int64(binary.LittleEndian.Uint64(b[0:8])),
		next: int64(binary.LittleEndian.Uint64(b[8:16])),
		used: binary.LittleEndian.Uint64(b[16:24]) != 0,
	}
}

func (a *Allocator) putRecord(off int64, r blockRecord) {
	b := a.s.Bytes()[off : off+blockRecordSize]
	binary.LittleEndian.PutUint64(b[0:8], uint64(r.prev))
	binary.LittleEndian.PutUint64(b[8:16], uint64(r.next))
	used := uint64(0)
	if r.used {
		used = 1
	}
	binary.LittleEndian.PutUint64(b[16:24], used)
}

// Allocate carves out size bytes and returns the payload offset.
//
// It scans forward from the header's next-free-block hint along the
// ascending block list for the first block whose gap to its successor can
// hold size bytes and is not already in use, or for the tail block, at
// which point the mapping grows. No free block is ever split to right-size
// it: once reused, a free block's entire gap becomes the new allocation
// (spec.md's "no internal fragmentation bookkeeping").
func (a *Allocator) Allocate(size int) (int64, error) {
	if size < 0 {
		return 0, &dberr.InvalidArgument{Op: "alloc.Allocate", Detail: "negative size"}
	}

	h := a.getHeader()
	cur := h.nextFreeBlockOffset
	var chosen blockRecord
	var chosenOff int64
	isTail := false

	for {
		r := a.getRecord(cur)
		if r.next == 0 {
			chosen, chosenOff, isTail = r, cur, true
			break
		}

		gap := r.next - (cur + blockRecordSize)
		if !r.used && gap >= int64(size) {
			chosen, chosenOff, isTail = r, cur, false
			break
		}

		cur = r.next
	}

	if isTail {
		successor := offset.Align4(chosenOff + blockRecordSize + int64(size))
		required := successor + blockRecordSize
		if required > h.mappedSize {
			if err := a.s.Grow(offset.GrowthTarget(required)); err != nil {
				return 0, err
			}
			h.mappedSize = a.s.Size()
		}

		a.putRecord(successor, blockRecord{prev: chosenOff, next: 0, used: false})
		chosen.next = successor
		chosen.used = true
		a.putRecord(chosenOff, chosen)

		h.nextFreeBlockOffset = successor
		a.putHeader(h)
		return chosenOff + blockRecordSize, nil
	}

	chosen.used = true
	a.putRecord(chosenOff, chosen)

	h.nextFreeBlockOffset = chosen.next
	a.putHeader(h)
	return chosenOff + blockRecordSize, nil
}

// Free releases the block whose payload starts at offset. It does not
// unlink the block from the ascending list (that would require splitting
// or merging neighbours' gaps, which this core deliberately never does —
// see spec.md §9's "no coalescing" note); it simply marks the block free
// again and points the allocator's scan hint at it so the next Allocate
// call reconsiders it first.
func (a *Allocator) Free(offset int64) error {
	nodeOff := offset - blockRecordSize
	if nodeOff < headerSize {
		return &dberr.InvalidArgument{Op: "alloc.Free", Detail: "offset out of range"}
	}

	r := a.getRecord(nodeOff)
	if !r.used {
		return &dberr.InvalidArgument{Op: "alloc.Free", Detail: "double free"}
	}

	r.used = false
	a.putRecord(nodeOff, r)

	h := a.getHeader()
	h.nextFreeBlockOffset = nodeOff
	a.putHeader(h)
	return nil
}

// InternString allocates len(s)+1 bytes and copies s plus a NUL
// terminator into them, returning the offset of the first byte.
func (a *Allocator) InternString(s string) (int64, error) {
	off, err := a.Allocate(len(s) + 1)
	if err != nil {
		return 0, err
	}

	b := a.s.Bytes()
	copy(b[off:off+int64(len(s))], s)
	b[off+int64(len(s))] = 0
	return off, nil
}

// ReadCString returns the NUL-terminated string stored at off.
func (a *Allocator) ReadCString(off int64) string {
	b := a.s.Bytes()
	end := off
	for b[end] != 0 {
		end++
	}
	return string(b[off:end])
}

// Bytes exposes the raw payload region [off, off+size) of the mapping. As
// with every accessor in this core, the returned slice is only valid until
// the next call that may Allocate (and thereby Grow the mapping).
func (a *Allocator) Bytes(off int64, size int) []byte {
	return a.s.Bytes()[off : off+int64(size)]
}

// Stats summarizes the allocator's block list for diagnostics, mirroring
// the read-only AllocStats lldb.Allocator.Verify fills in.
type Stats struct {
	TotalBlocks int64
	UsedBlocks  int64
	FreeBlocks  int64
	MappedSize  int64
}

// Stats walks the block list once and reports it.
func (a *Allocator) Stats() Stats {
	h := a.getHeader()
	st := Stats{MappedSize: h.mappedSize}

	for cur := int64(headerSize); ; {
		r := a.getRecord(cur)
		st.TotalBlocks++
		if r.used {
			st.UsedBlocks++
		} else {
			st.FreeBlocks++
		}

		if r.next == 0 {
			break
		}
		cur = r.next
	}

	return st
}

// Verify walks the block list and checks that it forms a strictly
// ascending total order with no cycles, the allocator's central structural
// invariant (spec.md's I5). It is the much-reduced analogue of
// lldb.Allocator.Verify, trimmed to this core's simpler record format.
func (a *Allocator) Verify() error {
	prevOff := int64(-1)

	for cur := int64(headerSize); ; {
		if cur <= prevOff {
			return &dberr.Corrupt{Op: "alloc.Verify", Offset: cur, Detail: "block list out of ascending order"}
		}
		prevOff = cur

		r := a.getRecord(cur)
		if r.next == 0 {
			return nil
		}
		if r.next <= cur {
			return &dberr.Corrupt{Op: "alloc.Verify", Offset: cur, Detail: "successor does not advance"}
		}
		cur = r.next
	}
}
