// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dberr defines the error taxonomy shared by the store, alloc,
// hashtable and multimap packages.
package dberr

import "fmt"

// IOError wraps a failed syscall (open, seek, mmap, munmap, ftruncate,
// msync). It is always fatal at the call site: once one is observed the
// mapping can no longer be trusted and the handle must be discarded.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("diskmap: %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("diskmap: %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// InvalidArgument reports a caller mistake, such as an empty key, a value
// whose length differs from the table's configured value width, or a
// double Free.
type InvalidArgument struct {
	Op     string
	Detail string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("diskmap: %s: invalid argument: %s", e.Op, e.Detail)
}

// Corrupt reports a structural invariant violated while walking the
// allocator's block list or a hash table's bucket array.
type Corrupt struct {
	Op     string
	Offset int64
	Detail string
}

func (e *Corrupt) Error() string {
	return fmt.Sprintf("diskmap: %s: corrupt at offset %#x: %s", e.Op, e.Offset, e.Detail)
}

