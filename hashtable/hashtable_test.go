// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hashtable

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/thomasrebele/diskmap/alloc"
	"github.com/thomasrebele/diskmap/store"
)

func newTestTable(t *testing.T, valueWidth, bucketCount int) *Table {
	t.Helper()

	m := store.NewMemStore(0)
	a, err := alloc.Create(m)
	if err != nil {
		t.Fatal(err)
	}

	tbl, _, err := Create(a, valueWidth, bucketCount)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func val8(n uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	return b
}

func TestInsertAndLookupRoundTrips(t *testing.T) {
	tbl := newTestTable(t, 8, 4)

	if err := tbl.InsertStr("alpha", val8(1)); err != nil {
		t.Fatal(err)
	}
	if err := tbl.InsertStr("beta", val8(2)); err != nil {
		t.Fatal(err)
	}

	v, ok := tbl.Lookup("alpha")
	if !ok {
		t.Fatal("alpha not found")
	}
	if !bytes.Equal(v, val8(1)) {
		t.Fatalf("got %v want %v", v, val8(1))
	}

	if _, ok := tbl.Lookup("gamma"); ok {
		t.Fatal("gamma should not be found")
	}
}

func TestInsertUpdatesExistingKeyInPlace(t *testing.T) {
	tbl := newTestTable(t, 8, 4)

	if err := tbl.InsertStr("k", val8(1)); err != nil {
		t.Fatal(err)
	}
	if err := tbl.InsertStr("k", val8(2)); err != nil {
		t.Fatal(err)
	}

	st := tbl.Stats()
	if st.Filled != 1 {
		t.Fatalf("update should not grow filled count, got %d", st.Filled)
	}

	v, ok := tbl.Lookup("k")
	if !ok || !bytes.Equal(v, val8(2)) {
		t.Fatalf("got %v ok=%v want %v", v, ok, val8(2))
	}
}

func TestInsertManyTriggersGrowAndPreservesAllEntries(t *testing.T) {
	tbl := newTestTable(t, 8, 2)

	const n = 500
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		if err := tbl.InsertStr(key, val8(uint64(i))); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d", i)
		v, ok := tbl.Lookup(key)
		if !ok {
			t.Fatalf("key %d missing after growth", i)
		}
		if !bytes.Equal(v, val8(uint64(i))) {
			t.Fatalf("key %d: got %v want %v", i, v, val8(uint64(i)))
		}
	}

	st := tbl.Stats()
	if st.Filled != n {
		t.Fatalf("got filled %d want %d", st.Filled, n)
	}
	if st.LoadFactor > 0.9 {
		t.Fatalf("load factor %f exceeds 0.9 bound", st.LoadFactor)
	}
}

func TestInsertRejectsWrongValueWidth(t *testing.T) {
	tbl := newTestTable(t, 8, 4)

	if err := tbl.InsertStr("k", []byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a mismatched value width")
	}
}

func TestInsertRejectsEmptyKey(t *testing.T) {
	tbl := newTestTable(t, 8, 4)

	if err := tbl.InsertStr("", val8(0)); err == nil {
		t.Fatal("expected an error for an empty key")
	}
}

func TestIterateVisitsEveryInsertedKey(t *testing.T) {
	tbl := newTestTable(t, 8, 4)

	want := map[string]bool{"a": true, "b": true, "c": true}
	for k := range want {
		if err := tbl.InsertStr(k, val8(0)); err != nil {
			t.Fatal(err)
		}
	}

	got := map[string]bool{}
	tbl.Iterate(func(key string, value []byte) bool {
		got[key] = true
		return true
	})

	if len(got) != len(want) {
		t.Fatalf("got %d keys want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("missing key %q", k)
		}
	}
}

func TestIterateStopsEarlyWhenCallbackReturnsFalse(t *testing.T) {
	tbl := newTestTable(t, 8, 4)

	for _, k := range []string{"a", "b", "c"} {
		if err := tbl.InsertStr(k, val8(0)); err != nil {
			t.Fatal(err)
		}
	}

	count := 0
	tbl.Iterate(func(key string, value []byte) bool {
		count++
		return false
	})

	if count != 1 {
		t.Fatalf("got %d visits want 1", count)
	}
}

// TestInsertAtSpecScale is the full-scale P1/S3 property from the
// distilled spec: insert key0..key4999999 into a fresh value_width=0
// table, assert filled==5000000, and assert every key is found afterward.
// It is gated behind testing.Short() the way lldb/falloc_test.go tunes its
// own randomized stress runs down to a small default via a flag-controlled
// block count (-N), here via the stdlib's own short-mode switch instead of
// a custom flag since there is nothing else to tune per run.
func TestInsertAtSpecScale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 5,000,000-key scale test in short mode")
	}

	tbl := newTestTable(t, 0, 2)

	const n = 5000000
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%d", i)
		if err := tbl.InsertStr(key, nil); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	st := tbl.Stats()
	if st.Filled != n {
		t.Fatalf("got filled %d want %d", st.Filled, n)
	}

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%d", i)
		if _, ok := tbl.Lookup(key); !ok {
			t.Fatalf("key %d missing", i)
		}
	}
}

func TestOpenReattachesToExistingTable(t *testing.T) {
	m := store.NewMemStore(0)
	a, err := alloc.Create(m)
	if err != nil {
		t.Fatal(err)
	}

	tbl, headerOff, err := Create(a, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := tbl.InsertStr("persisted", val8(42)); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(a, headerOff, 8)
	if err != nil {
		t.Fatal(err)
	}

	v, ok := reopened.Lookup("persisted")
	if !ok || !bytes.Equal(v, val8(42)) {
		t.Fatalf("got %v ok=%v want %v", v, ok, val8(42))
	}
}
