// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command diskmap opens or creates a diskmap file given as its single
// positional argument and reports its occupancy, mirroring the
// flag-parsed, log.Fatal-on-failure driver style of
// cznic/exp/lldb/lab/1/main.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/thomasrebele/diskmap"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(log.Lshortfile)

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	path := flag.Arg(0)

	var (
		d   *diskmap.DiskMap
		err error
	)

	if _, statErr := os.Stat(path); statErr == nil {
		d, err = diskmap.Open(path)
	} else {
		d, err = diskmap.Create(path)
	}
	if err != nil {
		log.Fatal(err)
	}
	defer d.Close()

	if err := d.Verify(); err != nil {
		log.Fatal(err)
	}

	st := d.Stats()
	fmt.Printf("keys %d buckets %d max_dist %d load_factor %.3f mapped_bytes %d used_blocks %d free_blocks %d\n",
		st.Keys, st.BucketCount, st.MaxDist, st.LoadFactor, st.MappedBytes, st.UsedBlocks, st.FreeBlocks)
}
