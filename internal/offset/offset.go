// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package offset collects the small alignment and growth-size helpers the
// allocator uses when it places blocks and grows its backing store.
package offset

import "modernc.org/mathutil"

// Align4 rounds n up to the next multiple of 4.
func Align4(n int64) int64 {
	return (n + 3) &^ 3
}

// RoundUp256 rounds n up to the next multiple of 256.
func RoundUp256(n int64) int64 {
	return (n + 255) &^ 255
}

// GrowthTarget returns the file size to grow to in order to accommodate
// at least required bytes, following the 1.5x geometric growth policy
// rounded up to a 256 byte boundary.
func GrowthTarget(required int64) int64 {
	grown := int64(float64(required) * 1.5)
	grown = mathutil.MaxInt64(grown, required)
	return RoundUp256(grown)
}
