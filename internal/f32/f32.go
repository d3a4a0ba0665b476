// Package f32 provides float32 slice math for whole-buffer operations:
// loss reductions, gradient scaling and partial-buffer merges. It wraps
// vek32, which dispatches to SIMD at runtime where available.
//
// This is an internal package - the matching hot loop lives in kernel and
// does not come through here.
package f32

import (
	"github.com/viterin/vek/vek32"
)

// Sum returns the sum of all elements.
func Sum(a []float32) float32 {
	if len(a) == 0 {
		return 0
	}
	return vek32.Sum(a)
}

// Scale multiplies every element of a by s in place.
func Scale(a []float32, s float32) {
	if len(a) == 0 {
		return
	}
	vek32.MulNumber_Inplace(a, s)
}

// AddInPlace adds b into a element-wise. Both slices must have equal length.
func AddInPlace(a, b []float32) {
	if len(a) == 0 {
		return
	}
	vek32.Add_Inplace(a, b)
}

// Fill sets every element of a to v.
func Fill(a []float32, v float32) {
	if v == 0 {
		clear(a)
		return
	}
	for i := range a {
		a[i] = v
	}
}
