// Package pool provides reusable scratch buffers for gradient reduction and
// masked-row compaction. Uses sync.Pool for automatic memory reuse so the
// per-call paths stay allocation-free once warm.
package pool

import (
	"sync"
)

const (
	// defaultFloat32Cap sizes fresh float32 buffers for a few thousand
	// 6-wide rows, the common point-set scale.
	defaultFloat32Cap = 16 * 1024

	// maxRetainedFloat32 caps what Put keeps. Larger buffers are dropped so
	// one oversized batch does not pin memory for the life of the process.
	maxRetainedFloat32 = 1 << 22

	defaultInt32Cap  = 4 * 1024
	maxRetainedInt32 = 1 << 20
)

var float32Pool = sync.Pool{
	New: func() any {
		b := make([]float32, 0, defaultFloat32Cap)
		return &b
	},
}

var int32Pool = sync.Pool{
	New: func() any {
		b := make([]int32, 0, defaultInt32Cap)
		return &b
	},
}

// GetFloat32 returns a zeroed float32 buffer of length n. The zeroing matters:
// gradient accumulation commits only additive updates on top of it.
func GetFloat32(n int) []float32 {
	p := float32Pool.Get().(*[]float32)
	if cap(*p) < n {
		*p = make([]float32, n)
		return *p
	}
	b := (*p)[:n]
	clear(b)
	return b
}

// PutFloat32 returns a buffer to the pool for reuse.
func PutFloat32(b []float32) {
	if cap(b) == 0 || cap(b) > maxRetainedFloat32 {
		return
	}
	b = b[:0]
	float32Pool.Put(&b)
}

// GetInt32 returns a zeroed int32 buffer of length n.
func GetInt32(n int) []int32 {
	p := int32Pool.Get().(*[]int32)
	if cap(*p) < n {
		*p = make([]int32, n)
		return *p
	}
	b := (*p)[:n]
	clear(b)
	return b
}

// PutInt32 returns a buffer to the pool for reuse.
func PutInt32(b []int32) {
	if cap(b) == 0 || cap(b) > maxRetainedInt32 {
		return
	}
	b = b[:0]
	int32Pool.Put(&b)
}
