package mem

import (
	"unsafe"
)

// Float32ToBytes reinterprets f as its raw bytes without copying. The view
// shares memory with f; mutating one mutates the other.
func Float32ToBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	ptr := unsafe.Pointer(&f[0])                //nolint:gosec // zero-copy reinterpretation
	return unsafe.Slice((*byte)(ptr), len(f)*4) //nolint:gosec // zero-copy reinterpretation
}

// BytesToFloat32 reinterprets b as a float32 slice without copying. It
// reports false when b cannot be viewed in place, i.e. its length is not a
// multiple of 4 or its start is not 4-byte aligned; the caller must copy
// through encoding/binary instead.
func BytesToFloat32(b []byte) ([]float32, bool) {
	if len(b) == 0 {
		return nil, true
	}
	if len(b)%4 != 0 {
		return nil, false
	}
	ptr := unsafe.Pointer(&b[0]) //nolint:gosec // zero-copy reinterpretation
	if uintptr(ptr)%4 != 0 {
		return nil, false
	}
	return unsafe.Slice((*float32)(ptr), len(b)/4), true //nolint:gosec // zero-copy reinterpretation
}
