// Package mem provides memory allocation and reinterpretation utilities.
//
// # Aligned Allocation
//
// Provides 64-byte aligned allocation for SIMD operations (AVX-512 friendly).
//
// # Zero-Copy Views
//
// Float32ToBytes and BytesToFloat32 reinterpret slices in place for the
// dataset codec, which stores point data as raw little-endian float32.
package mem
