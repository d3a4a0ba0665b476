// Package testutil provides testing utilities for chamfer.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating random point sets and masks, plus
// reference implementations of the matching and gradient kernels for
// cross-checking the production backends.
//
// # Random Point Sets
//
//	rng := testutil.NewRNG(4711)
//	a := rng.RandomSet(4, 128, -1, 1)    // uniform coordinates in [-1, 1)
//	b := rng.ClusteredSet(4, 96, 5, 0.1) // scan-like clustered points
//	m := rng.RandomMask(4, 128, 0.8)     // ~80% of slots valid
//
// # Reference Implementations (Ground Truth)
//
//	dist, idx := testutil.ReferenceMatch(batch, n, m, a.Data(), b.Data())
//	gradA, gradB := testutil.ReferenceScatter(batch, n, m, a.Data(), b.Data(), gd1, idx1, gd2, idx2)
//	grad := testutil.NumericGradient(f, x, 1e-2)
package testutil
