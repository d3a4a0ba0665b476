// Package kernel implements the exact matching primitives: brute-force
// nearest-neighbor search over 6-wide point rows and the additive gradient
// scatter for matched pairs. Buffers are flat row-major float32; distance
// sums are accumulated in float64 and narrowed on store.
//
// This is an internal package - external users go through the compute package.
package kernel

// Width is the fixed number of coordinates per point row
// (3 positional + 3 auxiliary).
const Width = 6

// MatchSpan fills dist[j] and idx[j] for source rows j in [lo, hi) of a
// single batch. src holds the batch's source rows, tgt the batch's target
// rows; the target count is len(tgt)/Width. Each row's scan keeps the first
// minimum: candidate k replaces the running best only on strict improvement,
// so equal distances resolve to the lowest index.
//
// SAFETY: callers guarantee len(dist) >= hi, len(idx) >= hi,
// len(src) >= hi*Width and len(tgt) > 0.
func MatchSpan(src, tgt []float32, lo, hi int, dist []float32, idx []int32) {
	m := len(tgt) / Width

	for j := lo; j < hi; j++ {
		j0 := j * Width
		sx := src[j0+0]
		sy := src[j0+1]
		sz := src[j0+2]
		su := src[j0+3]
		sv := src[j0+4]
		sw := src[j0+5]

		var best float64
		var besti int32

		for k := 0; k < m; k++ {
			k0 := k * Width
			dx := tgt[k0+0] - sx
			dy := tgt[k0+1] - sy
			dz := tgt[k0+2] - sz
			du := tgt[k0+3] - su
			dv := tgt[k0+4] - sv
			dw := tgt[k0+5] - sw

			// Differences stay float32; the squared sum is widened to
			// float64 so long scans do not lose low bits to cancellation.
			d := float64(dx)*float64(dx) + float64(dy)*float64(dy) + float64(dz)*float64(dz) +
				float64(du)*float64(du) + float64(dv)*float64(dv) + float64(dw)*float64(dw)

			if k == 0 || d < best {
				best = d
				besti = int32(k)
			}
		}

		dist[j] = float32(best)
		idx[j] = besti
	}
}

// Match fills dist and idx for every batch and source row in one direction.
// src is batch*n*Width floats, tgt batch*m*Width; dist and idx are batch*n.
func Match(batch, n, m int, src, tgt []float32, dist []float32, idx []int32) {
	for i := 0; i < batch; i++ {
		srcB := src[i*n*Width : (i+1)*n*Width]
		tgtB := tgt[i*m*Width : (i+1)*m*Width]
		MatchSpan(srcB, tgtB, 0, n, dist[i*n:(i+1)*n], idx[i*n:(i+1)*n])
	}
}

// ScatterSpan accumulates gradient contributions for source rows [lo, hi) of
// a single batch and one matching direction. For row j matched to target row
// idx[j], the scaled difference g*(src-tgt) with g = 2*gradDist[j] is added
// to gradSrc at row j and subtracted from gradTgt at row idx[j].
//
// Updates are strictly additive; callers own zeroing. gradTgt may be a
// private partial buffer: rows [lo, hi) of gradSrc are the only source-side
// slots touched, while target-side writes can land on any row.
func ScatterSpan(src, tgt []float32, gradDist []float32, idx []int32, lo, hi int, gradSrc, gradTgt []float32) {
	for j := lo; j < hi; j++ {
		j0 := j * Width
		t0 := int(idx[j]) * Width
		g := gradDist[j] * 2

		for c := 0; c < Width; c++ {
			d := g * (src[j0+c] - tgt[t0+c])
			gradSrc[j0+c] += d
			gradTgt[t0+c] -= d
		}
	}
}

// Scatter runs both directional gradient passes over all batches. gradA and
// gradB must be zeroed by the caller and match a and b in size. Within each
// batch the A-side pass runs before the B-side pass; across batches the
// output slots are disjoint.
func Scatter(batch, n, m int, a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32, gradA, gradB []float32) {
	for i := 0; i < batch; i++ {
		ScatterBatch(
			a[i*n*Width:(i+1)*n*Width], b[i*m*Width:(i+1)*m*Width],
			gradDist1[i*n:(i+1)*n], idx1[i*n:(i+1)*n],
			gradDist2[i*m:(i+1)*m], idx2[i*m:(i+1)*m],
			gradA[i*n*Width:(i+1)*n*Width], gradB[i*m*Width:(i+1)*m*Width],
		)
	}
}

// ScatterBatch runs both directional passes for one batch. All slices are
// batch-local. The two passes write into the same buffers, so callers that
// parallelize across batches get disjoint slots for free while the passes
// within one batch stay sequential.
func ScatterBatch(a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32, gradA, gradB []float32) {
	n := len(idx1)
	m := len(idx2)
	ScatterSpan(a, b, gradDist1, idx1, 0, n, gradA, gradB)
	ScatterSpan(b, a, gradDist2, idx2, 0, m, gradB, gradA)
}
