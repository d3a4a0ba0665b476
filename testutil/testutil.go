package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/pointset"
)

// RNG encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// FillUniformRange fills dst with random values in range [minVal, maxVal).
// Locks only once per call (preferred over calling Float32 in a loop).
func (r *RNG) FillUniformRange(dst []float32, minVal, maxVal float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	span := maxVal - minVal
	for i := range dst {
		dst[i] = minVal + r.rand.Float32()*span
	}
}

// RandomSet generates a point set with coordinates uniform in [minVal, maxVal).
func (r *RNG) RandomSet(batch, count int, minVal, maxVal float32) *pointset.Set {
	s, err := pointset.New(batch, count)
	if err != nil {
		panic(err)
	}
	r.FillUniformRange(s.Data(), minVal, maxVal)
	return s
}

// ClusteredSet generates points grouped around random centroids, mimicking
// scan-like point clouds rather than uniform noise. spread is the Gaussian
// noise added to each coordinate around its centroid.
func (r *RNG) ClusteredSet(batch, count, clusters int, spread float32) *pointset.Set {
	s, err := pointset.New(batch, count)
	if err != nil {
		panic(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	const w = pointset.FeatureWidth
	centroids := make([]float32, clusters*w)
	for i := range centroids {
		centroids[i] = r.rand.Float32()*2 - 1
	}

	data := s.Data()
	rows := batch * count
	for i := 0; i < rows; i++ {
		c := centroids[(i%clusters)*w : (i%clusters+1)*w]
		for j := 0; j < w; j++ {
			data[i*w+j] = c[j] + float32(r.rand.NormFloat64())*spread
		}
	}
	return s
}

// RandomMask generates a mask keeping each slot with probability keep.
// Every batch retains at least one valid slot, so the result is always
// usable as a match target.
func (r *RNG) RandomMask(batch, count int, keep float64) *mask.Mask {
	m, err := mask.New(batch, count)
	if err != nil {
		panic(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < batch; i++ {
		kept := 0
		for j := 0; j < count; j++ {
			if r.rand.Float64() < keep {
				m.Add(i, j)
				kept++
			}
		}
		if kept == 0 {
			m.Add(i, r.rand.Intn(count))
		}
	}
	return m
}

// ReferenceMatch is an independent brute-force matcher used as ground truth.
// It follows the production arithmetic contract exactly (float32 differences,
// float64 accumulation, first candidate wins ties), so production backends
// must agree with it bit for bit.
func ReferenceMatch(batch, n, m int, src, tgt []float32) ([]float32, []int32) {
	const w = pointset.FeatureWidth

	dist := make([]float32, batch*n)
	idx := make([]int32, batch*n)

	for i := 0; i < batch; i++ {
		for j := 0; j < n; j++ {
			p := src[(i*n+j)*w : (i*n+j+1)*w]

			var best float64
			var bestK int32
			for k := 0; k < m; k++ {
				q := tgt[(i*m+k)*w : (i*m+k+1)*w]

				var d float64
				for c := 0; c < w; c++ {
					diff := p[c] - q[c]
					d += float64(diff) * float64(diff)
				}
				if k == 0 || d < best {
					best = d
					bestK = int32(k)
				}
			}

			dist[i*n+j] = float32(best)
			idx[i*n+j] = bestK
		}
	}
	return dist, idx
}

// ReferenceScatter is a float64 re-implementation of the gradient
// accumulation used as ground truth. The production scatter works in
// float32, so comparisons need a small per-element tolerance.
func ReferenceScatter(batch, n, m int, a, b []float32, gradDist1 []float32, idx1 []int32, gradDist2 []float32, idx2 []int32) ([]float32, []float32) {
	const w = pointset.FeatureWidth

	gradA := make([]float64, batch*n*w)
	gradB := make([]float64, batch*m*w)

	for i := 0; i < batch; i++ {
		for j := 0; j < n; j++ {
			j2 := int(idx1[i*n+j])
			g := 2 * float64(gradDist1[i*n+j])
			for c := 0; c < w; c++ {
				diff := float64(a[(i*n+j)*w+c]) - float64(b[(i*m+j2)*w+c])
				gradA[(i*n+j)*w+c] += g * diff
				gradB[(i*m+j2)*w+c] -= g * diff
			}
		}
		for j := 0; j < m; j++ {
			j2 := int(idx2[i*m+j])
			g := 2 * float64(gradDist2[i*m+j])
			for c := 0; c < w; c++ {
				diff := float64(b[(i*m+j)*w+c]) - float64(a[(i*n+j2)*w+c])
				gradB[(i*m+j)*w+c] += g * diff
				gradA[(i*n+j2)*w+c] -= g * diff
			}
		}
	}

	outA := make([]float32, len(gradA))
	for i, v := range gradA {
		outA[i] = float32(v)
	}
	outB := make([]float32, len(gradB))
	for i, v := range gradB {
		outB[i] = float32(v)
	}
	return outA, outB
}

// ReferenceLoss is the summed bidirectional matched-distance loss, kept in
// float64 end to end for use with NumericGradient.
func ReferenceLoss(batch, n, m int, a, b []float32) float64 {
	return refDirectionLoss(batch, n, m, a, b) + refDirectionLoss(batch, m, n, b, a)
}

func refDirectionLoss(batch, n, m int, src, tgt []float32) float64 {
	const w = pointset.FeatureWidth

	var sum float64
	for i := 0; i < batch; i++ {
		for j := 0; j < n; j++ {
			p := src[(i*n+j)*w : (i*n+j+1)*w]

			var best float64
			for k := 0; k < m; k++ {
				q := tgt[(i*m+k)*w : (i*m+k+1)*w]

				var d float64
				for c := 0; c < w; c++ {
					diff := float64(p[c]) - float64(q[c])
					d += diff * diff
				}
				if k == 0 || d < best {
					best = d
				}
			}
			sum += best
		}
	}
	return sum
}

// NumericGradient approximates df/dx by central differences with step h,
// evaluating f twice per coordinate. x is restored on return.
//
// The matching loss is only piecewise smooth: where a perturbation flips a
// nearest neighbor the finite difference strays from the analytic gradient,
// so callers should keep h well below the point spacing.
func NumericGradient(f func(x []float32) float64, x []float32, h float32) []float64 {
	grad := make([]float64, len(x))
	for i := range x {
		orig := x[i]

		x[i] = orig + h
		fp := f(x)

		x[i] = orig - h
		fm := f(x)

		x[i] = orig
		grad[i] = (fp - fm) / (2 * float64(h))
	}
	return grad
}
