// Package pointset defines the batched point buffers consumed by the matching
// backends. A set holds batch x count points, each a fixed-width feature
// vector of 6 scalars (3 positional + 3 auxiliary coordinates, e.g.
// position and normal), stored as one flat row-major float32 slice.
package pointset

import (
	"errors"
	"fmt"

	"github.com/hupe1980/chamfer/internal/conv"
	"github.com/hupe1980/chamfer/internal/mem"
)

// FeatureWidth is the number of coordinates per point.
const FeatureWidth = 6

var (
	// ErrInvalidBatch is returned when the batch dimension is not positive.
	ErrInvalidBatch = errors.New("pointset: batch must be positive")
	// ErrInvalidCount is returned when the per-batch point count is not positive.
	ErrInvalidCount = errors.New("pointset: count must be positive")
)

// SizeError indicates a flat buffer whose length does not match the declared
// batch x count x FeatureWidth shape.
type SizeError struct {
	Batch int
	Count int
	Len   int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("pointset: buffer length %d does not match shape (%d,%d,%d)",
		e.Len, e.Batch, e.Count, FeatureWidth)
}

// Set is a batched, fixed-width point buffer. The zero value is not usable;
// construct with New or FromSlice.
//
// Sets handed to a forward/backward pair are read-only for its duration.
type Set struct {
	batch int
	count int
	data  []float32
}

// New allocates a zero-filled set of the given shape. The buffer is 64-byte
// aligned for the SIMD paths underneath the backends.
func New(batch, count int) (*Set, error) {
	if err := validateShape(batch, count); err != nil {
		return nil, err
	}
	return &Set{
		batch: batch,
		count: count,
		data:  mem.AllocAlignedFloat32(batch * count * FeatureWidth),
	}, nil
}

// FromSlice wraps an existing flat row-major buffer without copying.
// len(data) must equal batch*count*FeatureWidth. The set aliases data;
// callers must not mutate it while a forward/backward pair is in flight.
func FromSlice(batch, count int, data []float32) (*Set, error) {
	if err := validateShape(batch, count); err != nil {
		return nil, err
	}
	if len(data) != batch*count*FeatureWidth {
		return nil, &SizeError{Batch: batch, Count: count, Len: len(data)}
	}
	return &Set{batch: batch, count: count, data: data}, nil
}

func validateShape(batch, count int) error {
	if batch <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidBatch, batch)
	}
	if count <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidCount, count)
	}
	// Match indices are int32; a count beyond that range could not be addressed.
	if _, err := conv.IntToInt32(count); err != nil {
		return fmt.Errorf("pointset: count out of index range: %w", err)
	}
	return nil
}

// Batch returns the number of batches.
func (s *Set) Batch() int { return s.batch }

// Count returns the number of points per batch.
func (s *Set) Count() int { return s.count }

// Data returns the flat row-major buffer backing the set.
func (s *Set) Data() []float32 { return s.data }

// BatchData returns the sub-slice holding batch i.
func (s *Set) BatchData(i int) []float32 {
	stride := s.count * FeatureWidth
	return s.data[i*stride : (i+1)*stride]
}

// Point returns the coordinate slice of point j in batch i. The slice aliases
// the set's buffer.
func (s *Set) Point(i, j int) []float32 {
	off := (i*s.count + j) * FeatureWidth
	return s.data[off : off+FeatureWidth]
}

// SetPoint copies coords into point j of batch i.
// len(coords) must be FeatureWidth.
func (s *Set) SetPoint(i, j int, coords []float32) {
	copy(s.Point(i, j), coords)
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	data := mem.AllocAlignedFloat32(len(s.data))
	copy(data, s.data)
	return &Set{batch: s.batch, count: s.count, data: data}
}

// Zeroed returns a new zero-filled set with the same shape. Gradient outputs
// are allocated this way so accumulation starts from a clean buffer.
func (s *Set) Zeroed() *Set {
	return &Set{
		batch: s.batch,
		count: s.count,
		data:  mem.AllocAlignedFloat32(len(s.data)),
	}
}

// SameShape reports whether o has the same batch and count.
func (s *Set) SameShape(o *Set) bool {
	return s.batch == o.batch && s.count == o.count
}
