package chamfer

import (
	"errors"
	"fmt"

	"github.com/hupe1980/chamfer/compute"
	"github.com/hupe1980/chamfer/pointset"
)

var (
	// ErrInvalidShape is the root cause of every shape rejection. The typed
	// errors below unwrap to it, so errors.Is(err, ErrInvalidShape) catches
	// any malformed call.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrNilPointSet is returned when a required point set is nil.
	ErrNilPointSet = errors.New("nil point set")

	// ErrEmptyPointSet is returned when a masked batch has no valid points
	// left to match against.
	ErrEmptyPointSet = errors.New("no valid points")

	// ErrInvalidReduction is returned for an unknown Reduction value.
	ErrInvalidReduction = errors.New("invalid reduction")

	// ErrClosed is returned when an operation reaches a closed Matcher.
	ErrClosed = errors.New("matcher is closed")
)

// ShapeError reports a buffer whose element count disagrees with the shape
// declared by its point sets.
type ShapeError struct {
	Arg  string // argument name as it appears in the call
	Want int    // expected element count
	Got  int    // actual element count
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s has %d elements, want %d", e.Arg, e.Got, e.Want)
}

func (e *ShapeError) Unwrap() error { return ErrInvalidShape }

// BatchMismatchError reports two point sets whose batch dimensions disagree.
type BatchMismatchError struct {
	NA int // batches in a
	NB int // batches in b
}

func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("batch dimensions differ: a has %d, b has %d", e.NA, e.NB)
}

func (e *BatchMismatchError) Unwrap() error { return ErrInvalidShape }

// translateError maps internal failures onto the package taxonomy so callers
// only ever test against the root sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, compute.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	var se *pointset.SizeError
	if errors.As(err, &se) {
		return fmt.Errorf("%w: %w", ErrInvalidShape, err)
	}
	if errors.Is(err, pointset.ErrInvalidBatch) || errors.Is(err, pointset.ErrInvalidCount) {
		return fmt.Errorf("%w: %w", ErrInvalidShape, err)
	}

	return err
}
