package chamfer

import (
	"context"
	"fmt"

	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/pointset"
)

// Step creates a fluent builder for one forward/loss/backward step over a
// point-set pair, the unit of work of an optimization loop.
//
// Example:
//
//	res, err := m.Step(predicted, reference).
//	    Reduction(chamfer.ReductionMean).
//	    Execute(ctx)
//	fmt.Println(res.Loss, res.Gradients.GradA)
//
//	// Padded inputs:
//	res, err := m.Step(predicted, reference).
//	    Masks(maskA, maskB).
//	    Execute(ctx)
func (m *Matcher) Step(a, b *pointset.Set) *StepBuilder {
	return &StepBuilder{
		m:         m,
		a:         a,
		b:         b,
		reduction: m.reduction,
	}
}

// StepBuilder is a fluent builder for a single matching step.
type StepBuilder struct {
	m    *Matcher
	a, b *pointset.Set

	ma, mb *mask.Mask

	reduction Reduction
	noGrads   bool
}

// Masks restricts the step to the valid slots of two padded point sets.
func (sb *StepBuilder) Masks(ma, mb *mask.Mask) *StepBuilder {
	sb.ma = ma
	sb.mb = mb
	return sb
}

// Reduction overrides the Matcher's configured loss reduction for this step.
func (sb *StepBuilder) Reduction(r Reduction) *StepBuilder {
	sb.reduction = r
	return sb
}

// NoGradients skips the backward pass; the result carries match and loss only.
// Use this for evaluation loops where gradients are not consumed.
func (sb *StepBuilder) NoGradients() *StepBuilder {
	sb.noGrads = true
	return sb
}

// StepResult bundles the outputs of one step.
type StepResult struct {
	// Match is the bidirectional forward matching.
	Match *Match

	// Loss is the reduced scalar over both distance fields.
	Loss float32

	// Gradients holds the input gradients, nil when NoGradients was set.
	Gradients *Gradients
}

// Execute runs the step: forward, loss, and (unless disabled) backward with
// the upstream gradients implied by the reduction.
func (sb *StepBuilder) Execute(ctx context.Context) (*StepResult, error) {
	if !sb.reduction.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReduction, int(sb.reduction))
	}

	var (
		match *Match
		err   error
	)
	if sb.masked() {
		match, err = sb.m.ForwardMasked(ctx, sb.a, sb.b, sb.ma, sb.mb)
	} else {
		match, err = sb.m.Forward(ctx, sb.a, sb.b)
	}
	if err != nil {
		return nil, err
	}

	loss, err := sb.m.lossWith(ctx, match, sb.reduction)
	if err != nil {
		return nil, err
	}

	res := &StepResult{Match: match, Loss: loss}
	if sb.noGrads {
		return res, nil
	}

	res.Gradients, err = sb.m.lossBackward(ctx, sb.a, sb.b, sb.ma, sb.mb, match, sb.reduction)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (sb *StepBuilder) masked() bool {
	return sb.ma != nil || sb.mb != nil
}
