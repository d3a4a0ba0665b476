package dataset

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/chamfer/resource"
	"github.com/hupe1980/chamfer/store"
)

// Pair is a loaded source/target pair.
type Pair struct {
	Source *File
	Target *File

	release func()
}

// Close closes both files and frees the pair's load slot.
func (p *Pair) Close() error {
	err := errors.Join(p.Source.Close(), p.Target.Close())
	if p.release != nil {
		p.release()
		p.release = nil
	}
	return err
}

// Loader opens dataset pairs with bounded concurrency. Each pair occupies
// one load slot on the loader's controller for its whole lifetime, so the
// number of pairs resident at once stays bounded even when callers
// prefetch.
type Loader struct {
	store store.Store
	ctrl  *resource.Controller
	opts  []func(o *Options)
}

// NewLoader creates a loader over s. Options are forwarded to every Open.
func NewLoader(s store.Store, optFns ...func(o *Options)) *Loader {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Loader{store: s, ctrl: opts.Controller, opts: optFns}
}

// LoadPair opens both files of ref concurrently.
func (l *Loader) LoadPair(ctx context.Context, ref PairRef) (*Pair, error) {
	if err := l.ctrl.AcquireLoadSlot(ctx); err != nil {
		return nil, err
	}

	var source, target *File
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := Open(gctx, l.store, ref.Source, l.opts...)
		source = f
		return err
	})
	g.Go(func() error {
		f, err := Open(gctx, l.store, ref.Target, l.opts...)
		target = f
		return err
	})
	if err := g.Wait(); err != nil {
		if source != nil {
			_ = source.Close()
		}
		if target != nil {
			_ = target.Close()
		}
		l.ctrl.ReleaseLoadSlot()
		return nil, err
	}

	return &Pair{
		Source:  source,
		Target:  target,
		release: l.ctrl.ReleaseLoadSlot,
	}, nil
}

// ForEachPair opens each pair of m in turn, invokes fn, and closes the
// pair before the next one loads. The pair is only valid during fn.
func (l *Loader) ForEachPair(ctx context.Context, m *Manifest, fn func(ctx context.Context, ref PairRef, p *Pair) error) error {
	for _, ref := range m.Pairs {
		p, err := l.LoadPair(ctx, ref)
		if err != nil {
			return err
		}
		err = fn(ctx, ref, p)
		if cerr := p.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}
