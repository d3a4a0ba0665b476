package dataset

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hupe1980/chamfer/internal/blockio"
	"github.com/hupe1980/chamfer/internal/conv"
	"github.com/hupe1980/chamfer/internal/hash"
	"github.com/hupe1980/chamfer/internal/mem"
	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/pointset"
	"github.com/hupe1980/chamfer/resource"
	"github.com/hupe1980/chamfer/store"
)

// Compression is the block codec applied to the points section.
type Compression = blockio.Type

// Codecs accepted by WithCompression.
const (
	CompressionNone Compression = blockio.None
	CompressionLZ4  Compression = blockio.LZ4
	CompressionZSTD Compression = blockio.ZSTD
)

// Options configure dataset IO. Compression and BlockSize apply to Write;
// Controller applies to Write, Open, and the Loader.
type Options struct {
	// Compression selects the block codec for the points section.
	Compression Compression

	// BlockSize is the uncompressed block size in bytes.
	BlockSize int

	// Controller limits IO bandwidth and accounts memory. Nil disables
	// every limit.
	Controller *resource.Controller
}

// DefaultOptions are the defaults used when no option functions are given.
var DefaultOptions = Options{
	Compression: CompressionZSTD,
	BlockSize:   blockio.DefaultBlockSize,
}

// WithCompression selects the block codec for the points section.
func WithCompression(typ Compression) func(o *Options) {
	return func(o *Options) { o.Compression = typ }
}

// WithBlockSize sets the uncompressed block size in bytes.
func WithBlockSize(size int) func(o *Options) {
	return func(o *Options) { o.BlockSize = size }
}

// WithController limits IO bandwidth and accounts memory against ctrl.
func WithController(ctrl *resource.Controller) func(o *Options) {
	return func(o *Options) { o.Controller = ctrl }
}

// Write publishes points, and m when non-nil, as the blob called name. The
// blob appears atomically: a failed write leaves nothing behind.
func Write(ctx context.Context, s store.Store, name string, points *pointset.Set, m *mask.Mask, optFns ...func(o *Options)) error {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if !opts.Compression.Valid() {
		return fmt.Errorf("dataset: unknown compression type %d", opts.Compression)
	}
	if m != nil && (m.Batch() != points.Batch() || m.Count() != points.Count()) {
		return ErrShapeMismatch
	}

	batch, err := conv.IntToUint32(points.Batch())
	if err != nil {
		return fmt.Errorf("dataset: batch: %w", err)
	}
	count, err := conv.IntToUint32(points.Count())
	if err != nil {
		return fmt.Errorf("dataset: count: %w", err)
	}

	// Build the body: block-compressed points, then the mask.
	var body bytes.Buffer
	raw := mem.Float32ToBytes(points.Data())
	blockSize := opts.BlockSize
	if opts.Compression == CompressionNone && len(raw) > blockSize {
		// A single raw block keeps the section viewable in place by readers.
		blockSize = len(raw)
	}
	bw := blockio.NewWriter(&body, opts.Compression, blockSize)
	if _, err := bw.Write(raw); err != nil {
		return fmt.Errorf("dataset: compress points: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("dataset: compress points: %w", err)
	}
	pointsLen := uint64(body.Len())

	var flags uint8
	var maskLen uint64
	if m != nil {
		n, err := m.WriteTo(&body)
		if err != nil {
			return fmt.Errorf("dataset: serialize mask: %w", err)
		}
		flags |= flagHasMask
		maskLen = uint64(n)
	}

	header := &FileHeader{
		Magic:        MagicNumber,
		Version:      Version,
		Batch:        batch,
		Count:        count,
		Compression:  uint8(opts.Compression),
		Flags:        flags,
		PointsOffset: HeaderSize,
		PointsLen:    pointsLen,
		Checksum:     hash.CRC32C(body.Bytes()),
	}
	if m != nil {
		header.MaskOffset = HeaderSize + pointsLen
		header.MaskLen = maskLen
	}

	w, err := s.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("dataset: create %s: %w", name, err)
	}

	out := resource.NewRateLimitedWriter(ctx, w, opts.Controller)
	if _, err := out.Write(header.Encode()); err != nil {
		_ = w.Close() // failed writes make Close a cleanup
		return fmt.Errorf("dataset: write %s: %w", name, err)
	}
	if _, err := out.Write(body.Bytes()); err != nil {
		_ = w.Close()
		return fmt.Errorf("dataset: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("dataset: publish %s: %w", name, err)
	}
	return nil
}
