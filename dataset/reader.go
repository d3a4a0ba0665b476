package dataset

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/chamfer/internal/blockio"
	"github.com/hupe1980/chamfer/internal/conv"
	"github.com/hupe1980/chamfer/internal/hash"
	"github.com/hupe1980/chamfer/internal/mem"
	"github.com/hupe1980/chamfer/mask"
	"github.com/hupe1980/chamfer/pointset"
	"github.com/hupe1980/chamfer/resource"
	"github.com/hupe1980/chamfer/store"
)

// File is an open dataset file. Its point data may alias a memory mapping
// owned by the underlying blob, so the File must stay open while the data
// is in use.
type File struct {
	header FileHeader
	points *pointset.Set
	mask   *mask.Mask

	blob     store.Blob // retained while points alias its memory
	ctrl     *resource.Controller
	reserved int64
}

// Points returns the point sets stored in the file.
func (f *File) Points() *pointset.Set { return f.points }

// Mask returns the validity mask, or nil when the file has none.
func (f *File) Mask() *mask.Mask { return f.mask }

// Batch returns the number of point sets.
func (f *File) Batch() int { return f.points.Batch() }

// Count returns the number of points per set.
func (f *File) Count() int { return f.points.Count() }

// Close releases the underlying blob and any accounted memory. The point
// data must not be used afterwards.
func (f *File) Close() error {
	if f.reserved > 0 {
		f.ctrl.ReleaseMemory(f.reserved)
		f.reserved = 0
	}
	if f.blob == nil {
		return nil
	}
	blob := f.blob
	f.blob = nil
	return blob.Close()
}

// Open reads the dataset blob called name. On stores with memory-mapped
// reads, uncompressed files are opened zero-copy; otherwise the point data
// is decoded into freshly accounted buffers.
func Open(ctx context.Context, s store.Store, name string, optFns ...func(o *Options)) (*File, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	ctrl := opts.Controller

	blob, err := s.Open(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", name, err)
	}

	f, err := open(ctx, blob, ctrl)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("dataset: open %s: %w", name, err)
	}
	return f, nil
}

func open(ctx context.Context, blob store.Blob, ctrl *resource.Controller) (*File, error) {
	size := blob.Size()
	if size < HeaderSize {
		return nil, ErrTruncated
	}

	// Account the read buffer for stores that cannot map, and the IO to
	// fill it.
	var reserved int64
	_, mappable := blob.(store.Mappable)
	if !mappable {
		if err := ctrl.AcquireMemory(ctx, size); err != nil {
			return nil, err
		}
		reserved += size
	}
	if err := ctrl.AcquireIO(ctx, int(size)); err != nil {
		ctrl.ReleaseMemory(reserved)
		return nil, err
	}

	release := func() { ctrl.ReleaseMemory(reserved) }

	data, aliased, err := store.ReadAll(ctx, blob)
	if err != nil {
		release()
		return nil, err
	}

	header, err := DecodeHeader(data)
	if err != nil {
		release()
		return nil, err
	}
	if err := checkSections(header, size); err != nil {
		release()
		return nil, err
	}

	body := data[HeaderSize:size]
	if hash.CRC32C(body) != header.Checksum {
		release()
		return nil, ErrChecksum
	}

	batch, err := conv.Uint32ToInt(header.Batch)
	if err != nil {
		release()
		return nil, err
	}
	count, err := conv.Uint32ToInt(header.Count)
	if err != nil {
		release()
		return nil, err
	}
	wantFloats := batch * count * pointset.FeatureWidth

	section := data[header.PointsOffset : header.PointsOffset+header.PointsLen]
	floats, fresh, err := decodePoints(ctx, section, blockio.Type(header.Compression), wantFloats, ctrl)
	if err != nil {
		release()
		return nil, err
	}
	reserved += fresh

	points, err := pointset.FromSlice(batch, count, floats)
	if err != nil {
		ctrl.ReleaseMemory(reserved)
		return nil, err
	}

	var m *mask.Mask
	if header.hasMask() {
		m, err = mask.ReadFrom(bytes.NewReader(data[header.MaskOffset : header.MaskOffset+header.MaskLen]))
		if err != nil {
			ctrl.ReleaseMemory(reserved)
			return nil, err
		}
		if m.Batch() != batch || m.Count() != count {
			ctrl.ReleaseMemory(reserved)
			return nil, ErrShapeMismatch
		}
	}

	if fresh > 0 && !mappable {
		// The points were copied out, so the raw read buffer is no
		// longer referenced once this function returns.
		ctrl.ReleaseMemory(size)
		reserved -= size
	}

	f := &File{
		header:   *header,
		points:   points,
		mask:     m,
		ctrl:     ctrl,
		reserved: reserved,
	}
	if aliased && fresh == 0 {
		// The point data aliases the blob's mapping; keep it open.
		f.blob = blob
	} else {
		_ = blob.Close()
	}
	return f, nil
}

func checkSections(h *FileHeader, size int64) error {
	usize := uint64(size)
	if h.PointsOffset != HeaderSize {
		return ErrTruncated
	}
	if h.PointsOffset+h.PointsLen > usize {
		return ErrTruncated
	}
	if h.hasMask() {
		if h.MaskOffset != h.PointsOffset+h.PointsLen {
			return ErrTruncated
		}
		if h.MaskOffset+h.MaskLen > usize {
			return ErrTruncated
		}
	} else if h.MaskOffset != 0 || h.MaskLen != 0 {
		return ErrTruncated
	}
	return nil
}

// decodePoints decodes the points section into a float32 slice. It reports
// the number of freshly accounted bytes; zero means the result aliases the
// section.
func decodePoints(ctx context.Context, section []byte, typ blockio.Type, wantFloats int, ctrl *resource.Controller) ([]float32, int64, error) {
	wantBytes := wantFloats * 4

	// Zero-copy path: a single uncompressed block viewed in place.
	if typ == blockio.None {
		r := blockio.NewReader(section, typ)
		block, err := r.ReadBlock()
		if err == nil && len(block) == wantBytes {
			if _, err := r.ReadBlock(); err == io.EOF {
				if floats, ok := mem.BytesToFloat32(block); ok {
					return floats, 0, nil
				}
			}
		}
	}

	if err := ctrl.AcquireMemory(ctx, int64(wantBytes)); err != nil {
		return nil, 0, err
	}
	buf, err := blockio.DecompressAll(section, typ, wantBytes)
	if err != nil {
		ctrl.ReleaseMemory(int64(wantBytes))
		return nil, 0, err
	}
	if len(buf) != wantBytes {
		ctrl.ReleaseMemory(int64(wantBytes))
		return nil, 0, fmt.Errorf("dataset: points section holds %d bytes, want %d: %w", len(buf), wantBytes, ErrTruncated)
	}

	floats, ok := mem.BytesToFloat32(buf)
	if !ok {
		// Misaligned buffer; decode the slow way.
		floats = make([]float32, wantFloats)
		for i := range floats {
			floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		}
	}
	return floats, int64(wantBytes), nil
}
