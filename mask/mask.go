// Package mask tracks which point slots of a batched set are valid.
//
// Point sets are often padded to a common per-batch count; a Mask records the
// occupied slots so matching can skip the padding. Each batch keeps its own
// roaring bitmap, which stays compact for both sparse and dense occupancy and
// serializes directly into dataset files.
package mask

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	roaring "github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/chamfer/internal/conv"
)

var (
	// ErrInvalidShape is returned when batch or count is not positive.
	ErrInvalidShape = errors.New("mask: batch and count must be positive")
	// ErrSlotRange is returned when a serialized mask references a slot
	// beyond its declared count.
	ErrSlotRange = errors.New("mask: slot out of range")
)

// Mask holds one validity bitmap per batch. Slots are numbered 0..Count()-1.
//
// Mask is not safe for concurrent mutation; concurrent reads are fine.
type Mask struct {
	batch int
	count int
	sets  []*roaring.Bitmap
}

// New creates a mask with every slot invalid.
func New(batch, count int) (*Mask, error) {
	if batch <= 0 || count <= 0 {
		return nil, fmt.Errorf("%w: got (%d,%d)", ErrInvalidShape, batch, count)
	}
	sets := make([]*roaring.Bitmap, batch)
	for i := range sets {
		sets[i] = roaring.New()
	}
	return &Mask{batch: batch, count: count, sets: sets}, nil
}

// NewAllValid creates a mask with every slot valid.
func NewAllValid(batch, count int) (*Mask, error) {
	m, err := New(batch, count)
	if err != nil {
		return nil, err
	}
	for _, rb := range m.sets {
		rb.AddRange(0, uint64(count))
	}
	return m, nil
}

// Batch returns the number of batches.
func (m *Mask) Batch() int { return m.batch }

// Count returns the number of slots per batch.
func (m *Mask) Count() int { return m.count }

// Add marks slot j of batch i valid. j must be in [0, Count()).
func (m *Mask) Add(i, j int) {
	m.sets[i].Add(uint32(j))
}

// Remove marks slot j of batch i invalid.
func (m *Mask) Remove(i, j int) {
	m.sets[i].Remove(uint32(j))
}

// Contains reports whether slot j of batch i is valid.
func (m *Mask) Contains(i, j int) bool {
	return m.sets[i].Contains(uint32(j))
}

// ValidCount returns the number of valid slots in batch i.
func (m *Mask) ValidCount(i int) int {
	return int(m.sets[i].GetCardinality())
}

// ValidSlots returns the valid slots of batch i in ascending order.
func (m *Mask) ValidSlots(i int) []uint32 {
	return m.sets[i].ToArray()
}

// Dense returns a dense snapshot of batch i sized to Count(). Membership
// tests on the snapshot are O(1), which suits per-slot loops over full
// batches better than the compressed representation.
func (m *Mask) Dense(i int) *bitset.BitSet {
	bs := bitset.New(uint(m.count))
	m.sets[i].Iterate(func(x uint32) bool {
		bs.Set(uint(x))
		return true
	})
	return bs
}

// Clone returns a deep copy.
func (m *Mask) Clone() *Mask {
	sets := make([]*roaring.Bitmap, m.batch)
	for i, rb := range m.sets {
		sets[i] = rb.Clone()
	}
	return &Mask{batch: m.batch, count: m.count, sets: sets}
}

// WriteTo serializes the mask: a little-endian (batch, count) header followed
// by one length-prefixed roaring bitmap per batch.
func (m *Mask) WriteTo(w io.Writer) (int64, error) {
	var written int64

	hdr := make([]byte, 8)
	b32, err := conv.IntToUint32(m.batch)
	if err != nil {
		return 0, fmt.Errorf("mask: %w", err)
	}
	c32, err := conv.IntToUint32(m.count)
	if err != nil {
		return 0, fmt.Errorf("mask: %w", err)
	}
	binary.LittleEndian.PutUint32(hdr[0:4], b32)
	binary.LittleEndian.PutUint32(hdr[4:8], c32)

	n, err := w.Write(hdr)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("mask: write header: %w", err)
	}

	for i, rb := range m.sets {
		size, err := conv.Uint64ToUint32(rb.GetSerializedSizeInBytes())
		if err != nil {
			return written, fmt.Errorf("mask: batch %d: %w", i, err)
		}

		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], size)

		n, err = w.Write(lenBuf[:])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("mask: write batch %d length: %w", i, err)
		}

		bn, err := rb.WriteTo(w)
		written += bn
		if err != nil {
			return written, fmt.Errorf("mask: write batch %d bitmap: %w", i, err)
		}
	}

	return written, nil
}

// ReadFrom deserializes a mask written by WriteTo and validates that every
// slot fits the declared count.
func ReadFrom(r io.Reader) (*Mask, error) {
	hdr := make([]byte, 8)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("mask: read header: %w", err)
	}

	batch, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(hdr[0:4]))
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}
	count, err := conv.Uint32ToInt(binary.LittleEndian.Uint32(hdr[4:8]))
	if err != nil {
		return nil, fmt.Errorf("mask: %w", err)
	}

	m, err := New(batch, count)
	if err != nil {
		return nil, err
	}

	for i := range m.sets {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("mask: read batch %d length: %w", i, err)
		}
		size := binary.LittleEndian.Uint32(lenBuf[:])

		if _, err := m.sets[i].ReadFrom(io.LimitReader(r, int64(size))); err != nil {
			return nil, fmt.Errorf("mask: read batch %d bitmap: %w", i, err)
		}

		if !m.sets[i].IsEmpty() && int(m.sets[i].Maximum()) >= count {
			return nil, fmt.Errorf("%w: batch %d has slot %d with count %d",
				ErrSlotRange, i, m.sets[i].Maximum(), count)
		}
	}

	return m, nil
}
