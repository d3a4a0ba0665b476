package dataset

import (
	"encoding/binary"
	"errors"

	"github.com/hupe1980/chamfer/internal/blockio"
)

const (
	MagicNumber = 0x43484D46 // "CHMF"
	Version     = 1
)

var (
	ErrInvalidMagic   = errors.New("dataset: invalid magic number")
	ErrInvalidVersion = errors.New("dataset: unsupported version")
	ErrChecksum       = errors.New("dataset: checksum mismatch")
	ErrTruncated      = errors.New("dataset: truncated file")
	ErrShapeMismatch  = errors.New("dataset: mask shape does not match points")
)

const flagHasMask = 1 << 0

// FileHeader describes the layout of a dataset file.
// It is stored at the beginning of the file; all fields are little-endian.
type FileHeader struct {
	Magic        uint32
	Version      uint32
	Batch        uint32
	Count        uint32
	Compression  uint8
	Flags        uint8
	_            [6]byte // Padding to align offsets to 8 bytes
	PointsOffset uint64
	PointsLen    uint64
	MaskOffset   uint64
	MaskLen      uint64
	Checksum     uint32   // CRC32C of the body (everything after header)
	_            [12]byte // Reserved for future use
}

// Size of the header in bytes.
const HeaderSize = 4 + 4 + 4 + 4 + 1 + 1 + 6 + 8 + 8 + 8 + 8 + 4 + 12

func (h *FileHeader) hasMask() bool {
	return h.Flags&flagHasMask != 0
}

func (h *FileHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:], h.Version)
	binary.LittleEndian.PutUint32(buf[8:], h.Batch)
	binary.LittleEndian.PutUint32(buf[12:], h.Count)
	buf[16] = h.Compression
	buf[17] = h.Flags
	// Padding [18:24]
	binary.LittleEndian.PutUint64(buf[24:], h.PointsOffset)
	binary.LittleEndian.PutUint64(buf[32:], h.PointsLen)
	binary.LittleEndian.PutUint64(buf[40:], h.MaskOffset)
	binary.LittleEndian.PutUint64(buf[48:], h.MaskLen)
	binary.LittleEndian.PutUint32(buf[56:], h.Checksum)
	// Reserved [60:72]
	return buf
}

func DecodeHeader(buf []byte) (*FileHeader, error) {
	if len(buf) < HeaderSize {
		return nil, ErrTruncated
	}
	h := &FileHeader{}
	h.Magic = binary.LittleEndian.Uint32(buf[0:])
	if h.Magic != MagicNumber {
		return nil, ErrInvalidMagic
	}
	h.Version = binary.LittleEndian.Uint32(buf[4:])
	if h.Version != Version {
		return nil, ErrInvalidVersion
	}
	h.Batch = binary.LittleEndian.Uint32(buf[8:])
	h.Count = binary.LittleEndian.Uint32(buf[12:])
	h.Compression = buf[16]
	if !blockio.Type(h.Compression).Valid() {
		return nil, errors.New("dataset: unknown compression type")
	}
	h.Flags = buf[17]
	// Padding [18:24]
	h.PointsOffset = binary.LittleEndian.Uint64(buf[24:])
	h.PointsLen = binary.LittleEndian.Uint64(buf[32:])
	h.MaskOffset = binary.LittleEndian.Uint64(buf[40:])
	h.MaskLen = binary.LittleEndian.Uint64(buf[48:])
	h.Checksum = binary.LittleEndian.Uint32(buf[56:])
	return h, nil
}
