// Package blockio implements the length-prefixed compressed block framing
// used by dataset files. Payloads are cut into fixed-size blocks, each
// written as [UncompressedSize uint32][CompressedSize uint32][data...] in
// little-endian; CompressedSize == 0 marks a block stored raw. Blocks that
// do not compress well fall back to raw storage automatically.
package blockio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type selects the block compression algorithm.
type Type uint8

const (
	// None stores blocks raw. Framing is still applied so readers never
	// need the type to find block boundaries.
	None Type = 0
	// LZ4 favors speed; the usual choice for datasets reloaded every run.
	LZ4 Type = 1
	// ZSTD favors ratio; suits archived datasets.
	ZSTD Type = 2
)

// String returns the on-disk name of the compression type.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is a known compression type.
func (t Type) Valid() bool {
	return t == None || t == LZ4 || t == ZSTD
}

// DefaultBlockSize is the uncompressed block size used when none is given.
const DefaultBlockSize = 256 * 1024

const headerSize = 8

// ZSTD encoder/decoder pools for efficiency
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	// Level 3 balances compression ratio vs speed
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// CompressBlock frames one block. The result always carries the 8-byte
// header; the payload is compressed unless the type is None or the
// compressed form saves less than 10%.
func CompressBlock(data []byte, typ Type) ([]byte, error) {
	var compressed []byte
	var err error

	switch typ {
	case None:
		// fall through to raw framing
	case LZ4:
		compressed, err = compressLZ4(data)
	case ZSTD:
		compressed, err = compressZSTD(data)
	default:
		return nil, fmt.Errorf("blockio: compress: unknown type %d", typ)
	}

	if err != nil {
		return nil, err
	}

	// If compression doesn't help (ratio > 0.9), store raw
	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		result := make([]byte, headerSize+len(data))
		binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(result[4:], 0) // 0 = raw
		copy(result[headerSize:], data)
		return result, nil
	}

	result := make([]byte, headerSize+len(compressed))
	binary.LittleEndian.PutUint32(result[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(result[4:], uint32(len(compressed)))
	copy(result[headerSize:], compressed)
	return result, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))

	n, err := lz4.CompressBlock(data, compressed, nil)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		return nil, nil // Incompressible
	}

	return compressed[:n], nil
}

func compressZSTD(data []byte) ([]byte, error) {
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)

	return enc.EncodeAll(data, nil), nil
}

// Writer buffers written bytes into fixed-size blocks and emits each block
// framed and compressed to the underlying writer.
type Writer struct {
	w         io.Writer
	typ       Type
	blockSize int
	buffer    *bytes.Buffer
	written   int64
}

// NewWriter creates a block writer. blockSize <= 0 selects DefaultBlockSize.
func NewWriter(w io.Writer, typ Type, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{
		w:         w,
		typ:       typ,
		blockSize: blockSize,
		buffer:    bytes.NewBuffer(make([]byte, 0, blockSize)),
	}
}

// Write buffers p, flushing full blocks as they fill.
func (c *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := c.blockSize - c.buffer.Len()
		if space <= 0 {
			if err := c.FlushBlock(); err != nil {
				return total, err
			}
			space = c.blockSize
		}

		toWrite := len(p)
		if toWrite > space {
			toWrite = space
		}

		n, err := c.buffer.Write(p[:toWrite])
		if err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

// FlushBlock frames and writes the current block, if any.
func (c *Writer) FlushBlock() error {
	if c.buffer.Len() == 0 {
		return nil
	}

	block, err := CompressBlock(c.buffer.Bytes(), c.typ)
	if err != nil {
		return err
	}

	n, err := c.w.Write(block)
	if err != nil {
		return err
	}
	c.written += int64(n)
	c.buffer.Reset()
	return nil
}

// Flush writes any remaining buffered data.
func (c *Writer) Flush() error {
	return c.FlushBlock()
}

// BytesWritten returns the total framed bytes written so far.
func (c *Writer) BytesWritten() int64 {
	return c.written
}

// Reader walks the framed blocks of a section slice.
type Reader struct {
	data   []byte
	offset int
	typ    Type
}

// NewReader creates a reader over one framed section. data must start at a
// block boundary and end at one.
func NewReader(data []byte, typ Type) *Reader {
	return &Reader{data: data, typ: typ}
}

// ReadBlock decodes the next block. It returns io.EOF after the last one.
// Raw blocks alias the section slice; compressed blocks are freshly
// allocated.
func (c *Reader) ReadBlock() ([]byte, error) {
	if c.offset == len(c.data) {
		return nil, io.EOF
	}
	if c.offset+headerSize > len(c.data) {
		return nil, errors.New("blockio: truncated block header")
	}

	uncompressedSize := int(binary.LittleEndian.Uint32(c.data[c.offset:]))
	compressedSize := int(binary.LittleEndian.Uint32(c.data[c.offset+4:]))

	if compressedSize == 0 {
		if c.offset+headerSize+uncompressedSize > len(c.data) {
			return nil, errors.New("blockio: block extends beyond section")
		}
		block := c.data[c.offset+headerSize : c.offset+headerSize+uncompressedSize]
		c.offset += headerSize + uncompressedSize
		return block, nil
	}

	if c.offset+headerSize+compressedSize > len(c.data) {
		return nil, errors.New("blockio: compressed block extends beyond section")
	}

	compressedData := c.data[c.offset+headerSize : c.offset+headerSize+compressedSize]
	result := make([]byte, uncompressedSize)

	switch c.typ {
	case LZ4:
		n, err := lz4.UncompressBlock(compressedData, result)
		if err != nil {
			return nil, fmt.Errorf("blockio: lz4: %w", err)
		}
		if n != uncompressedSize {
			return nil, errors.New("blockio: decompressed size mismatch")
		}

	case ZSTD:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		decoded, err := dec.DecodeAll(compressedData, result[:0])
		if err != nil {
			return nil, fmt.Errorf("blockio: zstd: %w", err)
		}
		if len(decoded) != uncompressedSize {
			return nil, errors.New("blockio: decompressed size mismatch")
		}
		result = decoded

	default:
		// A compressed block under type None is a framing violation.
		return nil, fmt.Errorf("blockio: compressed block with type %s", c.typ)
	}

	c.offset += headerSize + compressedSize
	return result, nil
}

// DecompressAll decodes every block of a section and concatenates the
// payloads. sizeHint, when positive, pre-sizes the result.
func DecompressAll(data []byte, typ Type, sizeHint int) ([]byte, error) {
	reader := NewReader(data, typ)

	var result []byte
	if sizeHint > 0 {
		result = make([]byte, 0, sizeHint)
	}

	for {
		block, err := reader.ReadBlock()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, block...)
	}

	return result, nil
}
