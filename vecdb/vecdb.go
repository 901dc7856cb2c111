// Package vecdb reads and writes the flat vector database file format:
// a fixed 16-byte little-endian header — version (currently 0), a reserved
// all-ones field, vector count, dimensionality — followed by count×dims
// float32 components, row-major.
//
// Files may additionally be zstd- or lz4-compressed as a whole; Open
// detects the frame magic and decompresses transparently. Compressed files
// only support sequential reads, uncompressed files can also be
// memory-mapped for random batch access.
package vecdb

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// FormatVersion is the only supported file version.
	FormatVersion = 0

	// HeaderSize is the fixed size of the file header in bytes.
	HeaderSize = 16

	// reservedField is the sentinel value of the unused header field.
	reservedField = ^uint32(0)
)

// Frame magic numbers used to sniff whole-file compression.
var (
	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}
	lz4Magic  = []byte{0x04, 0x22, 0x4D, 0x18}
)

var (
	// ErrUnsupportedVersion is returned for files with an unknown version.
	ErrUnsupportedVersion = errors.New("vecdb: unsupported file version")

	// ErrTruncated is returned when a file ends before the header-declared
	// vector count has been read.
	ErrTruncated = errors.New("vecdb: truncated file")
)

// Header describes a vector database file.
type Header struct {
	Version uint32
	Count   uint32
	Dims    uint32
}

func (h Header) validate() error {
	if h.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.Dims == 0 {
		return fmt.Errorf("vecdb: invalid dimensionality 0")
	}
	return nil
}

func readHeader(r io.Reader) (Header, error) {
	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Header{}, fmt.Errorf("vecdb: read header: %w", err)
	}

	h := Header{
		Version: binary.LittleEndian.Uint32(raw[0:4]),
		Count:   binary.LittleEndian.Uint32(raw[8:12]),
		Dims:    binary.LittleEndian.Uint32(raw[12:16]),
	}
	return h, h.validate()
}

func writeHeader(w io.Writer, h Header) error {
	var raw [HeaderSize]byte
	binary.LittleEndian.PutUint32(raw[0:4], h.Version)
	binary.LittleEndian.PutUint32(raw[4:8], reservedField)
	binary.LittleEndian.PutUint32(raw[8:12], h.Count)
	binary.LittleEndian.PutUint32(raw[12:16], h.Dims)
	_, err := w.Write(raw[:])
	return err
}

// Reader streams vectors from a database file in row order.
type Reader struct {
	header Header
	r      io.Reader
	close  func() error
	row    int
	buf    []byte
}

// Open opens a database file for sequential reading, transparently
// decompressing zstd and lz4 files.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r, closeFn, err := wrapDecompression(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	h, err := readHeader(r)
	if err != nil {
		closeFn()
		return nil, err
	}

	return &Reader{
		header: h,
		r:      r,
		close:  closeFn,
		buf:    make([]byte, int(h.Dims)*4),
	}, nil
}

func wrapDecompression(f *os.File) (io.Reader, func() error, error) {
	br := bufio.NewReaderSize(f, 1<<20)

	magic, err := br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("vecdb: %w", ErrTruncated)
		}
		return nil, nil, err
	}

	switch {
	case bytesEqual(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error {
			zr.Close()
			return f.Close()
		}, nil
	case bytesEqual(magic, lz4Magic):
		return lz4.NewReader(br), f.Close, nil
	default:
		return br, f.Close, nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Header returns the file header.
func (r *Reader) Header() Header { return r.header }

// Dimension returns the dimensionality of every vector in the file.
func (r *Reader) Dimension() int { return int(r.header.Dims) }

// Rows returns the number of vectors in the file.
func (r *Reader) Rows() int { return int(r.header.Count) }

// Next reads the next vector into dst, which must hold Dimension elements.
// It returns io.EOF after the last vector.
func (r *Reader) Next(dst []float32) error {
	if len(dst) != int(r.header.Dims) {
		return fmt.Errorf("vecdb: destination length %d != dimensionality %d", len(dst), r.header.Dims)
	}
	if r.row >= int(r.header.Count) {
		return io.EOF
	}

	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: row %d of %d", ErrTruncated, r.row, r.header.Count)
		}
		return err
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.buf[i*4:]))
	}
	r.row++
	return nil
}

// ReadAll reads every remaining vector into a single row-major matrix.
func (r *Reader) ReadAll() (*Matrix, error) {
	dims := r.Dimension()
	rows := r.Rows() - r.row
	m := &Matrix{
		Data: make([]float32, rows*dims),
		Dims: dims,
	}
	for i := 0; i < rows; i++ {
		if err := r.Next(m.Data[i*dims : (i+1)*dims]); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.close() }

// Matrix is an in-memory row-major vector database, usable as a search
// source.
type Matrix struct {
	Data []float32
	Dims int
}

// Dimension returns the vector dimensionality.
func (m *Matrix) Dimension() int { return m.Dims }

// Rows returns the number of vectors.
func (m *Matrix) Rows() int { return len(m.Data) / m.Dims }

// ReadBatch copies rows [row, row+n) into dst.
func (m *Matrix) ReadBatch(row, n int, dst []float32) error {
	if row < 0 || n < 0 || (row+n)*m.Dims > len(m.Data) {
		return fmt.Errorf("vecdb: batch [%d, %d) out of range (%d rows)", row, row+n, m.Rows())
	}
	copy(dst, m.Data[row*m.Dims:(row+n)*m.Dims])
	return nil
}

// Row returns a view of one vector.
func (m *Matrix) Row(r int) []float32 {
	return m.Data[r*m.Dims : (r+1)*m.Dims]
}
