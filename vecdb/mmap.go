package vecdb

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync/atomic"
)

// MmapFile is a memory-mapped, uncompressed vector database file with
// random batch access. The mapped region stays valid until Close.
type MmapFile struct {
	header Header
	data   []byte // payload after the header
	unmap  func() error
	closed atomic.Bool
}

// OpenMmap maps an uncompressed database file. Compressed files cannot be
// mapped; open them with Open instead.
func OpenMmap(path string) (*MmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := int(st.Size())
	if size < HeaderSize {
		return nil, fmt.Errorf("vecdb: %w", ErrTruncated)
	}

	raw, unmap, err := mapFile(f, size)
	if err != nil {
		return nil, fmt.Errorf("vecdb: mmap: %w", err)
	}

	h := Header{
		Version: binary.LittleEndian.Uint32(raw[0:4]),
		Count:   binary.LittleEndian.Uint32(raw[8:12]),
		Dims:    binary.LittleEndian.Uint32(raw[12:16]),
	}
	if err := h.validate(); err != nil {
		unmap()
		return nil, err
	}
	if want := HeaderSize + int(h.Count)*int(h.Dims)*4; size < want {
		unmap()
		return nil, fmt.Errorf("%w: file size %d, need %d", ErrTruncated, size, want)
	}

	return &MmapFile{
		header: h,
		data:   raw[HeaderSize:],
		unmap:  func() error { return unmap() },
	}, nil
}

// Header returns the file header.
func (m *MmapFile) Header() Header { return m.header }

// Dimension returns the vector dimensionality.
func (m *MmapFile) Dimension() int { return int(m.header.Dims) }

// Rows returns the number of vectors.
func (m *MmapFile) Rows() int { return int(m.header.Count) }

// ReadBatch decodes rows [row, row+n) into dst, which must hold n*dims
// elements.
func (m *MmapFile) ReadBatch(row, n int, dst []float32) error {
	if m.closed.Load() {
		return fmt.Errorf("vecdb: read on closed mmap file")
	}
	dims := int(m.header.Dims)
	if row < 0 || n < 0 || row+n > m.Rows() {
		return fmt.Errorf("vecdb: batch [%d, %d) out of range (%d rows)", row, row+n, m.Rows())
	}
	if len(dst) < n*dims {
		return fmt.Errorf("vecdb: destination too small: %d < %d", len(dst), n*dims)
	}

	raw := m.data[row*dims*4 : (row+n)*dims*4]
	for i := 0; i < n*dims; i++ {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return nil
}

// Close unmaps the file. Outstanding batch reads must have completed.
func (m *MmapFile) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.data = nil
	return m.unmap()
}
