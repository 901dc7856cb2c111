package vecdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the whole-file compression of a written database.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

// CompressionForPath derives the compression from the file extension:
// ".zst" and ".lz4" select the respective codec, everything else none.
func CompressionForPath(path string) Compression {
	switch filepath.Ext(path) {
	case ".zst":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Writer writes a vector database file. The vector count is fixed at
// creation; Close fails if fewer vectors were written.
type Writer struct {
	header  Header
	f       *os.File
	w       io.Writer
	flush   func() error
	written int
	buf     []byte
}

// Create creates a database file for count vectors of dims components,
// compressed according to the path's extension.
func Create(path string, count, dims int) (*Writer, error) {
	if count < 0 || dims <= 0 {
		return nil, fmt.Errorf("vecdb: invalid shape %dx%d", count, dims)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	var (
		w     io.Writer
		flush func() error
	)
	bw := bufio.NewWriterSize(f, 1<<20)

	switch CompressionForPath(path) {
	case CompressionZstd:
		zw, err := zstd.NewWriter(bw)
		if err != nil {
			f.Close()
			return nil, err
		}
		w = zw
		flush = func() error {
			if err := zw.Close(); err != nil {
				return err
			}
			return bw.Flush()
		}
	case CompressionLZ4:
		lw := lz4.NewWriter(bw)
		w = lw
		flush = func() error {
			if err := lw.Close(); err != nil {
				return err
			}
			return bw.Flush()
		}
	default:
		w = bw
		flush = bw.Flush
	}

	h := Header{Version: FormatVersion, Count: uint32(count), Dims: uint32(dims)}
	if err := writeHeader(w, h); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		header: h,
		f:      f,
		w:      w,
		flush:  flush,
		buf:    make([]byte, dims*4),
	}, nil
}

// WriteVector appends one vector.
func (w *Writer) WriteVector(v []float32) error {
	if len(v) != int(w.header.Dims) {
		return fmt.Errorf("vecdb: vector length %d != dimensionality %d", len(v), w.header.Dims)
	}
	if w.written >= int(w.header.Count) {
		return fmt.Errorf("vecdb: vector count %d exceeded", w.header.Count)
	}

	for i, x := range v {
		binary.LittleEndian.PutUint32(w.buf[i*4:], math.Float32bits(x))
	}
	if _, err := w.w.Write(w.buf); err != nil {
		return err
	}
	w.written++
	return nil
}

// Close flushes and closes the file. It fails if fewer vectors than
// declared were written, leaving the file unusable by readers.
func (w *Writer) Close() error {
	ferr := w.flush()
	cerr := w.f.Close()

	if ferr != nil {
		return ferr
	}
	if cerr != nil {
		return cerr
	}
	if w.written != int(w.header.Count) {
		return fmt.Errorf("%w: wrote %d of %d vectors", ErrTruncated, w.written, w.header.Count)
	}
	return nil
}
