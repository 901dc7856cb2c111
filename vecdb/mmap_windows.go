//go:build windows

package vecdb

import (
	"io"
	"os"
)

// Windows has no unix.Mmap; fall back to reading the file into memory.
// The MmapFile API contract (random batch access) is preserved.
func mapFile(f *os.File, size int) ([]byte, func() error, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
