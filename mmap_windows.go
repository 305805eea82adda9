//go:build windows

package shellhist

import (
	"io"
	"os"
)

// loadFileBytes reads path into an anonymous buffer. Windows file mapping
// (CreateFileMapping/MapViewOfFile) is not wired here: the spec's primary
// path is unix mmap with an ENODEV-triggered read fallback, and that
// fallback path alone already satisfies the "mapped region is read-only
// and immutable for the lifetime of a HistoryFile" invariant, so Windows
// uses it unconditionally rather than duplicating the mapping machinery.
func loadFileBytes(f *os.File) ([]byte, func() error, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
