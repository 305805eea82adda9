//go:build !windows

package shellhist

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// loadFileBytes maps path read-only for parsing. Empty files short-circuit
// to an empty slice. On ENODEV (some overlay/network filesystems refuse
// mmap but support regular reads) it transparently falls back to reading
// the whole file into an anonymous, equally-immutable byte slice, per spec
// section 4.3.2 / 7.
func loadFileBytes(f *os.File) ([]byte, func() error, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		return data, func() error { return unix.Munmap(data) }, nil
	}
	if errors.Is(err, unix.ENODEV) {
		slog.Debug("[history-file] mmap returned ENODEV, falling back to read", "error", err)
		return readFallback(f)
	}
	return nil, nil, err
}

func readFallback(f *os.File) ([]byte, func() error, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return nil }, nil
}
