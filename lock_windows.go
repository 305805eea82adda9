//go:build windows

package shellhist

import (
	"os"

	"golang.org/x/sys/windows"
)

// platformLock acquires a Windows advisory byte-range lock spanning the
// whole file via LockFileEx, mirroring the shared/exclusive distinction the
// unix flock path makes. The lock is non-blocking-retry wrapped by the OS:
// without LOCKFILE_FAIL_IMMEDIATELY the call blocks until available.
func platformLock(f *os.File, kind lockKind) error {
	var flags uint32
	if kind == lockExclusive {
		flags = windows.LOCKFILE_EXCLUSIVE_LOCK
	}
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, ^uint32(0), ^uint32(0), ol)
}

// platformUnlock releases a lock taken by platformLock.
func platformUnlock(f *os.File) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, ^uint32(0), ^uint32(0), ol)
}
