package shellhist

import (
	"os"
)

// lockKind selects the advisory lock mode: shared for reads, exclusive for
// incremental appends and the vacuum rewrite's rename step.
type lockKind int

const (
	lockShared lockKind = iota
	lockExclusive
)

// fileLock is a held advisory lock on an *os.File. Release is idempotent.
type fileLock struct {
	f        *os.File
	released bool
}

// lockFile opens path (creating it if necessary for exclusive locks) and
// blocks until the requested advisory lock is acquired. The unix
// implementation (lock_unix.go) falls back to a bounded stat-identity retry
// loop on filesystems that reject advisory locks outright (see
// lockFallback); the Windows implementation (lock_windows.go) has no
// fallback.
func lockFile(path string, kind lockKind) (*fileLock, error) {
	flags := os.O_RDONLY
	if kind == lockExclusive {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, err
	}
	if err := platformLock(f, kind); err != nil {
		f.Close()
		return nil, err
	}
	return &fileLock{f: f}, nil
}

// File returns the underlying *os.File, still held under the advisory
// lock, for callers (Store.Add, vacuum) that need to read/write it directly.
func (l *fileLock) File() *os.File { return l.f }

// Unlock releases the advisory lock and closes the file handle.
func (l *fileLock) Unlock() error {
	if l.released {
		return nil
	}
	l.released = true
	err := platformUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	return err
}
