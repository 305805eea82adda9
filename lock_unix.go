//go:build !windows

package shellhist

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	lockFallbackMaxRetries = 8
	lockFallbackBaseDelay  = 20 * time.Millisecond
)

// platformLock acquires a unix advisory flock on f. Filesystems that don't
// support flock at all (NFS variants, some FUSE mounts) return ENOTSUP or
// ENOSYS; in that case we fall back to a bounded stat-identity retry loop
// that is not truly exclusive but bounds the race window, per spec section
// 5's documented fallback mode.
func platformLock(f *os.File, kind lockKind) error {
	how := unix.LOCK_SH
	if kind == lockExclusive {
		how = unix.LOCK_EX
	}
	err := unix.Flock(int(f.Fd()), how)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EOPNOTSUPP) {
		slog.Warn("[history-lock] flock unsupported by filesystem, using stat-race fallback", "error", err)
		return lockFallback(f)
	}
	return err
}

// platformUnlock releases a lock taken by platformLock. Best-effort: the
// stat-race fallback has nothing to release, so a stale flock call here is
// harmless (EBADF/ENOLCK are ignored by the caller closing the fd anyway).
func platformUnlock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	if err != nil && (errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EOPNOTSUPP)) {
		return nil
	}
	return err
}

// lockFallback implements the bounded stat-race retry mode: compare the
// file's identity before and after a short wait, succeeding once it is
// stable across the window. This does not prevent a true concurrent
// writer from interleaving, but it bounds the exposure on filesystems that
// refuse real advisory locks, and it surfaces an error instead of hanging
// forever when the file keeps changing.
func lockFallback(f *os.File) error {
	var prev os.FileInfo
	for attempt := 0; attempt < lockFallbackMaxRetries; attempt++ {
		info, err := f.Stat()
		if err != nil {
			return err
		}
		if prev != nil && os.SameFile(prev, info) && prev.ModTime().Equal(info.ModTime()) && prev.Size() == info.Size() {
			return nil
		}
		prev = info
		time.Sleep(lockFallbackBaseDelay * time.Duration(attempt+1))
	}
	return errors.New("history: lock fallback exceeded retry budget, filesystem identity kept changing")
}
