package shellhist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// vacuumLocked rewrites the backing file: it re-parses every fragment (no
// cutoff, so peer writes invisible to this session are still preserved),
// caps the item count at maxRecords (oldest dropped first), then drops the
// remaining items matching a pending deletion, and atomically replaces the
// file. Must be called with s.mu
// held.
//
// A no-op for incognito stores, which have no backing file.
func (s *Store) vacuumLocked() error {
	if s.incognito {
		return nil
	}
	path, err := s.filePath()
	if err != nil {
		return err
	}

	lock, err := lockFile(path, lockExclusive)
	if err != nil {
		if os.IsNotExist(err) {
			s.deletedItems = make(map[string]deleteScope)
			return nil
		}
		return err
	}
	defer lock.Unlock()

	data, unmap, err := loadFileBytes(lock.File())
	if err != nil {
		return err
	}
	defer unmap()

	full := ParseHistoryFile(data, nil)
	full.ShrinkToMaxRecords(s.maxRecords)
	items := full.Items()

	kept := items[:0]
	for _, it := range items {
		if scope, marked := s.deletedItems[it.Contents]; marked {
			if scope == deleteAllSessions {
				continue
			}
			if scope == deleteSessionOnly && it.ID.Timestamp().After(s.sessionStart) {
				continue
			}
		}
		kept = append(kept, it)
	}

	if err := s.writeSnapshotLocked(path, kept); err != nil {
		return err
	}

	s.deletedItems = make(map[string]deleteScope)
	s.releaseFileContentsLocked()
	s.fileIdentity = fileIdentity{}
	return nil
}

// writeSnapshotLocked serializes items as one jsonl line each into a
// sibling temp file, fsyncs it, and renames it over dest. The temp name
// embeds the process id and a random uuid so two processes racing to
// vacuum the same store never collide on the same temp path.
func (s *Store) writeSnapshotLocked(dest string, items []Item) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.%d.%s.tmp", dest, os.Getpid(), uuid.NewString())

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer os.Remove(tmp) // no-op once renamed; cleans up on any early return

	for _, it := range items {
		line, err := marshalRecordLine(it.toRecord())
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(line); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
