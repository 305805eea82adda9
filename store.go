package shellhist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrEmptyContents is the panic value Add uses when a caller attempts to
// add an Item whose Contents is empty (a programming error); it is never
// returned as an error.
var ErrEmptyContents = errors.New("shellhist: item contents must not be empty")

// deleteScope records how broadly a pending deletion applies once vacuum
// materializes it.
type deleteScope int

const (
	deleteSessionOnly deleteScope = iota
	deleteAllSessions
)

// defaultVacuumInterval is the number of adds between automatic vacuums.
const defaultVacuumInterval = 25

// defaultMaxRecords caps the file at roughly 1024*512 items.
const defaultMaxRecords = 1024 * 512

// fileIdentity is a cheap stat-based fingerprint used to detect whether the
// backing file changed underneath us (foreign edits, a peer's vacuum).
type fileIdentity struct {
	valid   bool
	size    int64
	modTime time.Time
	sameAs  os.FileInfo
}

func identityOf(info os.FileInfo) fileIdentity {
	return fileIdentity{valid: true, size: info.Size(), modTime: info.ModTime(), sameAs: info}
}

func (a fileIdentity) equal(b fileIdentity) bool {
	if a.valid != b.valid {
		return false
	}
	if !a.valid {
		return true
	}
	if a.size != b.size || !a.modTime.Equal(b.modTime) {
		return false
	}
	return os.SameFile(a.sameAs, b.sameAs)
}

// Store holds one namespace's in-memory history state: items added this
// process, pending deletions, the lazily-loaded file-backed view, and the
// peer-visibility boundary. The zero value is not usable; construct via
// Open.
type Store struct {
	mu sync.Mutex

	name      string
	dir       string
	incognito bool

	newItems       []Item
	hasPendingItem bool
	deletedItems   map[string]deleteScope

	fileContents *HistoryFile
	fileIdentity fileIdentity
	unmapCurrent func() error

	boundaryTimestamp time.Time

	idAlloc *idAllocator

	// sessionStart marks when this Store was constructed, used to scope
	// ClearSession deletions to items added by this process rather than
	// every process that ever wrote the same command text.
	sessionStart time.Time

	countdownToVacuum int
	vacuumInterval    int
	maxRecords        int

	pathPoolOnce   sync.Once
	pathTasks      chan pathTask
	pathWG         sync.WaitGroup
	pathPoolCancel context.CancelFunc

	watcher *changeWatcher
}

func newStore(name string, opts ...Option) *Store {
	s := &Store{
		name:              name,
		incognito:         name == "",
		deletedItems:      make(map[string]deleteScope),
		boundaryTimestamp: time.Now(),
		sessionStart:      time.Now(),
		idAlloc:           newIDAllocator(),
		vacuumInterval:    defaultVacuumInterval,
		maxRecords:        defaultMaxRecords,
	}
	s.countdownToVacuum = s.vacuumInterval
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the store's namespace ("" for incognito).
func (s *Store) Name() string { return s.name }

// Incognito reports whether this store has no backing file.
func (s *Store) Incognito() bool { return s.incognito }

// trimEphemeral drops trailing ephemeral items from newItems. Must be
// called with s.mu held, before appending anything non-ephemeral.
func (s *Store) trimEphemeral() {
	for len(s.newItems) > 0 && s.newItems[len(s.newItems)-1].PersistMode == PersistEphemeral {
		s.newItems = s.newItems[:len(s.newItems)-1]
		// An ephemeral item is never the resolved pending item of a
		// *subsequent* add, so clearing hasPendingItem here would be
		// incorrect if the trimmed item wasn't pending; only clear it
		// when it was.
		if s.hasPendingItem {
			s.hasPendingItem = false
		}
	}
}

// Add appends item to the in-memory new_items list, persisting it to disk
// if item.PersistMode is PersistDisk. item.Contents must not be empty; an
// empty Contents is an invariant violation (see spec section 7) and panics.
// pending marks the newly added item as the store's single pending item
// (see ResolvePending).
func (s *Store) Add(item Item, pending bool) (ItemID, error) {
	if item.Contents == "" {
		panic(ErrEmptyContents)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(item, pending)
}

func (s *Store) addLocked(item Item, pending bool) (ItemID, error) {
	if item.PersistMode != PersistEphemeral {
		s.trimEphemeral()
	}
	if item.ID.IsZero() {
		item.ID = s.idAlloc.next(time.Now())
	}

	s.newItems = append(s.newItems, item)
	s.hasPendingItem = pending

	if item.PersistMode == PersistDisk && !s.incognito {
		if err := s.appendRecordLocked(item.toRecord()); err != nil {
			return item.ID, fmt.Errorf("shellhist: append item: %w", err)
		}
		s.countdownToVacuum--
		if s.countdownToVacuum <= 0 {
			s.countdownToVacuum = s.vacuumInterval
			if err := s.vacuumLocked(); err != nil {
				slog.Warn("[history-store] periodic vacuum failed", "namespace", s.name, "error", err)
			}
		}
	}

	return item.ID, nil
}

// AddCommandline adds text as a resolved (non-pending), disk-persisted
// item — the simplest form of the public add operation.
func (s *Store) AddCommandline(text string) (ItemID, error) {
	return s.Add(Item{Contents: text, PersistMode: PersistDisk}, false)
}

// AddPending adds text as the store's pending item (see ResolvePending),
// carrying the given cwd/session metadata and persist mode.
func (s *Store) AddPending(text string, cwd string, sessionID *uint64, mode PersistMode) (ItemID, error) {
	return s.Add(Item{Contents: text, Cwd: cwd, SessionID: sessionID, PersistMode: mode}, true)
}

// ResolvePending clears the pending flag with no persistence side effect:
// the item was already written (if PersistDisk) when it was added.
func (s *Store) ResolvePending() {
	s.mu.Lock()
	s.hasPendingItem = false
	s.mu.Unlock()
}

// EmitUpdate merges the non-default fields of update onto the in-memory
// item matching update.ID, searching newItems from newest to oldest. If the
// item is PersistDisk, a metadata-only record carrying just the changed
// fields is appended to the file. Items not found in memory (typically
// belonging to a different process's run) are silently ignored: the
// persist mode needed to decide whether to write a file record is only
// known for in-memory items.
func (s *Store) EmitUpdate(update Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.newItems) - 1; i >= 0; i-- {
		if s.newItems[i].ID != update.ID {
			continue
		}
		mode := s.newItems[i].PersistMode
		s.newItems[i].mergeUpdate(update)
		if mode == PersistDisk && !s.incognito {
			if err := s.appendRecordLocked(updateRecord(update.ID, update)); err != nil {
				return fmt.Errorf("shellhist: append update: %w", err)
			}
		}
		return nil
	}
	slog.Debug("[history-store] emit_update for unknown in-memory item", "id", update.ID)
	return nil
}

// appendRecordLocked serializes rec as one jsonl line and appends it to the
// backing file under an exclusive lock, fsyncing before returning. Must be
// called with s.mu held.
func (s *Store) appendRecordLocked(rec record) error {
	path, err := s.filePath()
	if err != nil {
		return err
	}
	if path == "" {
		return nil
	}
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}

	lock, err := lockFile(path, lockExclusive)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	line, err := marshalRecordLine(rec)
	if err != nil {
		return err
	}
	f := lock.File()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if info, err := f.Stat(); err == nil {
		s.fileIdentity = identityOf(info)
	}
	return nil
}

// ensureLoaded lazily loads the backing file on first access that needs
// old items. Must be called with s.mu held.
func (s *Store) ensureLoaded() error {
	if s.incognito {
		return nil
	}
	path, err := s.filePath()
	if err != nil {
		return err
	}

	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			s.releaseFileContentsLocked()
			s.fileContents = ParseHistoryFile(nil, nil)
			s.fileIdentity = fileIdentity{}
			return nil
		}
		return statErr
	}

	current := identityOf(info)
	if s.fileContents != nil && s.fileIdentity.equal(current) {
		return nil
	}

	lock, err := lockFile(path, lockShared)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	data, unmap, err := loadFileBytes(lock.File())
	if err != nil {
		return err
	}

	s.releaseFileContentsLocked()

	cutoff := s.boundaryTimestamp
	s.fileContents = ParseHistoryFile(data, &cutoff)
	s.fileIdentity = current
	s.unmapCurrent = unmap
	return nil
}

// releaseFileContentsLocked unmaps the currently-held mapping (if any) and
// clears fileContents. Must be called with s.mu held, and only once no
// other goroutine can still be reading the mapped bytes through the old
// HistoryFile — true for every call site here, since s.mu serializes all
// reads and replaces.
func (s *Store) releaseFileContentsLocked() {
	if s.unmapCurrent != nil {
		if err := s.unmapCurrent(); err != nil {
			slog.Warn("[history-file] failed to unmap backing file", "namespace", s.name, "error", err)
		}
		s.unmapCurrent = nil
	}
	s.fileContents = nil
}

// resolvedNewCount returns the number of new_items that are not the
// hidden pending item.
func (s *Store) resolvedNewCount() int {
	n := len(s.newItems)
	if s.hasPendingItem && n > 0 {
		n--
	}
	return n
}

// ItemAtIndex returns the item at 1-based index i, where 1 is the most
// recently added/loaded item. Index 0 is reserved for "current commandline"
// and always yields (Item{}, false), matching the shell UI's convention of
// treating slot 0 as the in-progress command line rather than history.
func (s *Store) ItemAtIndex(i int) (Item, bool) {
	if i == 0 {
		return Item{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemAtIndexLocked(i)
}

func (s *Store) itemAtIndexLocked(i int) (Item, bool) {
	r := s.resolvedNewCount()
	if i <= r {
		return s.newItems[r-i], true
	}
	if err := s.ensureLoaded(); err != nil {
		slog.Warn("[history-store] failed to load file for item_at_index", "namespace", s.name, "error", err)
		return Item{}, false
	}
	if s.fileContents == nil {
		return Item{}, false
	}
	return s.fileContents.GetFromBack(i - r - 1)
}

// Size returns the total number of visible items: resolved new items plus
// file-backed items.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		slog.Warn("[history-store] failed to load file for size", "namespace", s.name, "error", err)
	}
	fileCount := 0
	if s.fileContents != nil {
		fileCount = s.fileContents.ItemCount()
	}
	return s.resolvedNewCount() + fileCount
}

// GetHistory returns every command's text, newest first, deduplicated by
// text (the newest occurrence wins). The pending item, if any, is skipped.
func (s *Store) GetHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		slog.Warn("[history-store] failed to load file for get_history", "namespace", s.name, "error", err)
	}

	seen := make(map[string]struct{})
	var out []string

	r := s.resolvedNewCount()
	for i := r - 1; i >= 0; i-- {
		text := s.newItems[i].Contents
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}

	if s.fileContents != nil {
		count := s.fileContents.ItemCount()
		for i := 0; i < count; i++ {
			it, ok := s.fileContents.GetFromBack(i)
			if !ok || it.Contents == "" {
				continue
			}
			if _, dup := seen[it.Contents]; dup {
				continue
			}
			seen[it.Contents] = struct{}{}
			out = append(out, it.Contents)
		}
	}
	return out
}

// ItemsAtIndexes batch-resolves several 1-based indexes at once, sharing
// one lock acquisition and one file load.
func (s *Store) ItemsAtIndexes(indexes []int) map[int]Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]Item, len(indexes))
	for _, i := range indexes {
		if i == 0 {
			continue
		}
		if it, ok := s.itemAtIndexLocked(i); ok {
			out[i] = it
		}
	}
	return out
}

// Remove marks text for deletion (AllSessions scope) and immediately drops
// matching entries from new_items. The deletion is only materialized on
// disk at the next vacuum.
func (s *Store) Remove(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletedItems[text] = deleteAllSessions
	kept := s.newItems[:0]
	for _, it := range s.newItems {
		if it.Contents == text {
			continue
		}
		kept = append(kept, it)
	}
	s.newItems = kept
}

// ClearSession removes every new_item added this session, recording each as
// SessionOnly so a subsequent vacuum only drops it for timestamps within
// this session's boundary, not for peers that added the same text earlier.
func (s *Store) ClearSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.newItems {
		if it.Contents != "" {
			s.deletedItems[it.Contents] = deleteSessionOnly
		}
	}
	s.newItems = nil
	s.hasPendingItem = false
}

// RemoveEphemeralItems trims any trailing ephemeral items from new_items.
// Exposed publicly so callers can force the trim without waiting for the
// next non-ephemeral Add.
func (s *Store) RemoveEphemeralItems() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimEphemeral()
}

// Clear empties all in-memory state and unlinks the backing file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.newItems = nil
	s.hasPendingItem = false
	s.deletedItems = make(map[string]deleteScope)
	s.releaseFileContentsLocked()
	s.fileIdentity = fileIdentity{}

	if s.incognito {
		return nil
	}
	path, err := s.filePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	forgetStore(s.name)
	return nil
}

// Save persists pending deletions via vacuum; if there are none, the
// incremental append path has already made every added item durable, so
// Save is a no-op.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deletedItems) == 0 {
		return nil
	}
	return s.vacuumLocked()
}

// Vacuum forces a full rewrite of the backing file, materializing pending
// deletions and enforcing the max-record cap, regardless of the add
// counter or pending-deletion state.
func (s *Store) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vacuumLocked()
}

// IncorporateExternalChanges advances the peer-visibility boundary to now
// (only forward — never retreats), drops the cached file view so the next
// read remaps with the new cutoff, and clears new_items so they aren't
// double-counted once they reappear from the file. Idempotent when the
// clock hasn't advanced and new_items is already empty.
func (s *Store) IncorporateExternalChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.After(s.boundaryTimestamp) {
		s.boundaryTimestamp = now
	}
	s.releaseFileContentsLocked()
	s.newItems = nil
	s.hasPendingItem = false
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[:i]
		}
	}
	return ""
}
