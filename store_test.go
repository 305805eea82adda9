package shellhist

import (
	"os"
	"strings"
	"testing"
)

func TestAddAndItemAtIndex(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")

	id, err := s.AddCommandline("ls -la")
	if err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}

	it, ok := s.ItemAtIndex(1)
	if !ok {
		t.Fatalf("ItemAtIndex(1) missing")
	}
	if it.ID != id || it.Contents != "ls -la" {
		t.Fatalf("ItemAtIndex(1) = %+v, want id=%v contents=ls -la", it, id)
	}
}

func TestItemAtIndexZeroIsReservedForCommandline(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	if _, err := s.AddCommandline("anything"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}
	if _, ok := s.ItemAtIndex(0); ok {
		t.Fatalf("ItemAtIndex(0) should always report not-found")
	}
}

func TestSizeCountsEphemeralItemsUntilTrimmed(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")

	if s.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 for a fresh store", s.Size())
	}
	if _, err := s.AddCommandline("one"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := s.Add(Item{Contents: "ephemeral one", PersistMode: PersistEphemeral}, false); err != nil {
		t.Fatalf("Add ephemeral: %v", err)
	}
	if s.Size() != 2 {
		t.Fatalf("Size() = %d, want 2 (ephemeral still counted until trimmed)", s.Size())
	}

	// Adding a non-ephemeral item trims the trailing ephemeral one first.
	if _, err := s.AddCommandline("two"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if s.Size() != 2 {
		t.Fatalf("Size() = %d, want 2 after ephemeral trim", s.Size())
	}
}

func TestAddPendingThenResolvePending(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")

	id, err := s.AddPending("git status", "/repo", nil, PersistDisk)
	if err != nil {
		t.Fatalf("AddPending: %v", err)
	}
	if s.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 while item is pending", s.Size())
	}
	s.ResolvePending()
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 after ResolvePending", s.Size())
	}
	it, ok := s.ItemAtIndex(1)
	if !ok || it.ID != id {
		t.Fatalf("resolved pending item not visible at index 1")
	}
}

func TestEmitUpdateMergesIntoInMemoryItem(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	id, err := s.AddCommandline("build")
	if err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}

	if err := s.EmitUpdate(Item{ID: id, RequiredPaths: []string{"/src"}}); err != nil {
		t.Fatalf("EmitUpdate: %v", err)
	}

	it, ok := s.ItemAtIndex(1)
	if !ok {
		t.Fatalf("ItemAtIndex(1) missing after update")
	}
	if len(it.RequiredPaths) != 1 || it.RequiredPaths[0] != "/src" {
		t.Fatalf("RequiredPaths = %v, want [/src]", it.RequiredPaths)
	}
	if it.Contents != "build" {
		t.Fatalf("EmitUpdate clobbered Contents: %q", it.Contents)
	}
}

func TestEmitUpdateUnknownIDIsIgnored(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	if err := s.EmitUpdate(Item{ID: NewItemID(nowForTest(), 1)}); err != nil {
		t.Fatalf("EmitUpdate for unknown id should not error, got %v", err)
	}
}

func TestGetHistoryDedupesByTextNewestFirst(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	for _, cmd := range []string{"a", "b", "a", "c"} {
		if _, err := s.AddCommandline(cmd); err != nil {
			t.Fatalf("AddCommandline(%q): %v", cmd, err)
		}
	}

	got := s.GetHistory()
	want := []string{"c", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("GetHistory() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("GetHistory()[%d] = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestRemoveDropsFromNewItemsImmediately(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	if _, err := s.AddCommandline("secret"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}
	s.Remove("secret")
	if s.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after Remove", s.Size())
	}
}

func TestClearSessionEmptiesNewItems(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	if _, err := s.AddCommandline("one"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}
	s.ClearSession()
	if s.Size() != 0 {
		t.Fatalf("Size() = %d, want 0 after ClearSession", s.Size())
	}
}

func TestSaveAndReloadPersistsAcrossStoreInstances(t *testing.T) {
	dir := t.TempDir()
	s1 := newTestStore(dir, "fish")
	if _, err := s1.AddCommandline("persisted command"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}

	s2 := newTestStore(dir, "fish")
	got := s2.GetHistory()
	if len(got) != 1 || got[0] != "persisted command" {
		t.Fatalf("GetHistory() on fresh store = %v, want [persisted command]", got)
	}
}

func TestClearUnlinksBackingFile(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(dir, "fish")
	if _, err := s.AddCommandline("one"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}
	path, _ := s.filePath()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backing file should exist before Clear: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("backing file should be gone after Clear, stat err = %v", err)
	}
	if s.Size() != 0 {
		t.Fatalf("Size() = %d after Clear, want 0", s.Size())
	}
}

func TestIncognitoStoreNeverTouchesDisk(t *testing.T) {
	dir := t.TempDir()
	s := newStore("") // incognito, dir is irrelevant
	if _, err := s.AddCommandline("secret command"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("incognito store wrote files to %s: %v", dir, entries)
	}
}

func TestAddPanicsOnEmptyContents(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected Add with empty Contents to panic")
		}
	}()
	_, _ = s.Add(Item{Contents: ""}, false)
}

func TestIncorporateExternalChangesClearsNewItems(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	if _, err := s.AddCommandline("one"); err != nil {
		t.Fatalf("AddCommandline: %v", err)
	}
	s.IncorporateExternalChanges()
	// The item is still on disk; Size() should reload it from the file
	// rather than double-count it from new_items.
	if s.Size() != 1 {
		t.Fatalf("Size() = %d after IncorporateExternalChanges, want 1 (reloaded from file, not double-counted)", s.Size())
	}
}

func TestItemsAtIndexesBatchLookup(t *testing.T) {
	s := newTestStore(t.TempDir(), "fish")
	for _, cmd := range []string{"a", "b", "c"} {
		if _, err := s.AddCommandline(cmd); err != nil {
			t.Fatalf("AddCommandline(%q): %v", cmd, err)
		}
	}

	got := s.ItemsAtIndexes([]int{1, 3, 99, 0})
	if len(got) != 2 {
		t.Fatalf("ItemsAtIndexes() returned %d entries, want 2 (99 and 0 are invalid)", len(got))
	}
	if got[1].Contents != "c" || got[3].Contents != "a" {
		t.Fatalf("unexpected contents: %+v", got)
	}
}

func TestPersistMemoryItemsNeverHitDisk(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(dir, "fish")
	if _, err := s.Add(Item{Contents: "memory only", PersistMode: PersistMemory}, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	path, _ := s.filePath()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("PersistMemory item should not create a backing file, stat err = %v", err)
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 (still visible in-memory)", s.Size())
	}
}

func TestMultipleAddsProduceOrderedJSONLLines(t *testing.T) {
	dir := t.TempDir()
	s := newTestStore(dir, "fish")
	for _, cmd := range []string{"first", "second", "third"} {
		if _, err := s.AddCommandline(cmd); err != nil {
			t.Fatalf("AddCommandline(%q): %v", cmd, err)
		}
	}

	path, _ := s.filePath()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3: %q", len(lines), data)
	}
	if !strings.HasPrefix(lines[0], `{"id":"`) {
		t.Fatalf("expected id field to lead the record: %q", lines[0])
	}
	for i, cmd := range []string{"first", "second", "third"} {
		if !strings.Contains(lines[i], `"cmd":"`+cmd+`"`) {
			t.Fatalf("line %d = %q, want cmd %q (append order)", i, lines[i], cmd)
		}
	}
}
