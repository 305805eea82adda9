package shellhist

import (
	"reflect"
	"testing"

	"shellhist/internal/testutil"
)

func TestItemCloneIsDeep(t *testing.T) {
	orig := Item{
		ID:            NewItemID(nowForTest(), 1),
		Contents:      "ls -la",
		RequiredPaths: []string{"/tmp"},
		ExitCode:      testutil.Ptr(int32(0)),
		Duration:      testutil.Ptr(uint64(12)),
		SessionID:     testutil.Ptr(uint64(99)),
	}
	clone := orig.Clone()

	clone.RequiredPaths[0] = "/mutated"
	*clone.ExitCode = 1
	*clone.Duration = 999
	*clone.SessionID = 1

	if orig.RequiredPaths[0] != "/tmp" {
		t.Fatalf("Clone aliased RequiredPaths")
	}
	if *orig.ExitCode != 0 {
		t.Fatalf("Clone aliased ExitCode")
	}
	if *orig.Duration != 12 {
		t.Fatalf("Clone aliased Duration")
	}
	if *orig.SessionID != 99 {
		t.Fatalf("Clone aliased SessionID")
	}
}

func TestItemIsEmpty(t *testing.T) {
	if !(Item{}).IsEmpty() {
		t.Fatalf("zero-value Item should be empty")
	}
	if (Item{Contents: "x"}).IsEmpty() {
		t.Fatalf("item with Contents should not be empty")
	}
}

func TestToRecordOmitsZeroFields(t *testing.T) {
	it := Item{ID: NewItemID(nowForTest(), 1), Contents: "echo hi"}
	rec := it.toRecord()

	if rec.Cmd == nil || *rec.Cmd != "echo hi" {
		t.Fatalf("expected cmd to be set")
	}
	if rec.Paths != nil || rec.Cwd != nil || rec.Exit != nil || rec.Dur != nil || rec.SID != nil {
		t.Fatalf("expected all other fields omitted, got %+v", rec)
	}
}

func TestMergeFragmentNeverClearsContentsWithEmptyCmd(t *testing.T) {
	it := Item{Contents: "original command"}
	empty := ""
	it.mergeFragment(record{Cmd: &empty, Exit: testutil.Ptr(int32(1))})

	if it.Contents != "original command" {
		t.Fatalf("Contents was cleared by an empty cmd fragment: %q", it.Contents)
	}
	if it.ExitCode == nil || *it.ExitCode != 1 {
		t.Fatalf("ExitCode fragment was not applied")
	}
}

func TestMergeFragmentArraysReplaceWholesale(t *testing.T) {
	it := Item{RequiredPaths: []string{"/a", "/b"}}
	it.mergeFragment(record{Paths: []string{"/c"}})

	if !reflect.DeepEqual(it.RequiredPaths, []string{"/c"}) {
		t.Fatalf("RequiredPaths = %v, want [/c] (wholesale replace)", it.RequiredPaths)
	}
}

func TestMergeUpdateSemanticsMatchMergeFragment(t *testing.T) {
	it := Item{Contents: "kept"}
	it.mergeUpdate(Item{RequiredPaths: []string{"/x"}})

	if it.Contents != "kept" {
		t.Fatalf("mergeUpdate with empty Contents cleared an existing value")
	}
	if !reflect.DeepEqual(it.RequiredPaths, []string{"/x"}) {
		t.Fatalf("RequiredPaths = %v, want [/x]", it.RequiredPaths)
	}
}

func TestUpdateRecordCarriesOnlyGivenFields(t *testing.T) {
	id := NewItemID(nowForTest(), 3)
	rec := updateRecord(id, Item{RequiredPaths: []string{"/y"}})

	if rec.ID != EncodeItemID(id) {
		t.Fatalf("record id mismatch")
	}
	if rec.Cmd != nil {
		t.Fatalf("expected cmd omitted, got %v", rec.Cmd)
	}
	if len(rec.Paths) != 1 || rec.Paths[0] != "/y" {
		t.Fatalf("unexpected paths: %v", rec.Paths)
	}
}
