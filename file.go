package shellhist

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"time"
)

// lineOffset is the file index entry: the id decoded from one jsonl line
// and that line's byte offset within the mapped buffer.
type lineOffset struct {
	id     ItemID
	offset int
	length int
}

// HistoryFile is the parsed view of a backing jsonl file: the mapped bytes,
// a sorted index of (id, offset) line descriptors, and the indices into
// that slice marking the first line of each distinct id.
//
// A HistoryFile is immutable after construction (ShrinkToMaxRecords is the
// sole exception, and operates only on the in-memory index — never on
// data) and is therefore safe to share read-only across goroutines.
type HistoryFile struct {
	data       []byte
	lines      []lineOffset
	itemStarts []int
}

const idPrefixFast = `{"id":"`

// extractIDFast recognizes the hot-path line shape this implementation
// itself writes: the id key first, as an 11-character base64url token.
// Returns ok=false for anything else, including a valid id in any other
// position — callers must fall back to extractIDSlow.
func extractIDFast(line []byte) (ItemID, bool) {
	if len(line) < len(idPrefixFast)+11+1 {
		return ItemID(0), false
	}
	if !bytes.HasPrefix(line, []byte(idPrefixFast)) {
		return ItemID(0), false
	}
	rest := line[len(idPrefixFast):]
	token := rest[:11]
	if rest[11] != '"' {
		return ItemID(0), false
	}
	id, ok := DecodeItemID(string(token))
	if !ok {
		return ItemID(0), false
	}
	return id, true
}

// extractIDSlow fully JSON-parses the line to read its id field. This is
// the cold path: correct for any key order but materializes the whole
// object.
func extractIDSlow(line []byte) (ItemID, bool) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return ItemID(0), false
	}
	return DecodeItemID(probe.ID)
}

// ParseHistoryFile walks data line by line, indexing every line whose id
// decodes successfully. If cutoff is non-nil, lines whose id's embedded
// timestamp is strictly after cutoff are dropped — they belong to a peer
// that wrote after the caller's visibility boundary.
//
// Lines that are not valid UTF-8 are not specially detected (Go strings are
// byte sequences); invalid-JSON or missing-id lines are simply dropped,
// each with a Debug log line, and parsing continues.
func ParseHistoryFile(data []byte, cutoff *time.Time) *HistoryFile {
	f := &HistoryFile{data: data}

	var pairs []lineOffset
	pos := 0
	for pos < len(data) {
		nl := bytes.IndexByte(data[pos:], '\n')
		var line []byte
		lineLen := 0
		if nl < 0 {
			line = data[pos:]
			lineLen = len(line)
		} else {
			line = data[pos : pos+nl]
			lineLen = nl + 1
		}
		start := pos
		pos += lineLen

		trimmed := bytes.TrimRight(line, "\r")
		if len(trimmed) == 0 {
			continue
		}

		id, ok := extractIDFast(trimmed)
		if !ok {
			id, ok = extractIDSlow(trimmed)
		}
		if !ok {
			slog.Debug("[history-file] dropping line with unparseable id", "offset", start)
			continue
		}
		if cutoff != nil && id.Timestamp().After(*cutoff) {
			continue
		}
		pairs = append(pairs, lineOffset{id: id, offset: start, length: len(trimmed)})
	}

	// Stable sort on id alone: for lines sharing an id, the pre-sort
	// (append) order is preserved, which is exactly file-append order.
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].id.Raw() < pairs[j].id.Raw()
	})
	f.lines = pairs

	f.itemStarts = make([]int, 0, len(pairs))
	for i, p := range pairs {
		if i == 0 || p.id != pairs[i-1].id {
			f.itemStarts = append(f.itemStarts, i)
		}
	}
	return f
}

// ItemCount returns the number of distinct ids (logical items) indexed.
func (f *HistoryFile) ItemCount() int { return len(f.itemStarts) }

// lineRange returns the half-open range [lo, hi) of f.lines belonging to
// the k-th item (0-based, oldest first).
func (f *HistoryFile) lineRange(k int) (lo, hi int) {
	lo = f.itemStarts[k]
	if k+1 < len(f.itemStarts) {
		hi = f.itemStarts[k+1]
	} else {
		hi = len(f.lines)
	}
	return lo, hi
}

// assembleAt materializes the item at logical index k (0-based, oldest
// first) by folding every fragment sharing its id, in file order.
func (f *HistoryFile) assembleAt(k int) (Item, bool) {
	if k < 0 || k >= len(f.itemStarts) {
		return Item{}, false
	}
	lo, hi := f.lineRange(k)
	it := Item{ID: f.lines[lo].id}
	for i := lo; i < hi; i++ {
		ln := f.lines[i]
		var rec record
		if err := json.Unmarshal(f.data[ln.offset:ln.offset+ln.length], &rec); err != nil {
			slog.Debug("[history-file] dropping unparseable fragment", "offset", ln.offset)
			continue
		}
		it.mergeFragment(rec)
	}
	return it, true
}

// ItemAt returns the k-th item, 0-based, oldest first.
func (f *HistoryFile) ItemAt(k int) (Item, bool) { return f.assembleAt(k) }

// GetFromBack returns the k-th item from the newest end, 0-based.
func (f *HistoryFile) GetFromBack(k int) (Item, bool) {
	idx := len(f.itemStarts) - 1 - k
	if idx < 0 {
		return Item{}, false
	}
	return f.assembleAt(idx)
}

// Items returns every indexed item, oldest first.
func (f *HistoryFile) Items() []Item {
	out := make([]Item, 0, len(f.itemStarts))
	for k := range f.itemStarts {
		if it, ok := f.assembleAt(k); ok {
			out = append(out, it)
		}
	}
	return out
}

// marshalRecordLine renders rec as one jsonl line, newline-terminated. The
// field order (id, cmd, paths, cwd, exit, dur, sid) comes from the record
// struct's tag order, which encoding/json preserves for struct values.
func marshalRecordLine(rec record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	b = append(b, '\n')
	return b, nil
}

// ShrinkToMaxRecords caps the file's logical item count at n, dropping the
// oldest items first. It mutates only the in-memory index (lines,
// itemStarts) — it never touches the file on disk. Idempotent and
// monotonic in n: calling it again with the same or larger n is a no-op.
func (f *HistoryFile) ShrinkToMaxRecords(n int) {
	count := len(f.itemStarts)
	if n >= count {
		return
	}
	if n == 0 {
		f.lines = nil
		f.itemStarts = nil
		return
	}

	firstKept := count - n
	lineCutoff := f.itemStarts[firstKept]

	f.lines = append([]lineOffset(nil), f.lines[lineCutoff:]...)
	newStarts := make([]int, 0, n)
	for _, s := range f.itemStarts[firstKept:] {
		newStarts = append(newStarts, s-lineCutoff)
	}
	f.itemStarts = newStarts
}
