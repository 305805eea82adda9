package shellhist

import (
	"errors"
	"io"
	"strings"
)

// MatchType selects how a search term is compared against an item's text.
type MatchType int

const (
	// Exact requires whole-string equality.
	Exact MatchType = iota
	// Contains requires the term to appear anywhere in the text.
	Contains
	// Prefix requires the text to start with the term.
	Prefix
	// LinePrefix requires some \n-separated line of the text to start
	// with the term.
	LinePrefix
	// ContainsGlob wildcard-matches, padding the pattern with "*" on both
	// ends if the caller didn't already anchor it there.
	ContainsGlob
	// PrefixGlob wildcard-matches, padding the pattern with a trailing
	// "*" if the caller didn't already anchor it there.
	PrefixGlob
	// ContainsSubsequence requires the term's characters to appear in
	// order, not necessarily contiguously.
	ContainsSubsequence
)

// SearchFlags is a bitfield of HistorySearch behavior toggles.
type SearchFlags int

const (
	// FlagIgnoreCase folds both the term and candidate text to lowercase
	// (ASCII-aware, locale-independent) before comparing.
	FlagIgnoreCase SearchFlags = 1 << iota
	// FlagNoDedup disables the default dedup-by-text behavior, which
	// otherwise skips any item whose text was already yielded by this
	// search.
	FlagNoDedup
)

// Direction selects which way go_to_next_match advances the 1-based index.
type Direction int

const (
	// DirectionBackward moves toward older items (larger index).
	DirectionBackward Direction = iota
	// DirectionForward moves toward newer items (smaller index).
	DirectionForward
)

// HistorySearch drives incremental, UI-style iteration over a store: one
// step at a time, dedup-aware, resumable from wherever the caller left off.
type HistorySearch struct {
	store        *Store
	term         string
	normTerm     string
	matchType    MatchType
	flags        SearchFlags
	index        int
	current      Item
	hasCurrent   bool
	yieldedTexts map[string]struct{}
}

// NewHistorySearchAt constructs a search positioned at startingIndex (the
// first GoToNextMatch call considers startingIndex+1 when moving backward,
// or startingIndex-1 when moving forward, using item_at_index's 1-based
// convention; startingIndex 0 starts a backward search at the newest item).
func NewHistorySearchAt(store *Store, term string, matchType MatchType, flags SearchFlags, startingIndex int) *HistorySearch {
	norm := term
	if flags&FlagIgnoreCase != 0 {
		norm = asciiLower(term)
	}
	hs := &HistorySearch{
		store:     store,
		term:      term,
		normTerm:  norm,
		matchType: matchType,
		flags:     flags,
		index:     startingIndex,
	}
	if flags&FlagNoDedup == 0 {
		hs.yieldedTexts = make(map[string]struct{})
	}
	return hs
}

// CurrentItem returns the most recently yielded item, if any.
func (hs *HistorySearch) CurrentItem() (Item, bool) { return hs.current, hs.hasCurrent }

// CurrentIndex returns the 1-based index of the most recently yielded item.
func (hs *HistorySearch) CurrentIndex() int { return hs.index }

// GoToNextMatch advances the index in dir's direction, step by step,
// skipping non-matches and (unless FlagNoDedup) duplicate texts, until it
// finds a match or falls off either end of the store.
func (hs *HistorySearch) GoToNextMatch(dir Direction) bool {
	size := hs.store.Size()
	for {
		if dir == DirectionBackward {
			hs.index++
		} else {
			hs.index--
		}
		if hs.index < 1 || hs.index > size {
			hs.hasCurrent = false
			return false
		}

		it, ok := hs.store.ItemAtIndex(hs.index)
		if !ok {
			hs.hasCurrent = false
			return false
		}
		if !hs.matches(it.Contents) {
			continue
		}
		if hs.yieldedTexts != nil {
			if _, dup := hs.yieldedTexts[it.Contents]; dup {
				continue
			}
			hs.yieldedTexts[it.Contents] = struct{}{}
		}
		hs.current = it
		hs.hasCurrent = true
		return true
	}
}

func (hs *HistorySearch) matches(text string) bool {
	candidate := text
	if hs.flags&FlagIgnoreCase != 0 {
		candidate = asciiLower(candidate)
	}
	return matchText(candidate, hs.normTerm, hs.matchType)
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func matchText(text, term string, mt MatchType) bool {
	switch mt {
	case Exact:
		return text == term
	case Contains:
		return strings.Contains(text, term)
	case Prefix:
		return strings.HasPrefix(text, term)
	case LinePrefix:
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(line, term) {
				return true
			}
		}
		return false
	case ContainsGlob:
		pattern := term
		if !strings.HasPrefix(pattern, "*") {
			pattern = "*" + pattern
		}
		if !strings.HasSuffix(pattern, "*") {
			pattern = pattern + "*"
		}
		return globMatch(pattern, text)
	case PrefixGlob:
		pattern := term
		if !strings.HasSuffix(pattern, "*") {
			pattern = pattern + "*"
		}
		return globMatch(pattern, text)
	case ContainsSubsequence:
		return subsequenceMatch(text, term)
	default:
		return false
	}
}

// globMatch implements '*' (any run, including empty) and '?' (exactly one
// rune) wildcard matching, anchored to the whole string.
func globMatch(pattern, text string) bool {
	p := []rune(pattern)
	t := []rune(text)
	return globMatchRunes(p, t)
}

func globMatchRunes(p, t []rune) bool {
	var pi, ti int
	var starIdx = -1
	var matchIdx int
	for ti < len(t) {
		if pi < len(p) && (p[pi] == '?' || p[pi] == t[ti]) {
			pi++
			ti++
		} else if pi < len(p) && p[pi] == '*' {
			starIdx = pi
			matchIdx = ti
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			ti = matchIdx
		} else {
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// subsequenceMatch reports whether every rune of term appears in text, in
// order, not necessarily contiguously.
func subsequenceMatch(text, term string) bool {
	if term == "" {
		return true
	}
	t := []rune(term)
	ti := 0
	for _, r := range text {
		if r == t[ti] {
			ti++
			if ti == len(t) {
				return true
			}
		}
	}
	return false
}

// ErrEmptySearchTerm is returned by Search when opts.Term is empty: an
// empty search term is a caller mistake, not a crash.
var ErrEmptySearchTerm = errors.New("shellhist: search term must not be empty")

// SearchOptions configures the public Search driver.
type SearchOptions struct {
	Type          MatchType
	Term          string
	Args          []string // when non-empty, replaces Term; an item must match every arg
	TimeFormat    string   // a time.Format layout string; empty means no timestamp prefix
	Max           int      // 0 means unbounded
	CaseSensitive bool
	NulTerminate  bool
	Reverse       bool
	NoDedup       bool        // disables the default dedup-by-text behavior
	Cancel        func() bool // polled before each step; nil means never cancel
}

// Search performs a backward scan over store, matching each item against
// opts.Term with opts.Type (or, when opts.Args is non-empty, requiring
// every argument to match with opts.Type), writing one
// formatted line per surviving match to w. Matches are deduplicated by
// command text, newest occurrence wins, unless opts.NoDedup is set. Returns
// the number of matches written and an error only for a structural problem
// (empty term, write failure) — exhausting the store or being cancelled are
// not errors.
func Search(store *Store, w io.Writer, opts SearchOptions) (int, error) {
	if opts.Term == "" && len(opts.Args) == 0 {
		return 0, ErrEmptySearchTerm
	}

	flags := SearchFlags(0)
	if !opts.CaseSensitive {
		flags |= FlagIgnoreCase
	}

	terms := opts.Args
	if len(terms) == 0 {
		terms = []string{opts.Term}
	}

	size := store.Size()
	var matched []Item
	var yieldedTexts map[string]struct{}
	if !opts.NoDedup {
		yieldedTexts = make(map[string]struct{})
	}

	for idx := 1; idx <= size; idx++ {
		if opts.Cancel != nil && opts.Cancel() {
			break
		}
		it, ok := store.ItemAtIndex(idx)
		if !ok {
			continue
		}
		if !matchesAll(it.Contents, terms, opts.Type, flags) {
			continue
		}
		if yieldedTexts != nil {
			if _, dup := yieldedTexts[it.Contents]; dup {
				continue
			}
			yieldedTexts[it.Contents] = struct{}{}
		}
		matched = append(matched, it)
		if opts.Max > 0 && len(matched) >= opts.Max {
			break
		}
	}

	if !opts.Reverse {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	n := 0
	for _, it := range matched {
		line := formatSearchResult(it, opts)
		if _, err := io.WriteString(w, line); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func matchesAll(text string, terms []string, mt MatchType, flags SearchFlags) bool {
	candidate := text
	if flags&FlagIgnoreCase != 0 {
		candidate = asciiLower(candidate)
	}
	for _, term := range terms {
		t := term
		if flags&FlagIgnoreCase != 0 {
			t = asciiLower(t)
		}
		if !matchText(candidate, t, mt) {
			return false
		}
	}
	return true
}

func formatSearchResult(it Item, opts SearchOptions) string {
	var b strings.Builder
	if opts.TimeFormat != "" {
		b.WriteString(it.ID.Timestamp().Format(opts.TimeFormat))
		b.WriteByte(' ')
	}
	b.WriteString(it.Contents)
	if opts.NulTerminate {
		b.WriteByte(0)
	} else {
		b.WriteByte('\n')
	}
	return b.String()
}
