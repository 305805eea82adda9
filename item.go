package shellhist

// PersistMode controls whether an Item is written to disk, kept only for
// the lifetime of the process, or discarded as soon as a non-ephemeral item
// is added. PersistMode is never serialized to the backing file.
type PersistMode int

const (
	// PersistDisk items are appended to the backing jsonl file.
	PersistDisk PersistMode = iota
	// PersistMemory items live only in this process's in-memory new_items.
	PersistMemory
	// PersistEphemeral items are dropped as soon as any non-ephemeral item
	// is added (see Store.trimEphemeral).
	PersistEphemeral
)

func (m PersistMode) String() string {
	switch m {
	case PersistDisk:
		return "disk"
	case PersistMemory:
		return "memory"
	case PersistEphemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// Item is one logical command record. Contents may be empty only for
// metadata-only fragments that exist inside the file; a Store never adds an
// Item with empty Contents as a user-visible entry (see Store.Add).
type Item struct {
	ID            ItemID
	Contents      string
	RequiredPaths []string
	ExitCode      *int32
	Duration      *uint64 // milliseconds
	Cwd           string
	SessionID     *uint64
	PersistMode   PersistMode
}

// IsEmpty reports whether the item carries no command text. Empty-contents
// items are valid only as in-file metadata fragments, never as the
// authoritative record for a user-visible entry.
func (it Item) IsEmpty() bool { return it.Contents == "" }

// Clone returns a deep copy of it (RequiredPaths and the optional-field
// pointers are copied, not aliased).
func (it Item) Clone() Item {
	out := it
	if it.RequiredPaths != nil {
		out.RequiredPaths = append([]string(nil), it.RequiredPaths...)
	}
	if it.ExitCode != nil {
		v := *it.ExitCode
		out.ExitCode = &v
	}
	if it.Duration != nil {
		v := *it.Duration
		out.Duration = &v
	}
	if it.SessionID != nil {
		v := *it.SessionID
		out.SessionID = &v
	}
	return out
}

// record is the on-disk JSON shape of one jsonl line. Field order matches
// the writer's emission order: id, cmd, paths, cwd, exit, dur, sid. Readers
// must not rely on this order; see file.go's extractIDFast/extractIDSlow.
type record struct {
	ID    string   `json:"id"`
	Cmd   *string  `json:"cmd,omitempty"`
	Paths []string `json:"paths,omitempty"`
	Cwd   *string  `json:"cwd,omitempty"`
	Exit  *int32   `json:"exit,omitempty"`
	Dur   *uint64  `json:"dur,omitempty"`
	SID   *string  `json:"sid,omitempty"`
}

// toRecord renders it as a full record: the id plus every present,
// non-default field. Empty Contents omits cmd; empty RequiredPaths omits
// paths.
func (it Item) toRecord() record {
	rec := record{ID: EncodeItemID(it.ID)}
	if it.Contents != "" {
		cmd := it.Contents
		rec.Cmd = &cmd
	}
	if len(it.RequiredPaths) > 0 {
		rec.Paths = append([]string(nil), it.RequiredPaths...)
	}
	if it.Cwd != "" {
		cwd := it.Cwd
		rec.Cwd = &cwd
	}
	rec.Exit = it.ExitCode
	rec.Dur = it.Duration
	if it.SessionID != nil {
		sid := EncodeU64Base64(*it.SessionID)
		rec.SID = &sid
	}
	return rec
}

// updateRecord renders a metadata-only record carrying just it.ID plus
// whichever of the given field values are present, for use by
// Store.EmitUpdate which only ever changes a subset of fields.
func updateRecord(id ItemID, fields Item) record {
	rec := record{ID: EncodeItemID(id)}
	if fields.Contents != "" {
		cmd := fields.Contents
		rec.Cmd = &cmd
	}
	if fields.RequiredPaths != nil {
		rec.Paths = append([]string(nil), fields.RequiredPaths...)
	}
	if fields.Cwd != "" {
		cwd := fields.Cwd
		rec.Cwd = &cwd
	}
	rec.Exit = fields.ExitCode
	rec.Dur = fields.Duration
	if fields.SessionID != nil {
		sid := EncodeU64Base64(*fields.SessionID)
		rec.SID = &sid
	}
	return rec
}

// mergeFragment applies the fields present in rec onto it. Array-valued
// fields (paths) replace wholesale. An empty/absent cmd never clears an
// already-present Contents — later fragments only add information.
func (it *Item) mergeFragment(rec record) {
	if rec.Cmd != nil && *rec.Cmd != "" {
		it.Contents = *rec.Cmd
	}
	if rec.Paths != nil {
		it.RequiredPaths = append([]string(nil), rec.Paths...)
	}
	if rec.Cwd != nil && *rec.Cwd != "" {
		it.Cwd = *rec.Cwd
	}
	if rec.Exit != nil {
		v := *rec.Exit
		it.ExitCode = &v
	}
	if rec.Dur != nil {
		v := *rec.Dur
		it.Duration = &v
	}
	if rec.SID != nil {
		if sid, ok := DecodeU64Base64(*rec.SID); ok {
			it.SessionID = &sid
		}
	}
}

// mergeUpdate applies the non-default fields of update onto it, used by
// Store.EmitUpdate to fold an out-of-band metadata change into the
// in-memory item. Semantics mirror mergeFragment: arrays replace wholesale,
// empty Contents never clears a previously recorded command.
func (it *Item) mergeUpdate(update Item) {
	if update.Contents != "" {
		it.Contents = update.Contents
	}
	if update.RequiredPaths != nil {
		it.RequiredPaths = append([]string(nil), update.RequiredPaths...)
	}
	if update.Cwd != "" {
		it.Cwd = update.Cwd
	}
	if update.ExitCode != nil {
		it.ExitCode = update.ExitCode
	}
	if update.Duration != nil {
		it.Duration = update.Duration
	}
	if update.SessionID != nil {
		it.SessionID = update.SessionID
	}
}
