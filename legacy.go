package shellhist

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// legacyEntry is the loosely-typed shape of one entry in the pre-jsonl
// YAML-based history format: an older version of this subsystem, or a
// different shell entirely, stored commands this way.
type legacyEntry struct {
	Cmd  string   `yaml:"cmd"`
	Cwd  string   `yaml:"cwd"`
	Exit *int32   `yaml:"exit"`
	When string   `yaml:"when"`
	Tags []string `yaml:"tags"`
}

// forbiddenBashTokens are substrings that, if present in a bash-history
// line, indicate a command too dynamic for safe, context-free replay as a
// plain Item.Contents string: command substitution, brace/glob expansion,
// or a compound conditional. Such lines are skipped outright rather than
// imported mangled.
var forbiddenBashTokens = []string{"`", "{", "*", "\\", "[[", "]]", "((", "))", "<<"}

// PopulateFromLegacyPaths runs at most once per store: if the jsonl file is
// missing, it tries, in order, a sibling YAML file at the jsonl path minus
// its extension, then a file under the legacy config directory. The first
// candidate that exists is imported via the normal Add path and the
// function returns; neither existing is not an error.
func (s *Store) PopulateFromLegacyPaths() error {
	s.mu.Lock()
	path, err := s.filePath()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if path == "" {
		return nil // incognito
	}
	if _, err := os.Stat(path); err == nil {
		return nil // jsonl already exists; nothing to migrate
	}

	candidates := []string{
		strings.TrimSuffix(path, filepath.Ext(path)),
	}
	if legacyDir, err := legacyConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(legacyDir, s.name+"_history"))
	}

	for _, cand := range candidates {
		f, err := os.Open(cand)
		if err != nil {
			continue
		}
		err = s.importLegacyYAML(f)
		f.Close()
		if err != nil {
			slog.Warn("[history-legacy] failed to import legacy file", "path", cand, "error", err)
			continue
		}
		return nil
	}
	return nil
}

func legacyConfigDir() (string, error) {
	base, err := userConfigDirFn()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(base), "legacy-shell"), nil
}

// importLegacyYAML decodes a stream of YAML documents (one per entry, `---`
// separated) from r and re-adds each as a disk-persisted Item, with
// synthetic timestamps starting 15 minutes before now and advancing by 1ms
// per entry so relative ordering is preserved.
func (s *Store) importLegacyYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	ts := time.Now().Add(-15 * time.Minute)

	for {
		var entry legacyEntry
		if err := dec.Decode(&entry); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if entry.Cmd == "" {
			continue
		}
		item := Item{
			ID:          NewItemID(ts, 0),
			Contents:    entry.Cmd,
			Cwd:         entry.Cwd,
			ExitCode:    entry.Exit,
			PersistMode: PersistDisk,
		}
		if _, err := s.Add(item, false); err != nil {
			return err
		}
		ts = ts.Add(time.Millisecond)
	}
}

// PopulateFromBash imports one command per line from r, a bash-history-
// shaped stream. Comments, blank lines, and lines containing any
// forbiddenBashTokens substring are skipped; each surviving line becomes a
// disk-persisted Item with the same synthetic-timestamp scheme as the YAML
// importer.
func (s *Store) PopulateFromBash(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	ts := time.Now().Add(-15 * time.Minute)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if containsForbiddenToken(line) {
			continue
		}

		item := Item{
			ID:          NewItemID(ts, 0),
			Contents:    line,
			PersistMode: PersistDisk,
		}
		if _, err := s.Add(item, false); err != nil {
			return err
		}
		ts = ts.Add(time.Millisecond)
	}
	return scanner.Err()
}

func containsForbiddenToken(line string) bool {
	for _, tok := range forbiddenBashTokens {
		if strings.Contains(line, tok) {
			return true
		}
	}
	return false
}
