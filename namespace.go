package shellhist

import (
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

// DefaultNamespace is used when the namespace environment variable is
// unset, or set to a value that is not shaped like a variable name.
const DefaultNamespace = "fish"

// Namespace env var names. A shell embedding this package sets these before
// resolving a Store so multiple concurrent shells of different flavors (or
// test harnesses) don't share one history file by accident.
const (
	// EnvNamespace selects which namespace (and therefore which backing
	// file) Open resolves to.
	EnvNamespace = "HISTORY_NAMESPACE"
	// EnvIncognito, when set to any non-empty value, forces incognito mode
	// regardless of EnvNamespace.
	EnvIncognito = "HISTORY_INCOGNITO"
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Lookup resolves an environment variable to (value, present). Library code
// never calls os.Getenv directly; callers pass os.LookupEnv or a fake for
// tests.
type Lookup func(key string) (string, bool)

// ResolveNamespace applies the namespace-resolution rules: an unset
// EnvNamespace defaults to DefaultNamespace; an EnvNamespace explicitly set
// to the empty string means incognito; a non-empty value that isn't shaped
// like a valid variable name falls back to DefaultNamespace with a warning.
func ResolveNamespace(lookup Lookup) (name string, incognito bool) {
	if v, ok := lookup(EnvIncognito); ok && v != "" {
		return "", true
	}

	v, ok := lookup(EnvNamespace)
	if !ok {
		return DefaultNamespace, false
	}
	if v == "" {
		return "", true
	}
	if !namespacePattern.MatchString(v) {
		slog.Warn("[history-namespace] env namespace is not a valid name, using default",
			"value", v, "default", DefaultNamespace)
		return DefaultNamespace, false
	}
	return v, false
}

// registry interns Store handles by namespace so that multiple callers in
// one process that ask for the same namespace observe the same in-memory
// state (shared new_items, shared mutex) instead of racing two independent
// views of the same file.
var registry = struct {
	mu     sync.Mutex
	stores map[string]*Store
}{stores: make(map[string]*Store)}

// Open returns the shared Store for name, creating it on first use. An
// empty name denotes incognito mode: no file is ever read or written, and
// nothing is interned (every Open("") call returns a fresh private Store).
func Open(name string, opts ...Option) *Store {
	if name == "" {
		return newStore("", opts...)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if s, ok := registry.stores[name]; ok {
		return s
	}
	s := newStore(name, opts...)
	registry.stores[name] = s
	return s
}

// forgetStore removes name from the registry. Used by Store.Clear so a
// subsequent Open re-resolves data directory defaults instead of handing
// back a cleared-but-cached handle forever (harmless either way, since
// Clear also resets in-memory state, but keeps the registry from pinning
// memory for namespaces the caller is done with).
func forgetStore(name string) {
	if name == "" {
		return
	}
	registry.mu.Lock()
	delete(registry.stores, name)
	registry.mu.Unlock()
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithDir overrides the directory the backing file lives in. Without it,
// the store resolves os.UserConfigDir()/shellhist.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithVacuumInterval overrides the add-counter interval (default 25) that
// triggers an automatic vacuum.
func WithVacuumInterval(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.vacuumInterval = n
			s.countdownToVacuum = n
		}
	}
}

// WithMaxRecords overrides the record cap vacuum enforces (default
// 1024*512).
func WithMaxRecords(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRecords = n
		}
	}
}

var userConfigDirFn = os.UserConfigDir // test seam

func defaultDataDir() (string, error) {
	base, err := userConfigDirFn()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "shellhist"), nil
}

// filePath returns the backing jsonl file path for the store, or "" for an
// incognito store.
func (s *Store) filePath() (string, error) {
	if s.incognito {
		return "", nil
	}
	dir := s.dir
	if dir == "" {
		d, err := defaultDataDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	return filepath.Join(dir, s.name+"_history.jsonl"), nil
}
