package shellhist

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"shellhist/internal/workerutil"
)

// maxPathWorkers bounds the persistent goroutine pool used for background
// path detection: enough parallelism to keep up with interactive typing
// without spawning a goroutine per command.
const maxPathWorkers = 8

// pathTask is one unit of background work: extract, expand, and validate
// the path-like tokens in cmd, then fold the survivors back onto store via
// EmitUpdate.
type pathTask struct {
	store *Store
	id    ItemID
	cmd   string
	cwd   string
}

// pathPoolRegistry is the process-global set of running path-detection
// pools, keyed by Store so that Clear/GC of a namespace can eventually stop
// its pool. Pools are started lazily on first AddPendingWithFileDetection
// call and live for the process's lifetime.
var pathPoolRegistry = struct {
	mu    sync.Mutex
	pools map[*Store]chan pathTask
}{pools: make(map[*Store]chan pathTask)}

// ensurePathPool lazily starts this store's bounded worker pool. Safe to
// call repeatedly; only the first call per store has effect.
func (s *Store) ensurePathPool() chan pathTask {
	s.pathPoolOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.pathPoolCancel = cancel
		s.pathTasks = make(chan pathTask, 64)

		for i := 0; i < maxPathWorkers; i++ {
			workerutil.RunWithPanicRecovery(ctx, "history-pathdetect", &s.pathWG,
				func(ctx context.Context) { runPathWorker(ctx, s.pathTasks) },
				workerutil.RecoveryOptions{
					IsShutdown: func() bool { return ctx.Err() != nil },
				},
			)
		}

		pathPoolRegistry.mu.Lock()
		pathPoolRegistry.pools[s] = s.pathTasks
		pathPoolRegistry.mu.Unlock()
	})
	return s.pathTasks
}

func runPathWorker(ctx context.Context, tasks chan pathTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			processPathTask(task)
		}
	}
}

func processPathTask(task pathTask) {
	candidates := extractPathCandidates(task.cmd)
	if len(candidates) == 0 {
		return
	}

	var survivors []string
	for _, c := range candidates {
		expanded := expandPathCandidate(c)
		resolved := expanded
		if !filepath.IsAbs(resolved) && task.cwd != "" {
			resolved = filepath.Join(task.cwd, resolved)
		}
		if _, err := os.Stat(resolved); err == nil {
			survivors = append(survivors, expanded)
		}
	}
	if len(survivors) == 0 {
		return
	}

	if err := task.store.EmitUpdate(Item{ID: task.id, RequiredPaths: survivors}); err != nil {
		slog.Warn("[history-pathdetect] emit_update failed", "id", task.id, "error", err)
	}
}

// extractPathCandidates tokenizes cmd on whitespace and returns every token
// after the first (the command name) that isn't empty and doesn't start
// with '-' (a flag). Validity is decided
// later by stat'ing the expanded candidate relative to cwd, not by the
// token's shape: a bare relative filename like "Makefile" is as much a
// candidate as "/etc/hosts" or "~/projects". This is a heuristic, not a
// shell parser: no quoting, globbing, or command-substitution awareness.
func extractPathCandidates(cmd string) []string {
	fields := strings.Fields(cmd)
	var out []string
	for i, f := range fields {
		if i == 0 {
			continue // skip the command name itself
		}
		if f == "" || strings.HasPrefix(f, "-") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// expandPathCandidate expands a leading "~" to the user's home directory
// and $VAR / ${VAR} references via os.Expand. Deliberately no globbing and
// no command substitution: those require a real shell, and this is a
// best-effort background hint, not a shell reimplementation.
func expandPathCandidate(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return os.Expand(p, func(name string) string {
		v, _ := os.LookupEnv(name)
		return v
	})
}

// AddPendingWithFileDetection is AddPending plus asynchronous background
// enrichment: once the pending item is added, its command text is
// tokenized for path-like arguments and, for each one that resolves to an
// existing filesystem entry, EmitUpdate folds it into RequiredPaths. The
// detection runs on a bounded pool of persistent goroutines shared by this
// store and returns no error of its own — enrichment is best-effort.
func (s *Store) AddPendingWithFileDetection(text string, cwd string, sessionID *uint64, mode PersistMode) (ItemID, error) {
	id, err := s.AddPending(text, cwd, sessionID, mode)
	if err != nil {
		return id, err
	}

	pool := s.ensurePathPool()
	select {
	case pool <- pathTask{store: s, id: id, cmd: text, cwd: cwd}:
	default:
		slog.Debug("[history-pathdetect] task queue full, dropping enrichment", "id", id)
	}
	return id, nil
}
