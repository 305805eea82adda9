package shellhist

import (
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// changeWatcher wraps an fsnotify watch on a store's backing file so
// external writers (another shell process appending, a peer's vacuum) are
// automatically incorporated without the caller having to poll.
type changeWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

// WatchExternalChanges starts watching the store's backing file for writes
// made by other processes and calls IncorporateExternalChanges whenever one
// is observed. It is an additive convenience on top of the otherwise-manual
// IncorporateExternalChanges: nothing in the core Add/Search/Remove path
// depends on it. Calling it more than once, or on an incognito store, is a
// no-op. The returned stop function releases the watch; it is safe to call
// more than once.
func (s *Store) WatchExternalChanges() (stop func(), err error) {
	s.mu.Lock()
	if s.incognito || s.watcher != nil {
		s.mu.Unlock()
		return func() {}, nil
	}
	path, pathErr := s.filePath()
	s.mu.Unlock()
	if pathErr != nil {
		return nil, pathErr
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if dir := dirOf(path); dir != "" {
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}

	cw := &changeWatcher{w: w, done: make(chan struct{})}

	s.mu.Lock()
	s.watcher = cw
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					s.IncorporateExternalChanges()
				}
			case watchErr, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("[history-watch] fsnotify error", "namespace", s.name, "error", watchErr)
			case <-cw.done:
				return
			}
		}
	}()

	var stopped sync.Once
	stopOnce := func() {
		stopped.Do(func() {
			s.mu.Lock()
			if s.watcher == cw {
				s.watcher = nil
			}
			s.mu.Unlock()
			close(cw.done)
			w.Close()
		})
	}
	return stopOnce, nil
}
