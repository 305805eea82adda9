package shellhist

import "time"

// nowForTest centralizes the "I just need *a* timestamp" case in tests that
// don't care about wall-clock accuracy, only that timestamps are distinct
// and monotonic where the test advances them manually.
func nowForTest() time.Time { return time.Now() }

// newTestStore builds an unregistered Store rooted at dir, bypassing the
// process-global registry so parallel tests never collide on namespace
// interning.
func newTestStore(dir, name string, opts ...Option) *Store {
	all := append([]Option{WithDir(dir)}, opts...)
	return newStore(name, all...)
}
