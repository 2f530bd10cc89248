package chain

import (
	"sort"
	"sync"
)

// pathLock is a refcounted RW mutex for one logical path
type pathLock struct {
	mu   sync.RWMutex
	refs int
}

// PathLocker provides per-logical-path mutual exclusion. Write, truncate and
// the cascade operations hold the exclusive lock across their
// probe-then-mutate sequence; read holds the shared lock while resolving and
// reading the head entry. Entries are created on demand and dropped when the
// last holder releases, so the table stays bounded by concurrency, not by
// namespace size.
type PathLocker struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

// NewPathLocker creates an empty lock table
func NewPathLocker() *PathLocker {
	return &PathLocker{
		locks: make(map[string]*pathLock),
	}
}

// acquire returns the lock entry for path with its refcount bumped
func (pl *PathLocker) acquire(path string) *pathLock {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	l, exists := pl.locks[path]
	if !exists {
		l = &pathLock{}
		pl.locks[path] = l
	}
	l.refs++
	return l
}

// release drops one reference, removing the entry when unused
func (pl *PathLocker) release(path string) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	l, exists := pl.locks[path]
	if !exists {
		return
	}
	l.refs--
	if l.refs <= 0 {
		delete(pl.locks, path)
	}
}

// Lock acquires the exclusive lock for path
func (pl *PathLocker) Lock(path string) {
	l := pl.acquire(path)
	l.mu.Lock()
}

// Unlock releases the exclusive lock for path
func (pl *PathLocker) Unlock(path string) {
	pl.mu.Lock()
	l := pl.locks[path]
	pl.mu.Unlock()
	l.mu.Unlock()
	pl.release(path)
}

// RLock acquires the shared lock for path
func (pl *PathLocker) RLock(path string) {
	l := pl.acquire(path)
	l.mu.RLock()
}

// RUnlock releases the shared lock for path
func (pl *PathLocker) RUnlock(path string) {
	pl.mu.Lock()
	l := pl.locks[path]
	pl.mu.Unlock()
	l.mu.RUnlock()
	pl.release(path)
}

// LockPair acquires the exclusive locks for two paths in a deterministic
// order so concurrent renames cannot deadlock. Equal paths lock once.
func (pl *PathLocker) LockPair(a, b string) {
	if a == b {
		pl.Lock(a)
		return
	}
	paths := []string{a, b}
	sort.Strings(paths)
	pl.Lock(paths[0])
	pl.Lock(paths[1])
}

// UnlockPair releases locks taken by LockPair
func (pl *PathLocker) UnlockPair(a, b string) {
	if a == b {
		pl.Unlock(a)
		return
	}
	paths := []string{a, b}
	sort.Strings(paths)
	pl.Unlock(paths[1])
	pl.Unlock(paths[0])
}
