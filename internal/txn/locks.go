package txn

import (
	"sort"
	"sync"
)

// PathLocker provides per-path mutual exclusion so concurrent in-process
// transactions over overlapping files serialize instead of interleaving
// writes. Paths are locked in sorted order to rule out lock-order deadlocks.
type PathLocker struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-path mutexes, created on first use
}

// NewPathLocker creates an empty PathLocker.
func NewPathLocker() *PathLocker {
	return &PathLocker{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for one path, creating it on first access.
func (p *PathLocker) Lock(path string) {
	p.mu.Lock()
	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	p.mu.Unlock()

	l.Lock()
}

// Unlock releases the mutex for one path.
func (p *PathLocker) Unlock(path string) {
	p.mu.Lock()
	l, ok := p.locks[path]
	p.mu.Unlock()

	if ok {
		l.Unlock()
	}
}

// LockAll acquires every path's mutex in sorted order. Duplicate paths are
// collapsed so they are never locked twice.
func (p *PathLocker) LockAll(paths []string) []string {
	unique := dedupeSorted(paths)
	for _, path := range unique {
		p.Lock(path)
	}
	return unique
}

// UnlockAll releases in reverse sorted order, symmetric with LockAll.
func (p *PathLocker) UnlockAll(paths []string) {
	unique := dedupeSorted(paths)
	for i := len(unique) - 1; i >= 0; i-- {
		p.Unlock(unique[i])
	}
}

func dedupeSorted(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	unique := sorted[:1]
	for _, path := range sorted[1:] {
		if path != unique[len(unique)-1] {
			unique = append(unique, path)
		}
	}
	return unique
}
