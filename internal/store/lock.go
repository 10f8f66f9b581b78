package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// IndexLock guards the index directory against concurrent server
// processes. Two servers mutating the same bleve/HNSW files corrupt
// both, so serve refuses to start without the lock.
type IndexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIndexLock creates a lock for the given index directory.
// The lock file lives at <dir>/.psychrag.lock.
func NewIndexLock(dir string) *IndexLock {
	lockPath := filepath.Join(dir, ".psychrag.lock")
	return &IndexLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns false when another process holds it.
func (l *IndexLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create index directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire index lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock if held.
func (l *IndexLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	return l.flock.Unlock()
}
