package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// rebuildLockName is the lock file guarding rebuilds of one index across
// processes.
const rebuildLockName = ".rebuild.lock"

// rebuildLock is a cross-process exclusive lock on <base>/.rebuild.lock.
type rebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newRebuildLock(base string) *rebuildLock {
	p := filepath.Join(base, rebuildLockName)
	return &rebuildLock{path: p, flock: flock.New(p)}
}

// TryLock takes the lock without blocking. It returns false when another
// process holds it.
func (l *rebuildLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire rebuild lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe on an unlocked lock.
func (l *rebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release rebuild lock: %w", err)
	}
	return nil
}
