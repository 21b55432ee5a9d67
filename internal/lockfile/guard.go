package lockfile

import (
	"fmt"
	"os"
)

// Guard holds an acquired exclusive lock on a sidecar file for the
// lifetime of some process-serialized operation (an import run, a
// learning maintenance pass).
type Guard struct {
	f    *os.File
	path string
}

// Acquire opens (creating if needed) the lock file at path and takes a
// non-blocking exclusive flock on it. It returns ErrLocked wrapped with
// the path if another process already holds it.
func Acquire(path string) (*Guard, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open %s: %w", path, err)
	}
	if err := FlockExclusiveNonBlocking(f); err != nil {
		_ = f.Close()
		if IsLocked(err) {
			return nil, fmt.Errorf("lockfile: %s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("lockfile: flock %s: %w", path, err)
	}
	return &Guard{f: f, path: path}, nil
}

// Release unlocks and closes the underlying file. The lock file itself
// is left on disk; its presence is not meaningful, only its lock state.
func (g *Guard) Release() error {
	if g == nil || g.f == nil {
		return nil
	}
	unlockErr := FlockUnlock(g.f)
	closeErr := g.f.Close()
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
