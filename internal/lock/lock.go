package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/quantmind-br/hpkg/internal/core"
	"golang.org/x/sys/unix"
)

// RelPath is the lock file location relative to the install root
const RelPath = "var/lib/hpkg/lock"

// Lock is an advisory exclusive lock on an install root
type Lock struct {
	path string
	file *os.File
}

// PathFor returns the lock file path for an install root
func PathFor(root string) string {
	return filepath.Join(root, RelPath)
}

// Acquire takes the lock for root without blocking. If another process holds
// it, the returned error wraps core.ErrLocked.
func Acquire(root string) (*Lock, error) {
	path := PathFor(root)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, core.NewError(core.ErrIO, "create lock directory", path, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, core.NewError(core.ErrIO, "open lock", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, core.NewError(core.ErrLocked, "acquire lock", path, nil)
		}
		return nil, core.NewError(core.ErrIO, "acquire lock", path, err)
	}

	// the pid is informational only
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Lock{path: path, file: f}, nil
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlockErr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	closeErr := f.Close()
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close %s: %w", l.path, closeErr)
	}
	return nil
}
