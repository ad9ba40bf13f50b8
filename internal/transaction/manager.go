package transaction

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// RollbackFunc reverses one applied step
type RollbackFunc func() error

type step struct {
	name string
	fn   RollbackFunc
}

// Manager keeps the undo stack of a single package's apply phase. Steps are
// undone in reverse order; committing discards them.
type Manager struct {
	mu     sync.Mutex
	steps  []step
	logger *zerolog.Logger
}

// NewManager creates a new transaction manager
func NewManager(logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{logger: logger}
}

// Add pushes a rollback step
func (m *Manager) Add(name string, fn RollbackFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step{name: name, fn: fn})
}

// TrackFiles registers the removal of files written under root. Undoing
// removes them in reverse order; directories go only when empty.
func (m *Manager) TrackFiles(fs afero.Fs, root, pkgName string, files []core.InstalledFile) {
	if len(files) == 0 {
		return
	}
	tracked := append([]core.InstalledFile(nil), files...)
	m.Add("remove files of "+pkgName, func() error {
		return RemoveFiles(fs, root, tracked, m.logger)
	})
}

// Pending returns the number of registered steps
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// Rollback executes all registered steps in reverse order (LIFO) and clears the stack
func (m *Manager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.steps) == 0 {
		return nil
	}

	m.logger.Info().Int("steps", len(m.steps)).Msg("rolling back")

	var errs []error
	for i := len(m.steps) - 1; i >= 0; i-- {
		s := m.steps[i]
		m.logger.Debug().Str("operation", s.name).Msg("rolling back")

		if err := s.fn(); err != nil {
			errs = append(errs, fmt.Errorf("rollback '%s': %w", s.name, err))
			m.logger.Error().Err(err).Str("operation", s.name).Msg("rollback failed")
		}
	}

	m.steps = nil
	return errors.Join(errs...)
}

// Commit clears the stack, keeping every applied step
func (m *Manager) Commit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = nil
}

// RemoveFiles deletes installed paths relative to root in reverse order.
// Directories are removed only when empty and missing paths are ignored.
func RemoveFiles(fs afero.Fs, root string, files []core.InstalledFile, logger *zerolog.Logger) error {
	var errs []error
	for i := len(files) - 1; i >= 0; i-- {
		f := files[i]
		target := filepath.Join(root, f.Path)

		if f.IsDir {
			if _, err := fs.Stat(target); os.IsNotExist(err) {
				continue
			}
			empty, err := afero.IsEmpty(fs, target)
			if err != nil {
				errs = append(errs, fmt.Errorf("inspect %s: %w", f.Path, err))
				continue
			}
			if !empty {
				logger.Debug().Str("path", f.Path).Msg("keeping non-empty directory")
				continue
			}
		}

		if err := fs.Remove(target); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("remove %s: %w", f.Path, err))
		}
	}
	return errors.Join(errs...)
}
