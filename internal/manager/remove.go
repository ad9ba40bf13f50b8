package manager

import (
	"context"
	"errors"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/transaction"
)

// Remove uninstalls name. Installed packages that depend on it block the
// removal unless opts.Cascade is set, in which case they are removed first,
// recursively. No file is touched when the removal is blocked. It returns
// the removed package names in removal order, orphans swept afterwards
// included.
func (m *Manager) Remove(ctx context.Context, name string, opts core.RemoveOptions) ([]string, error) {
	var removed []string
	err := m.withLock(func() error {
		var err error
		removed, err = m.remove(ctx, name, opts)
		return err
	})
	return removed, err
}

// RemovalPlan returns the packages Remove would uninstall, without changing
// anything
func (m *Manager) RemovalPlan(ctx context.Context, name string, opts core.RemoveOptions) ([]string, error) {
	if _, err := m.db.GetInstalledPackage(ctx, name); err != nil {
		return nil, err
	}
	if !opts.Cascade {
		if err := m.checkDependents(ctx, name); err != nil {
			return nil, err
		}
		return []string{name}, nil
	}
	return m.cascadeOrder(ctx, name)
}

func (m *Manager) remove(ctx context.Context, name string, opts core.RemoveOptions) ([]string, error) {
	order, err := m.RemovalPlan(ctx, name, opts)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, n := range order {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := m.removeOne(ctx, n); err != nil {
			return removed, err
		}
		removed = append(removed, n)
	}

	if m.cfg.Install.AutoRemoveOrphans {
		orphans, err := m.removeOrphans(ctx)
		if err != nil {
			m.log.Warn().Err(err).Msg("orphan removal incomplete")
		}
		removed = append(removed, orphans...)
	}
	return removed, nil
}

func (m *Manager) checkDependents(ctx context.Context, name string) error {
	dependents, err := m.db.GetDependents(ctx, name)
	if err != nil {
		return err
	}
	if len(dependents) > 0 {
		return core.DependencyConflict(name, dependents)
	}
	return nil
}

type removeFrame struct {
	name       string
	dependents []string
	loaded     bool
	next       int
}

// cascadeOrder lists name and everything depending on it, transitively, so
// that each package comes after all of its dependents
func (m *Manager) cascadeOrder(ctx context.Context, name string) ([]string, error) {
	visited := map[string]bool{name: true}
	stack := []*removeFrame{{name: name}}
	var order []string

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if !top.loaded {
			deps, err := m.db.GetDependents(ctx, top.name)
			if err != nil {
				return nil, err
			}
			top.dependents, top.loaded = deps, true
		}

		descended := false
		for top.next < len(top.dependents) {
			d := top.dependents[top.next]
			top.next++
			if visited[d] {
				continue
			}
			visited[d] = true
			stack = append(stack, &removeFrame{name: d})
			descended = true
			break
		}
		if descended {
			continue
		}

		order = append(order, top.name)
		stack = stack[:len(stack)-1]
	}
	return order, nil
}

// removeOne deletes the files of an installed package, in reverse install
// order, then its ledger entry. A failure to delete files keeps the ledger
// entry so the removal can be retried.
func (m *Manager) removeOne(ctx context.Context, name string) error {
	pkg, err := m.db.GetInstalledPackage(ctx, name)
	if err != nil {
		return err
	}

	txID, err := m.db.BeginTransaction(ctx, core.TxRemove, name, pkg.Package.Version, "")
	if err != nil {
		return err
	}
	defer m.failOnPanic(ctx, txID)

	if err := m.deleteFiles(pkg); err != nil {
		err = core.NewError(core.ErrIO, "remove", name, err)
		m.failTx(ctx, txID, err)
		return err
	}
	if err := m.db.MarkRemoved(ctx, name); err != nil {
		m.failTx(ctx, txID, err)
		return err
	}

	m.completeTx(ctx, txID)
	m.log.Info().Str("package", name).Str("version", pkg.Package.Version).Msg("package removed")
	return nil
}

func (m *Manager) deleteFiles(pkg *core.InstalledPackage) error {
	return transaction.RemoveFiles(m.fs, m.paths.Root(), pkg.Files, m.log)
}

// RemoveOrphans removes dependency-installed packages nothing depends on
// anymore, repeating until none are left. It returns the removed names.
func (m *Manager) RemoveOrphans(ctx context.Context) ([]string, error) {
	var removed []string
	err := m.withLock(func() error {
		var err error
		removed, err = m.removeOrphans(ctx)
		return err
	})
	return removed, err
}

func (m *Manager) removeOrphans(ctx context.Context) ([]string, error) {
	attempted := make(map[string]bool)
	var (
		removed []string
		errs    []error
	)

	for {
		orphans, err := m.db.FindOrphans(ctx)
		if err != nil {
			return removed, err
		}

		progressed := false
		for _, name := range orphans {
			if attempted[name] {
				continue
			}
			attempted[name] = true
			progressed = true

			m.log.Info().Str("package", name).Msg("removing orphaned package")
			if err := m.removeOne(ctx, name); err != nil {
				errs = append(errs, err)
				continue
			}
			removed = append(removed, name)
		}
		if !progressed {
			break
		}
	}

	return removed, errors.Join(errs...)
}
