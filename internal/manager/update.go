package manager

import (
	"context"
	"errors"
	"sort"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/fsops"
	"github.com/quantmind-br/hpkg/internal/paths"
	"github.com/quantmind-br/hpkg/internal/repo"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// Upgrade describes an installed package with a newer catalog version
type Upgrade struct {
	Name       string
	OldVersion string
	NewVersion string
	Reason     core.InstallReason
	Package    core.Package
}

// Sync refreshes the stored index of every enabled repository, at most
// parallel_downloads at a time. Every repository is attempted; the failures
// are returned together, each wrapping core.ErrRepositorySync.
func (m *Manager) Sync(ctx context.Context) error {
	return m.withLock(func() error {
		return m.sync(ctx)
	})
}

func (m *Manager) sync(ctx context.Context) error {
	repos, err := m.syncRepositoryDefinitions(ctx)
	if err != nil {
		return err
	}

	var enabled []core.Repository
	for _, r := range repos {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	if len(enabled) == 0 {
		m.log.Warn().Str("repos_dir", m.cfg.ReposDir()).Msg("no enabled repositories")
		return nil
	}

	errs := make([]error, len(enabled))
	var g errgroup.Group
	g.SetLimit(m.cfg.Install.ParallelDownloads)
	for i, r := range enabled {
		g.Go(func() error {
			errs[i] = m.syncRepository(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// syncRepositoryDefinitions makes the stored repositories match the
// definitions in repos_dir. Without that directory the stored ones are used
// as they are.
func (m *Manager) syncRepositoryDefinitions(ctx context.Context) ([]core.Repository, error) {
	dir := m.cfg.ReposDir()
	exists, err := afero.DirExists(m.fs, dir)
	if err != nil {
		return nil, core.NewError(core.ErrIO, "load repositories", dir, err)
	}
	if !exists {
		return m.db.ListRepositories(ctx)
	}

	defs, err := repo.LoadDir(m.fs, dir)
	if err != nil {
		return nil, core.NewError(core.ErrRepositorySync, "load repositories", dir, err)
	}

	stored, err := m.db.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	defined := make(map[string]bool, len(defs))
	for _, r := range defs {
		defined[r.Name] = true
		if err := m.db.SaveRepository(ctx, r); err != nil {
			return nil, err
		}
	}
	for _, r := range stored {
		if !defined[r.Name] {
			m.log.Info().Str("repository", r.Name).Msg("dropping repository no longer configured")
			if err := m.db.DeleteRepository(ctx, r.Name); err != nil {
				return nil, err
			}
		}
	}
	return defs, nil
}

// syncRepository fetches one index, trying the mirrors after the main URL
func (m *Manager) syncRepository(ctx context.Context, r core.Repository) error {
	m.log.Info().Str("repository", r.Name).Str("url", r.URL).Msg("syncing repository")

	urls := []string{repo.IndexURL(r)}
	for _, mirror := range r.MirrorURLs {
		urls = append(urls, repo.IndexURL(core.Repository{URL: mirror}))
	}

	var lastErr error
	for _, u := range urls {
		data, err := m.downloader.FetchBytes(ctx, u)
		if err != nil {
			lastErr = err
			m.log.Warn().Err(err).Str("repository", r.Name).Str("url", u).Msg("index fetch failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		idx, err := repo.DecodeIndex(data)
		if err != nil {
			lastErr = err
			m.log.Warn().Err(err).Str("repository", r.Name).Str("url", u).Msg("index rejected")
			continue
		}
		idx.Repository = r

		if err := m.db.UpdateRepositoryIndex(ctx, idx); err != nil {
			return core.NewError(core.ErrRepositorySync, "sync", r.Name, err)
		}

		m.log.Info().Str("repository", r.Name).Int("packages", len(idx.Packages)).Msg("repository synced")
		return nil
	}
	return core.NewError(core.ErrRepositorySync, "sync", r.Name, lastErr)
}

// ListUpgrades returns the installed packages whose newest catalog version is
// newer than the installed one, ordered by name
func (m *Manager) ListUpgrades(ctx context.Context) ([]Upgrade, error) {
	cat, err := m.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return m.listUpgrades(ctx, cat)
}

func (m *Manager) listUpgrades(ctx context.Context, cat *catalog) ([]Upgrade, error) {
	installed, err := m.db.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}

	var ups []Upgrade
	for _, inst := range installed {
		latest, ok := cat.latest(inst.Package.Name)
		if !ok || core.CompareVersions(latest.Version, inst.Package.Version) <= 0 {
			continue
		}
		ups = append(ups, Upgrade{
			Name:       inst.Package.Name,
			OldVersion: inst.Package.Version,
			NewVersion: latest.Version,
			Reason:     inst.InstallReason,
			Package:    latest,
		})
	}
	sort.Slice(ups, func(i, j int) bool { return ups[i].Name < ups[j].Name })
	return ups, nil
}

// Update syncs the repositories and upgrades every outdated package. A failed
// sync of some repositories does not stop the upgrades; all failures are
// returned together. It returns the upgrades that were applied.
func (m *Manager) Update(ctx context.Context) ([]Upgrade, error) {
	var done []Upgrade
	err := m.withLock(func() error {
		syncErr := m.sync(ctx)
		if syncErr != nil {
			if ctx.Err() != nil {
				return syncErr
			}
			m.log.Warn().Err(syncErr).Msg("sync incomplete, upgrading from stored indices")
		}

		cat, err := m.loadCatalog(ctx)
		if err != nil {
			return errors.Join(syncErr, err)
		}
		ups, err := m.listUpgrades(ctx, cat)
		if err != nil {
			return errors.Join(syncErr, err)
		}
		if len(ups) == 0 {
			m.log.Info().Msg("all packages are up to date")
			return syncErr
		}

		errs := []error{syncErr}
		for _, up := range orderUpgrades(ups) {
			if err := ctx.Err(); err != nil {
				errs = append(errs, err)
				break
			}
			if err := m.upgrade(ctx, cat, up); err != nil {
				errs = append(errs, err)
				continue
			}
			done = append(done, up)
		}
		return errors.Join(errs...)
	})
	return done, err
}

// orderUpgrades puts each pending upgrade after the pending upgrades its new
// version depends on, by name or through a provided capability, so a raised
// requirement is met by the time the dependent resolves. Ties keep name
// order and dependency cycles are broken at the first revisit.
func orderUpgrades(ups []Upgrade) []Upgrade {
	pending := make(map[string]int, len(ups))
	for i, up := range ups {
		pending[up.Name] = i
		for _, capability := range up.Package.Provides {
			if _, ok := pending[capability]; !ok {
				pending[capability] = i
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(ups))
	ordered := make([]Upgrade, 0, len(ups))

	var visit func(i int)
	visit = func(i int) {
		if state[i] != unvisited {
			return
		}
		state[i] = visiting
		for _, d := range ups[i].Package.Dependencies {
			if j, ok := pending[d.Name]; ok && j != i {
				visit(j)
			}
		}
		state[i] = done
		ordered = append(ordered, ups[i])
	}
	for i := range ups {
		visit(i)
	}
	return ordered
}

// Upgrade replaces one installed package with its newest catalog version.
// It returns nil when the package is already up to date.
func (m *Manager) Upgrade(ctx context.Context, name string) (*Upgrade, error) {
	var result *Upgrade
	err := m.withLock(func() error {
		if _, err := m.db.GetInstalledPackage(ctx, name); err != nil {
			return err
		}
		cat, err := m.loadCatalog(ctx)
		if err != nil {
			return err
		}
		ups, err := m.listUpgrades(ctx, cat)
		if err != nil {
			return err
		}
		for _, up := range ups {
			if up.Name == name {
				if err := m.upgrade(ctx, cat, up); err != nil {
					return err
				}
				result = &up
				return nil
			}
		}
		return nil
	})
	return result, err
}

// upgrade downloads and verifies the new version and any new dependencies,
// installs those dependencies, then swaps the package: configuration files
// under etc/ are backed up, the old version is removed, the new one is
// installed with the old reason and the configuration is reconciled.
func (m *Manager) upgrade(ctx context.Context, cat *catalog, up Upgrade) error {
	old, err := m.db.GetInstalledPackage(ctx, up.Name)
	if err != nil {
		return err
	}

	plan, err := m.resolve(ctx, cat, up.Package)
	if err != nil {
		return err
	}
	if err := m.checkConflicts(ctx, plan[:len(plan)-1]); err != nil {
		return err
	}
	artifacts, err := m.fetchAll(ctx, cat, plan)
	if err != nil {
		return err
	}
	if err := m.verifyAll(cat, plan, artifacts); err != nil {
		return err
	}

	for _, dep := range plan[:len(plan)-1] {
		if err := m.installOne(ctx, dep, artifacts[dep.ID()], core.ReasonDependency, core.InstallOptions{}); err != nil {
			return err
		}
	}

	pkg := plan[len(plan)-1]
	m.log.Info().
		Str("package", up.Name).
		Str("from", up.OldVersion).
		Str("to", up.NewVersion).
		Msg("upgrading package")

	txID, err := m.db.BeginTransaction(ctx, core.TxUpgrade, up.Name, up.OldVersion, up.NewVersion)
	if err != nil {
		return err
	}
	defer m.failOnPanic(ctx, txID)
	fail := func(err error) error {
		m.failTx(ctx, txID, err)
		return err
	}

	backups, err := m.backupConfigs(old)
	if err != nil {
		return fail(err)
	}

	// dependents are not consulted: the name survives the upgrade
	if err := m.deleteFiles(old); err != nil {
		m.restoreConfigs(backups)
		return fail(core.NewError(core.ErrIO, "upgrade", up.Name, err))
	}
	if err := m.db.MarkRemoved(ctx, up.Name); err != nil {
		m.restoreConfigs(backups)
		return fail(err)
	}

	if _, err := m.applyPackage(ctx, pkg, artifacts[pkg.ID()], old.InstallReason, core.InstallOptions{}); err != nil {
		m.restoreConfigs(backups)
		return fail(err)
	}

	m.reconcileConfigs(backups)
	m.completeTx(ctx, txID)
	return nil
}

// configBackup is a copy of a configuration file taken before an upgrade
type configBackup struct {
	rel string
}

// backupConfigs copies every regular file of pkg under etc/ to its backup path
func (m *Manager) backupConfigs(pkg *core.InstalledPackage) ([]configBackup, error) {
	var backups []configBackup
	for _, f := range pkg.Files {
		if f.IsDir || !paths.IsConfig(f.Path) {
			continue
		}
		target := m.paths.Target(f.Path)
		if !fsops.IsRegular(m.fs, target) {
			continue
		}
		if err := fsops.CopyFile(m.fs, target, m.paths.BackupPath(f.Path)); err != nil {
			m.discardBackups(backups)
			return nil, core.NewError(core.ErrIO, "back up config", f.Path, err)
		}
		backups = append(backups, configBackup{rel: f.Path})
	}
	return backups, nil
}

// restoreConfigs puts the backed up files back after a failed upgrade
func (m *Manager) restoreConfigs(backups []configBackup) {
	for _, b := range backups {
		if err := fsops.Move(m.fs, m.paths.BackupPath(b.rel), m.paths.Target(b.rel)); err != nil {
			m.log.Warn().Err(err).Str("path", b.rel).Msg("failed to restore config backup")
		}
	}
}

func (m *Manager) discardBackups(backups []configBackup) {
	for _, b := range backups {
		_ = m.fs.Remove(m.paths.BackupPath(b.rel))
	}
}

// reconcileConfigs decides, per backed up file, which copy stays in place.
// When the new packaged version matches the backup the backup is dropped.
// Otherwise the backup goes back to the original path and the packaged
// version is left beside it with the .hecate-new suffix.
func (m *Manager) reconcileConfigs(backups []configBackup) {
	for _, b := range backups {
		target := m.paths.Target(b.rel)
		backup := m.paths.BackupPath(b.rel)
		log := m.log.With().Str("path", b.rel).Logger()

		if !fsops.Exists(m.fs, target) {
			log.Info().Str("backup", backup).Msg("config no longer shipped, keeping backup")
			continue
		}

		same, err := fsops.SameContent(m.fs, target, backup)
		if err != nil {
			log.Warn().Err(err).Msg("failed to compare config")
			continue
		}
		if same {
			_ = m.fs.Remove(backup)
			continue
		}

		newPath := m.paths.NewConfigPath(b.rel)
		if err := fsops.Move(m.fs, target, newPath); err != nil {
			log.Warn().Err(err).Msg("failed to set aside new config")
			continue
		}
		if err := fsops.Move(m.fs, backup, target); err != nil {
			log.Warn().Err(err).Msg("failed to restore modified config")
			continue
		}
		log.Warn().Str("new", newPath).Msg("kept existing config, new version saved beside it")
	}
}
