package manager

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/fsops"
)

// Search returns the catalog packages matching query, scanning the
// repositories in priority order. A package whose name contains query
// matches with all of its versions; otherwise a version matches when its
// description contains query case-insensitively or one of its keywords
// contains it. The same package offered by several repositories is listed
// once per repository.
func (m *Manager) Search(ctx context.Context, query string) ([]core.Package, error) {
	cat, err := m.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	var results []core.Package
	for _, idx := range cat.indices {
		names := make([]string, 0, len(idx.Packages))
		for name := range idx.Packages {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			nameMatch := strings.Contains(name, query)
			for _, p := range idx.Packages[name] {
				if nameMatch || matchesText(p, query, lower) {
					results = append(results, withRepository(p, idx.Repository))
				}
			}
		}
	}
	return results, nil
}

func matchesText(p core.Package, query, lower string) bool {
	if strings.Contains(strings.ToLower(p.Description), lower) {
		return true
	}
	for _, kw := range p.Keywords {
		if strings.Contains(kw, query) {
			return true
		}
	}
	return false
}

// Info returns the installed entry for name, or the newest catalog version
// when it is not installed. installed reports which one it is.
func (m *Manager) Info(ctx context.Context, name string) (pkg core.Package, installed *core.InstalledPackage, err error) {
	inst, err := m.db.GetInstalledPackage(ctx, name)
	if err == nil {
		return inst.Package, inst, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Package{}, nil, err
	}

	cat, err := m.loadCatalog(ctx)
	if err != nil {
		return core.Package{}, nil, err
	}
	latest, ok := cat.latest(name)
	if !ok {
		return core.Package{}, nil, core.NotFound("info", name)
	}
	return latest, nil, nil
}

// ListInstalled returns the ledger, ordered by name
func (m *Manager) ListInstalled(ctx context.Context) ([]core.InstalledPackage, error) {
	return m.db.ListInstalled(ctx)
}

// Suggestions returns the catalog and installed names, for "did you mean"
// hints after a lookup fails
func (m *Manager) Suggestions(ctx context.Context) ([]string, error) {
	cat, err := m.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	names := cat.names()

	installed, err := m.db.ListInstalled(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, p := range installed {
		if !seen[p.Package.Name] {
			names = append(names, p.Package.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Groups returns every group offered by the enabled repositories
func (m *Manager) Groups(ctx context.Context) ([]string, error) {
	return m.db.GetGroups(ctx)
}

// VerifyReport lists the recorded files of a package that changed on disk
type VerifyReport struct {
	Name     string
	Checked  int
	Modified []string
	Missing  []string
}

// OK reports whether every recorded file is intact
func (r VerifyReport) OK() bool {
	return len(r.Modified) == 0 && len(r.Missing) == 0
}

// VerifyInstalled re-hashes the recorded files of an installed package.
// Directories and files recorded without a checksum are only checked for
// presence.
func (m *Manager) VerifyInstalled(ctx context.Context, name string) (*VerifyReport, error) {
	pkg, err := m.db.GetInstalledPackage(ctx, name)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Name: name}
	for _, f := range pkg.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target := m.paths.Target(f.Path)
		report.Checked++

		if _, err := m.fs.Stat(target); err != nil {
			report.Missing = append(report.Missing, f.Path)
			continue
		}
		if f.IsDir || f.Checksum == "" {
			continue
		}

		sum, err := fsops.SHA256File(m.fs, target)
		if err != nil {
			return nil, core.NewError(core.ErrIO, "verify", f.Path, err)
		}
		if !strings.EqualFold(sum, f.Checksum) {
			report.Modified = append(report.Modified, f.Path)
		}
	}

	if !report.OK() {
		m.log.Warn().
			Str("package", name).
			Int("modified", len(report.Modified)).
			Int("missing", len(report.Missing)).
			Msg("installed files differ from the ledger")
	}
	return report, nil
}

// CleanOptions select what CleanCache removes. Zero values fall back to the
// configured keep_cache and max_cache_size.
type CleanOptions struct {
	Keep      int
	OlderThan int
	MaxSize   int64
	All       bool
}

// CleanCache trims the artifact cache and returns the bytes freed
func (m *Manager) CleanCache(opts CleanOptions) (int64, error) {
	if opts.All {
		return m.cache.Clean(0)
	}

	var freed int64
	if opts.OlderThan > 0 {
		n, err := m.cache.CleanOld(opts.OlderThan)
		freed += n
		if err != nil {
			return freed, err
		}
	}

	keep := opts.Keep
	if keep <= 0 {
		keep = m.cfg.Install.KeepCache
	}
	if keep > 0 {
		n, err := m.cache.Clean(keep)
		freed += n
		if err != nil {
			return freed, err
		}
	}

	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = m.cfg.Install.MaxCacheSize
	}
	if maxSize > 0 {
		n, err := m.cache.PruneToSize(maxSize)
		freed += n
		if err != nil {
			return freed, err
		}
	}

	m.log.Info().Int64("freed", freed).Str("cache_dir", m.cache.Dir()).Msg("cache cleaned")
	return freed, nil
}

// Stats summarizes the ledger and the artifact cache
type Stats struct {
	Database core.DatabaseStats
	Cache    core.CacheStats
}

// Stats returns ledger and cache statistics
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	dbStats, err := m.db.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	cacheStats, err := m.cache.GetStats()
	if err != nil {
		return nil, err
	}
	return &Stats{Database: *dbStats, Cache: cacheStats}, nil
}

// History returns the most recent audit records, newest first
func (m *Manager) History(ctx context.Context, limit int) ([]core.TransactionRecord, error) {
	return m.db.ListTransactions(ctx, limit)
}

// CheckCache reports the cached artifacts that fail to decompress
func (m *Manager) CheckCache() ([]string, error) {
	return m.cache.VerifyIntegrity()
}
