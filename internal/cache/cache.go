package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	artifactExt = ".zst"
	deltaDir    = "deltas"
)

// PackageCache maps packages to cached artifact paths and manages the space they use
type PackageCache struct {
	fs  afero.Fs
	dir string
	log *zerolog.Logger
	now func() time.Time
}

type entry struct {
	path    string
	modTime time.Time
	size    int64
	delta   bool
}

// New creates the cache directory (and its deltas subdirectory) if needed
func New(fs afero.Fs, dir string, log *zerolog.Logger) (*PackageCache, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory cannot be empty")
	}
	if err := fs.MkdirAll(filepath.Join(dir, deltaDir), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	return &PackageCache{fs: fs, dir: dir, log: log, now: time.Now}, nil
}

// Dir returns the cache root
func (c *PackageCache) Dir() string {
	return c.dir
}

// GetPackagePath returns <cache>/<name>-<version>.pkg.tar.zst
func (c *PackageCache) GetPackagePath(pkg core.Package) string {
	return filepath.Join(c.dir, pkg.ArtifactName())
}

// GetDeltaPath returns <cache>/deltas/<name>-<from>-to-<version>.delta.zst
func (c *PackageCache) GetDeltaPath(pkg core.Package, fromVersion string) string {
	name := fmt.Sprintf("%s-%s-to-%s.delta.zst", pkg.Name, fromVersion, pkg.Version)
	return filepath.Join(c.dir, deltaDir, name)
}

// Contains reports whether an artifact for pkg is present
func (c *PackageCache) Contains(pkg core.Package) bool {
	info, err := c.fs.Stat(c.GetPackagePath(pkg))
	return err == nil && !info.IsDir()
}

// Remove deletes one cached artifact. A missing file is not an error.
func (c *PackageCache) Remove(path string) error {
	if err := c.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return core.NewError(core.ErrIO, "remove cached", path, err)
	}
	return nil
}

// Clean keeps the keepCount most recently modified artifacts and deletes the rest.
// It returns the number of bytes freed.
func (c *PackageCache) Clean(keepCount int) (int64, error) {
	if keepCount < 0 {
		keepCount = 0
	}

	entries, err := c.entries()
	if err != nil {
		return 0, err
	}
	sortNewestFirst(entries)

	if len(entries) <= keepCount {
		return 0, nil
	}
	return c.removeEntries(entries[keepCount:])
}

// CleanOld deletes artifacts last modified more than days ago
func (c *PackageCache) CleanOld(days int) (int64, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	cutoff := c.now().Add(-time.Duration(days) * 24 * time.Hour)
	var old []entry
	for _, e := range entries {
		if e.modTime.Before(cutoff) {
			old = append(old, e)
		}
	}
	return c.removeEntries(old)
}

// PruneToSize deletes the oldest artifacts until total usage is at most maxSize.
// The newest artifact is never deleted, so usage can stay above maxSize when
// that single artifact is larger than the limit.
func (c *PackageCache) PruneToSize(maxSize int64) (int64, error) {
	entries, err := c.entries()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		total += e.size
	}
	if total <= maxSize {
		return 0, nil
	}

	sortNewestFirst(entries)

	var freed int64
	for i := len(entries) - 1; i > 0 && total-freed > maxSize; i-- {
		if err := c.Remove(entries[i].path); err != nil {
			return freed, err
		}
		c.log.Debug().Str("path", entries[i].path).Int64("size", entries[i].size).Msg("pruned cached artifact")
		freed += entries[i].size
	}
	return freed, nil
}

// VerifyIntegrity decodes every artifact's zstd stream and returns the paths that fail.
// Corrupt entries are left in place.
func (c *PackageCache) VerifyIntegrity() ([]string, error) {
	entries, err := c.entries()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })

	var corrupted []string
	for _, e := range entries {
		if err := c.checkStream(e); err != nil {
			c.log.Warn().Err(err).Str("path", e.path).Msg("corrupt cached artifact")
			corrupted = append(corrupted, e.path)
		}
	}
	return corrupted, nil
}

// GetStats reports total size and artifact counts
func (c *PackageCache) GetStats() (core.CacheStats, error) {
	stats := core.CacheStats{CacheDir: c.dir}

	entries, err := c.entries()
	if err != nil {
		return stats, err
	}
	for _, e := range entries {
		stats.TotalSize += e.size
		if e.delta {
			stats.DeltaCount++
		} else {
			stats.PackageCount++
		}
	}
	return stats, nil
}

func (c *PackageCache) checkStream(e entry) error {
	if e.size == 0 {
		return fmt.Errorf("empty artifact")
	}

	f, err := c.fs.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	_, err = io.Copy(io.Discard, dec)
	return err
}

func (c *PackageCache) removeEntries(entries []entry) (int64, error) {
	var freed int64
	for _, e := range entries {
		if err := c.Remove(e.path); err != nil {
			return freed, err
		}
		c.log.Debug().Str("path", e.path).Int64("size", e.size).Msg("removed cached artifact")
		freed += e.size
	}
	return freed, nil
}

// entries lists the artifacts in the cache root and in deltas/
func (c *PackageCache) entries() ([]entry, error) {
	var out []entry
	for _, sub := range []string{"", deltaDir} {
		dir := filepath.Join(c.dir, sub)
		infos, err := afero.ReadDir(c.fs, dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, core.NewError(core.ErrIO, "read cache", dir, err)
		}
		for _, info := range infos {
			if info.IsDir() || !strings.HasSuffix(info.Name(), artifactExt) {
				continue
			}
			out = append(out, entry{
				path:    filepath.Join(dir, info.Name()),
				modTime: info.ModTime(),
				size:    info.Size(),
				delta:   sub == deltaDir || strings.Contains(info.Name(), ".delta."),
			})
		}
	}
	return out, nil
}

func sortNewestFirst(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].modTime.Equal(entries[j].modTime) {
			return entries[i].modTime.After(entries[j].modTime)
		}
		return entries[i].path < entries[j].path
	})
}
