package paths

import (
	"path/filepath"
	"strings"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/lock"
)

// Suffixes of the files written around configuration upgrades
const (
	BackupSuffix = ".hecate-backup"
	NewSuffix    = ".hecate-new"
)

// configDir holds the files treated as user configuration, relative to the root
const configDir = "etc"

// Resolver maps ledger paths, which are relative to the install root, onto
// the filesystem.
type Resolver struct {
	root string
}

// NewResolver creates a Resolver for the configured install root
func NewResolver(cfg *config.Config) *Resolver {
	return NewResolverWithRoot(cfg.RootDir())
}

// NewResolverWithRoot creates a Resolver with an explicit root (useful for tests)
func NewResolverWithRoot(root string) *Resolver {
	if root == "" {
		root = "/"
	}
	return &Resolver{root: filepath.Clean(root)}
}

// Root returns the install root
func (r *Resolver) Root() string {
	return r.root
}

// Target returns the absolute location of a root-relative path
func (r *Resolver) Target(rel string) string {
	return filepath.Join(r.root, rel)
}

// Rel converts an absolute path under the root to its ledger form. Paths
// outside the root are returned cleaned and unchanged.
func (r *Resolver) Rel(abs string) string {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.Clean(abs)
	}
	return rel
}

// IsConfig reports whether a root-relative path is a configuration file
func IsConfig(rel string) bool {
	rel = filepath.Clean(strings.TrimPrefix(rel, "/"))
	return strings.HasPrefix(rel, configDir+string(filepath.Separator))
}

// BackupPath returns where an upgrade keeps the user's copy of a config file
func (r *Resolver) BackupPath(rel string) string {
	return r.Target(rel) + BackupSuffix
}

// NewConfigPath returns where an upgrade leaves a changed packaged config file
func (r *Resolver) NewConfigPath(rel string) string {
	return r.Target(rel) + NewSuffix
}

// LockFile returns the advisory lock path
func (r *Resolver) LockFile() string {
	return lock.PathFor(r.root)
}
