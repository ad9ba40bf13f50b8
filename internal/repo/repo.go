package repo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/security"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const (
	// Extension of repository definition files
	Extension = ".repo"
	// IndexFile is the index name under a repository URL
	IndexFile = "index.json.zst"

	defaultPriority = 100
)

// indexDecoder is shared; DecodeAll is safe for concurrent use
var indexDecoder, _ = zstd.NewReader(nil)

// LoadDir reads every *.repo definition in dir, sorted by priority then name.
// A missing directory yields no repositories.
func LoadDir(fs afero.Fs, dir string) ([]core.Repository, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("stat repos dir: %w", err)
	}
	if !exists {
		return nil, nil
	}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read repos dir: %w", err)
	}

	seen := make(map[string]string)
	var repos []core.Repository
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != Extension {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		r, err := Load(fs, path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("repository %q defined in both %s and %s", r.Name, prev, path)
		}
		seen[r.Name] = path
		repos = append(repos, r)
	}

	core.SortRepositories(repos)
	return repos, nil
}

// Load parses one TOML repository definition. The name defaults to the file
// name without its extension.
func Load(fs afero.Fs, path string) (core.Repository, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("name", strings.TrimSuffix(filepath.Base(path), Extension))
	v.SetDefault("enabled", true)
	v.SetDefault("priority", defaultPriority)
	v.SetDefault("gpg_check", false)
	v.SetDefault("mirror_urls", []string{})

	if err := v.ReadInConfig(); err != nil {
		return core.Repository{}, fmt.Errorf("read repository %s: %w", path, err)
	}

	var r core.Repository
	if err := v.Unmarshal(&r); err != nil {
		return core.Repository{}, fmt.Errorf("parse repository %s: %w", path, err)
	}

	r.URL = strings.TrimRight(r.URL, "/")
	if err := Validate(r); err != nil {
		return core.Repository{}, fmt.Errorf("repository %s: %w", path, err)
	}
	return r, nil
}

// Validate checks a repository definition
func Validate(r core.Repository) error {
	if err := security.ValidatePackageName(r.Name); err != nil {
		return fmt.Errorf("invalid name: %w", err)
	}
	if err := security.ValidateRepositoryURL(r.URL); err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	for _, m := range r.MirrorURLs {
		if err := security.ValidateRepositoryURL(m); err != nil {
			return fmt.Errorf("invalid mirror: %w", err)
		}
	}
	return nil
}

// IndexURL returns the location of a repository's index
func IndexURL(r core.Repository) string {
	return joinURL(r.URL, IndexFile)
}

// PackageURL returns the artifact location of pkg under a repository base URL
func PackageURL(base string, pkg core.Package) string {
	return joinURL(base, "packages", pkg.ArtifactName())
}

// MirrorPackageURLs returns the artifact location under each mirror, in order
func MirrorPackageURLs(r core.Repository, pkg core.Package) []string {
	urls := make([]string, 0, len(r.MirrorURLs))
	for _, m := range r.MirrorURLs {
		urls = append(urls, PackageURL(m, pkg))
	}
	return urls
}

func joinURL(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}

// DecodeIndex parses a zstd-compressed JSON repository index. Package names
// that disagree with their map key are rejected and the provides index is
// rebuilt when absent.
func DecodeIndex(data []byte) (*core.RepositoryIndex, error) {
	raw, err := indexDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress index: %w", err)
	}

	var idx core.RepositoryIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if idx.Packages == nil {
		idx.Packages = make(map[string][]core.Package)
	}

	names := make([]string, 0, len(idx.Packages))
	for name := range idx.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, p := range idx.Packages[name] {
			if p.Name != name {
				return nil, fmt.Errorf("index entry %q lists package %q", name, p.Name)
			}
			if err := security.ValidatePackageName(p.Name); err != nil {
				return nil, fmt.Errorf("index entry %q: %w", name, err)
			}
			if err := security.ValidateVersion(p.Version); err != nil {
				return nil, fmt.Errorf("index entry %q: %w", name, err)
			}
			for _, dep := range p.Dependencies {
				if _, err := core.ParseRequirement(dep.VersionReq); err != nil {
					return nil, fmt.Errorf("index entry %s-%s dependency %s: %w", name, p.Version, dep.Name, err)
				}
			}
		}
	}

	if idx.Provides == nil {
		idx.BuildProvidesIndex()
	}
	return &idx, nil
}
