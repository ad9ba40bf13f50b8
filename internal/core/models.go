package core

import (
	"fmt"
	"sort"
	"time"
)

// Architecture is the CPU architecture a package is built for
type Architecture string

const (
	ArchX86_64  Architecture = "x86_64"
	ArchAarch64 Architecture = "aarch64"
	ArchRiscv64 Architecture = "riscv64"
	ArchAll     Architecture = "all"
)

// ParseArchitecture maps a stored architecture string back to an Architecture.
// Unknown values are treated as architecture-independent.
func ParseArchitecture(s string) Architecture {
	switch Architecture(s) {
	case ArchX86_64, ArchAarch64, ArchRiscv64:
		return Architecture(s)
	default:
		return ArchAll
	}
}

// InstallReason records why a package is on the system
type InstallReason string

const (
	ReasonExplicit   InstallReason = "explicit"
	ReasonDependency InstallReason = "dependency"
	ReasonGroup      InstallReason = "group"
)

// ParseInstallReason maps a stored reason string back to an InstallReason
func ParseInstallReason(s string) InstallReason {
	switch InstallReason(s) {
	case ReasonDependency, ReasonGroup:
		return InstallReason(s)
	default:
		return ReasonExplicit
	}
}

// Checksum is the digest pair every artifact is verified against
type Checksum struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Dependency is one entry of a package's dependency list
type Dependency struct {
	Name       string `json:"name"`
	VersionReq string `json:"version_req"`
	Optional   bool   `json:"optional,omitempty"`
	BuildOnly  bool   `json:"build_only,omitempty"`
}

// Required reports whether the dependency must be present at runtime
func (d Dependency) Required() bool {
	return !d.Optional && !d.BuildOnly
}

// Package is a catalog entry parsed from a repository index
type Package struct {
	Name               string       `json:"name"`
	Version            string       `json:"version"`
	Description        string       `json:"description"`
	Author             string       `json:"author"`
	License            string       `json:"license"`
	Homepage           string       `json:"homepage,omitempty"`
	Repository         string       `json:"repository,omitempty"`
	Dependencies       []Dependency `json:"dependencies,omitempty"`
	Conflicts          []string     `json:"conflicts,omitempty"`
	Provides           []string     `json:"provides,omitempty"`
	Replaces           []string     `json:"replaces,omitempty"`
	Categories         []string     `json:"categories,omitempty"`
	Keywords           []string     `json:"keywords,omitempty"`
	Architecture       Architecture `json:"architecture"`
	SizeBytes          int64        `json:"size_bytes"`
	InstalledSizeBytes int64        `json:"installed_size_bytes"`
	Checksum           Checksum     `json:"checksum"`
	Signature          string       `json:"signature,omitempty"`
	BuildDate          time.Time    `json:"build_date"`
}

// ID returns the name-version identity used for artifact file names
func (p Package) ID() string {
	return p.Name + "-" + p.Version
}

// ArtifactName is the file name of the package archive, both remote and in the cache
func (p Package) ArtifactName() string {
	return fmt.Sprintf("%s-%s.pkg.tar.zst", p.Name, p.Version)
}

// InstalledFile is a path written while installing a package, relative to the install root
type InstalledFile struct {
	Path        string `json:"path"`
	Checksum    string `json:"checksum,omitempty"`
	Size        int64  `json:"size"`
	Permissions uint32 `json:"permissions"`
	IsDir       bool   `json:"is_dir,omitempty"`
}

// InstalledPackage is the ledger entry created when an install commits
type InstalledPackage struct {
	Package       Package         `json:"package"`
	InstallDate   time.Time       `json:"install_date"`
	InstallPath   string          `json:"install_path"`
	Files         []InstalledFile `json:"files"`
	InstallReason InstallReason   `json:"install_reason"`
}

// Repository describes a package source
type Repository struct {
	Name       string     `json:"name" mapstructure:"name"`
	URL        string     `json:"url" mapstructure:"url"`
	MirrorURLs []string   `json:"mirror_urls,omitempty" mapstructure:"mirror_urls"`
	Enabled    bool       `json:"enabled" mapstructure:"enabled"`
	Priority   int        `json:"priority" mapstructure:"priority"`
	GPGCheck   bool       `json:"gpg_check" mapstructure:"gpg_check"`
	GPGKey     string     `json:"gpg_key,omitempty" mapstructure:"gpg_key"`
	LastUpdate *time.Time `json:"last_update,omitempty" mapstructure:"-"`
}

// SortRepositories orders repositories by priority, lowest first.
// Equal priorities are ordered by name so the ordering is total.
func SortRepositories(repos []Repository) {
	sort.SliceStable(repos, func(i, j int) bool {
		if repos[i].Priority != repos[j].Priority {
			return repos[i].Priority < repos[j].Priority
		}
		return repos[i].Name < repos[j].Name
	})
}

// RepositoryIndex is the decoded content of a repository's index.json.zst
type RepositoryIndex struct {
	Repository Repository           `json:"repository"`
	Packages   map[string][]Package `json:"packages"`
	Groups     map[string][]string  `json:"groups"`
	Provides   map[string][]string  `json:"provides_index"`
}

// BuildProvidesIndex rebuilds the capability -> providers reverse index
func (idx *RepositoryIndex) BuildProvidesIndex() {
	provides := make(map[string][]string)
	names := make([]string, 0, len(idx.Packages))
	for name := range idx.Packages {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		seen := make(map[string]bool)
		for _, pkg := range idx.Packages[name] {
			for _, capability := range pkg.Provides {
				if seen[capability] {
					continue
				}
				seen[capability] = true
				provides[capability] = append(provides[capability], name)
			}
		}
	}
	idx.Provides = provides
}

// SortIndices orders indices by their repository's priority
func SortIndices(indices []RepositoryIndex) {
	sort.SliceStable(indices, func(i, j int) bool {
		a, b := indices[i].Repository, indices[j].Repository
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Name < b.Name
	})
}

// TransactionType is the kind of operation recorded in the audit log
type TransactionType string

const (
	TxInstall TransactionType = "install"
	TxRemove  TransactionType = "remove"
	TxUpgrade TransactionType = "upgrade"
)

// TransactionStatus is the lifecycle state of an audit record
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// TransactionRecord is one row of the append-only audit log
type TransactionRecord struct {
	ID          int64             `json:"id"`
	Type        TransactionType   `json:"type"`
	PackageName string            `json:"package_name"`
	OldVersion  string            `json:"old_version,omitempty"`
	NewVersion  string            `json:"new_version,omitempty"`
	Status      TransactionStatus `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// DatabaseStats summarizes the ledger
type DatabaseStats struct {
	Installed    int64 `json:"installed"`
	Explicit     int64 `json:"explicit"`
	Dependency   int64 `json:"dependency"`
	Orphaned     int64 `json:"orphaned"`
	Available    int64 `json:"available"`
	Repositories int64 `json:"repositories"`
	TotalSize    int64 `json:"total_size"`
}

// CacheStats summarizes the artifact cache
type CacheStats struct {
	TotalSize    int64  `json:"total_size"`
	PackageCount int    `json:"package_count"`
	DeltaCount   int    `json:"delta_count"`
	CacheDir     string `json:"cache_dir"`
}

// Exit codes used by the command line front-end
const (
	ExitSuccess         = 0
	ExitGeneral         = 1
	ExitInvalidArgs     = 2
	ExitInstallFailed   = 3
	ExitUninstallFailed = 4
	ExitDatabase        = 5
	ExitPermission      = 6
	ExitNetwork         = 7
	ExitLocked          = 8
	ExitInterrupted     = 130
)
