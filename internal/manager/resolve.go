package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/quantmind-br/hpkg/internal/core"
)

// catalog is the priority-ordered view of every enabled repository index
type catalog struct {
	indices []core.RepositoryIndex
	repos   map[string]core.Repository
}

func (m *Manager) loadCatalog(ctx context.Context) (*catalog, error) {
	indices, err := m.db.GetRepositoryIndices(ctx)
	if err != nil {
		return nil, err
	}
	core.SortIndices(indices)

	repos := make(map[string]core.Repository, len(indices))
	for _, idx := range indices {
		repos[idx.Repository.Name] = idx.Repository
	}
	return &catalog{indices: indices, repos: repos}, nil
}

// find returns the candidate for name: the highest version matching req in
// the highest-priority repository that has one. When no package carries the
// name, the provides index is consulted and the requirement is not applied to
// the provider's version.
func (c *catalog) find(name, req string) (core.Package, error) {
	constraints, err := core.ParseRequirement(req)
	if err != nil {
		return core.Package{}, core.NewError(core.ErrInvalidRequirement, "resolve", name, err)
	}

	named := false
	for _, idx := range c.indices {
		candidates, ok := idx.Packages[name]
		if !ok {
			continue
		}
		named = true
		if best, ok := highest(candidates, constraints); ok {
			return withRepository(best, idx.Repository), nil
		}
	}
	if named {
		return core.Package{}, core.NewError(core.ErrDependencyNotFound, "resolve", name,
			fmt.Errorf("no version satisfies %q", req))
	}

	for _, idx := range c.indices {
		for _, provider := range idx.Provides[name] {
			if best, ok := highest(idx.Packages[provider], nil); ok {
				return withRepository(best, idx.Repository), nil
			}
		}
	}

	return core.Package{}, core.NewError(core.ErrDependencyNotFound, "resolve", name, nil)
}

// names returns every package name in the catalog, for suggestions
func (c *catalog) names() []string {
	seen := make(map[string]bool)
	var out []string
	for _, idx := range c.indices {
		for name := range idx.Packages {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// latest returns the newest version of name across all repositories
func (c *catalog) latest(name string) (core.Package, bool) {
	var (
		best  core.Package
		found bool
	)
	for _, idx := range c.indices {
		if p, ok := highest(idx.Packages[name], nil); ok {
			if !found || core.CompareVersions(p.Version, best.Version) > 0 {
				best, found = withRepository(p, idx.Repository), true
			}
		}
	}
	return best, found
}

// highest picks the greatest parsable version matching constraints (nil
// matches everything).
func highest(candidates []core.Package, constraints version.Constraints) (core.Package, bool) {
	var (
		best    core.Package
		bestVer *version.Version
	)
	for _, p := range candidates {
		v, err := core.ParseVersion(p.Version)
		if err != nil {
			continue
		}
		if constraints != nil && !constraints.Check(v) {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			best, bestVer = p, v
		}
	}
	return best, bestVer != nil
}

func withRepository(p core.Package, repo core.Repository) core.Package {
	if p.Repository == "" {
		p.Repository = repo.Name
	}
	return p
}

// ResolveDependencies returns the packages to install for target, every
// package after its dependencies and target last. Dependencies already
// installed at a satisfying version are skipped. Names are descended at
// most once, so cycles terminate.
func (m *Manager) ResolveDependencies(ctx context.Context, target core.Package) ([]core.Package, error) {
	cat, err := m.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, cat, target)
}

type frame struct {
	pkg  core.Package
	next int
}

func (m *Manager) resolve(ctx context.Context, cat *catalog, target core.Package) ([]core.Package, error) {
	visited := map[string]bool{target.Name: true}
	stack := []*frame{{pkg: target}}
	var order []core.Package

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		top := stack[len(stack)-1]
		descended := false

		for top.next < len(top.pkg.Dependencies) {
			dep := top.pkg.Dependencies[top.next]
			top.next++

			if !dep.Required() {
				continue
			}

			satisfied, err := m.installedSatisfies(ctx, dep)
			if err != nil {
				return nil, err
			}
			if satisfied {
				continue
			}

			candidate, err := cat.find(dep.Name, dep.VersionReq)
			if err != nil {
				return nil, err
			}
			if visited[candidate.Name] {
				continue
			}
			visited[candidate.Name] = true

			m.log.Debug().
				Str("package", top.pkg.Name).
				Str("dependency", candidate.Name).
				Str("version", candidate.Version).
				Msg("resolved dependency")

			stack = append(stack, &frame{pkg: candidate})
			descended = true
			break
		}

		if descended {
			continue
		}
		order = append(order, top.pkg)
		stack = stack[:len(stack)-1]
	}

	return order, nil
}

// installedSatisfies reports whether dep is already met on the system. An
// installed package at a version outside the requirement is a conflict, since
// only one version of a name can be installed: the catalog is not searched
// for a replacement, because installing one would swap out a version that
// other installed packages may still require. Upgrading the dependency first
// (Update orders pending upgrades that way) clears the conflict.
func (m *Manager) installedSatisfies(ctx context.Context, dep core.Dependency) (bool, error) {
	installed, err := m.db.GetInstalledPackage(ctx, dep.Name)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return false, err
	}

	if installed != nil {
		ok, err := core.Satisfies(dep.VersionReq, installed.Package.Version)
		if err != nil {
			return false, core.NewError(core.ErrInvalidRequirement, "resolve", dep.Name, err)
		}
		if !ok {
			return false, core.NewError(core.ErrDependencyConflict, "resolve", dep.Name,
				fmt.Errorf("installed version %s does not satisfy %q", installed.Package.Version, dep.VersionReq))
		}
		return true, nil
	}

	providers, err := m.db.GetProviders(ctx, dep.Name)
	if err != nil {
		return false, err
	}
	return len(providers) > 0, nil
}
