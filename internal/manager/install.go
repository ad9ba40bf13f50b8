package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/quantmind-br/hpkg/internal/archive"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/download"
	"github.com/quantmind-br/hpkg/internal/fsops"
	"github.com/quantmind-br/hpkg/internal/repo"
	"github.com/quantmind-br/hpkg/internal/security"
	"github.com/quantmind-br/hpkg/internal/signing"
	"github.com/quantmind-br/hpkg/internal/transaction"
	"github.com/spf13/afero"
)

// SetProgress forwards download progress to p when the downloader supports it
func (m *Manager) SetProgress(p download.Progress) {
	if d, ok := m.downloader.(interface{ SetProgress(download.Progress) }); ok {
		d.SetProgress(p)
	}
}

// Plan returns the packages Install would apply for name, in order, without
// changing anything.
func (m *Manager) Plan(ctx context.Context, name string, opts core.InstallOptions) ([]core.Package, error) {
	cat, err := m.loadCatalog(ctx)
	if err != nil {
		return nil, err
	}
	target, err := m.lookupTarget(ctx, cat, name)
	if err != nil {
		return nil, err
	}
	if opts.NoDeps {
		return []core.Package{target}, nil
	}
	return m.resolve(ctx, cat, target)
}

// Install installs name and the dependencies it lacks. Every artifact is
// downloaded and verified before the install root is touched; packages are
// then applied in dependency order. A failure while applying package k
// leaves packages before k installed and k onwards absent. It returns the
// packages that were installed.
func (m *Manager) Install(ctx context.Context, name string, opts core.InstallOptions) ([]core.Package, error) {
	var installed []core.Package
	err := m.withLock(func() error {
		cat, err := m.loadCatalog(ctx)
		if err != nil {
			return err
		}
		target, err := m.lookupTarget(ctx, cat, name)
		if err != nil {
			return err
		}

		plan := []core.Package{target}
		if !opts.NoDeps {
			if plan, err = m.resolve(ctx, cat, target); err != nil {
				return err
			}
		}

		reason := opts.Reason
		if reason == "" {
			reason = core.ReasonExplicit
		}
		reasons := map[string]core.InstallReason{target.Name: reason}

		installed, err = m.installPlan(ctx, cat, plan, reasons, opts)
		return err
	})
	return installed, err
}

// InstallGroup installs every member of group that is not yet installed.
// Members are recorded with the group reason, their dependencies with the
// dependency reason.
func (m *Manager) InstallGroup(ctx context.Context, group string, opts core.InstallOptions) ([]core.Package, error) {
	var installed []core.Package
	err := m.withLock(func() error {
		members, err := m.db.GetGroupMembers(ctx, group)
		if err != nil {
			return err
		}
		cat, err := m.loadCatalog(ctx)
		if err != nil {
			return err
		}

		reasons := make(map[string]core.InstallReason)
		planned := make(map[string]bool)
		var plan []core.Package

		for _, member := range members {
			ok, err := m.db.IsInstalled(ctx, member)
			if err != nil {
				return err
			}
			if ok {
				m.log.Debug().Str("package", member).Str("group", group).Msg("group member already installed")
				continue
			}

			target, err := cat.find(member, "")
			if err != nil {
				return err
			}
			reasons[target.Name] = core.ReasonGroup

			sub := []core.Package{target}
			if !opts.NoDeps {
				if sub, err = m.resolve(ctx, cat, target); err != nil {
					return err
				}
			}
			for _, p := range sub {
				if !planned[p.Name] {
					planned[p.Name] = true
					plan = append(plan, p)
				}
			}
		}

		if len(plan) == 0 {
			return nil
		}
		installed, err = m.installPlan(ctx, cat, plan, reasons, opts)
		return err
	})
	return installed, err
}

// lookupTarget finds the package a user asked for by name
func (m *Manager) lookupTarget(ctx context.Context, cat *catalog, name string) (core.Package, error) {
	if err := security.ValidatePackageName(name); err != nil {
		return core.Package{}, core.NewError(core.ErrNotFound, "install", name, err)
	}
	if err := m.ensureAbsent(ctx, name); err != nil {
		return core.Package{}, err
	}

	target, err := cat.find(name, "")
	if errors.Is(err, core.ErrDependencyNotFound) {
		return core.Package{}, core.NotFound("install", name)
	}
	if err != nil {
		return core.Package{}, err
	}

	// name may have been satisfied through provides
	if target.Name != name {
		if err := m.ensureAbsent(ctx, target.Name); err != nil {
			return core.Package{}, err
		}
	}
	return target, nil
}

func (m *Manager) ensureAbsent(ctx context.Context, name string) error {
	ok, err := m.db.IsInstalled(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return core.NewError(core.ErrAlreadyInstalled, "install", name, nil)
	}
	return nil
}

// installPlan fetches and verifies every package of plan, then applies them
// in order. Packages missing from reasons are dependencies.
func (m *Manager) installPlan(ctx context.Context, cat *catalog, plan []core.Package, reasons map[string]core.InstallReason, opts core.InstallOptions) ([]core.Package, error) {
	if err := m.checkConflicts(ctx, plan); err != nil {
		return nil, err
	}

	artifacts, err := m.fetchAll(ctx, cat, plan)
	if err != nil {
		return nil, err
	}
	if err := m.verifyAll(cat, plan, artifacts); err != nil {
		return nil, err
	}

	installed := make([]core.Package, 0, len(plan))
	for i, pkg := range plan {
		if err := ctx.Err(); err != nil {
			return installed, err
		}

		reason, ok := reasons[pkg.Name]
		if !ok {
			reason = core.ReasonDependency
		}

		m.log.Info().
			Str("package", pkg.Name).
			Str("version", pkg.Version).
			Str("reason", string(reason)).
			Int("step", i+1).
			Int("total", len(plan)).
			Msg("installing package")

		if err := m.installOne(ctx, pkg, artifacts[pkg.ID()], reason, opts); err != nil {
			return installed, err
		}
		installed = append(installed, pkg)
	}
	return installed, nil
}

// checkConflicts rejects a plan whose packages conflict with each other or
// with what is installed
func (m *Manager) checkConflicts(ctx context.Context, plan []core.Package) error {
	inPlan := make(map[string]bool, len(plan))
	for _, p := range plan {
		inPlan[p.Name] = true
	}

	for _, p := range plan {
		for _, other := range p.Conflicts {
			if other == p.Name {
				continue
			}
			if inPlan[other] {
				return core.NewError(core.ErrDependencyConflict, "install", p.Name,
					fmt.Errorf("conflicts with %s, which is also being installed", other))
			}
			ok, err := m.db.IsInstalled(ctx, other)
			if err != nil {
				return err
			}
			if ok {
				return core.NewError(core.ErrDependencyConflict, "install", p.Name,
					fmt.Errorf("conflicts with installed package %s", other))
			}
		}
	}
	return nil
}

// fetchAll returns the artifact path of every package, keyed by package id.
// Cached artifacts whose SHA-256 matches are reused; the rest are downloaded.
func (m *Manager) fetchAll(ctx context.Context, cat *catalog, plan []core.Package) (map[string]string, error) {
	artifacts := make(map[string]string, len(plan))
	var reqs []download.Request

	for _, pkg := range plan {
		dest := m.cache.GetPackagePath(pkg)

		if m.cache.Contains(pkg) {
			sum, err := fsops.SHA256File(m.fs, dest)
			if err == nil && digestMatches(pkg.Checksum.SHA256, sum) {
				m.log.Debug().Str("package", pkg.ID()).Msg("using cached artifact")
				artifacts[pkg.ID()] = dest
				continue
			}
			m.log.Warn().Str("package", pkg.ID()).Msg("cached artifact does not match, downloading again")
			if err := m.cache.Remove(dest); err != nil {
				return nil, err
			}
		}

		src, ok := cat.repos[pkg.Repository]
		if !ok {
			return nil, core.NewError(core.ErrNotFound, "fetch", pkg.ID(),
				fmt.Errorf("repository %q is not configured", pkg.Repository))
		}

		reqs = append(reqs, download.Request{
			ID:           pkg.ID(),
			URL:          repo.PackageURL(src.URL, pkg),
			Mirrors:      repo.MirrorPackageURLs(src, pkg),
			Dest:         dest,
			ExpectedSize: pkg.SizeBytes,
		})
	}

	if len(reqs) == 0 {
		return artifacts, nil
	}

	m.log.Info().Int("count", len(reqs)).Msg("downloading packages")

	var errs []error
	for _, res := range m.downloader.DownloadPackages(ctx, reqs) {
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		artifacts[res.Request.ID] = res.Path
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return artifacts, nil
}

func (m *Manager) verifyAll(cat *catalog, plan []core.Package, artifacts map[string]string) error {
	for _, pkg := range plan {
		if err := m.verifyArtifact(cat.repos[pkg.Repository], pkg, artifacts[pkg.ID()]); err != nil {
			return err
		}
	}
	return nil
}

// verifyArtifact checks both digests and, when required, the signature. An
// artifact failing its digests is dropped from the cache.
func (m *Manager) verifyArtifact(src core.Repository, pkg core.Package, path string) error {
	d, err := fsops.HashFile(m.fs, path)
	if err != nil {
		return core.NewError(core.ErrIO, "verify", pkg.ID(), err)
	}

	var mismatch error
	switch {
	case !digestMatches(pkg.Checksum.SHA256, d.SHA256):
		mismatch = fmt.Errorf("sha256: expected %q, got %q", pkg.Checksum.SHA256, d.SHA256)
	case !digestMatches(pkg.Checksum.BLAKE3, d.BLAKE3):
		mismatch = fmt.Errorf("blake3: expected %q, got %q", pkg.Checksum.BLAKE3, d.BLAKE3)
	}
	if mismatch != nil {
		if err := m.cache.Remove(path); err != nil {
			m.log.Warn().Err(err).Str("path", path).Msg("failed to drop mismatching artifact")
		}
		return core.NewError(core.ErrChecksumMismatch, "verify", pkg.ID(), mismatch)
	}

	if m.cfg.Install.VerifySignatures || src.GPGCheck {
		return m.verifySignature(src, pkg, path)
	}
	return nil
}

func (m *Manager) verifySignature(src core.Repository, pkg core.Package, path string) error {
	fail := func(err error) error {
		return core.NewError(core.ErrSignatureInvalid, "verify signature", pkg.ID(), err)
	}

	key := m.publicKey
	if src.GPGKey != "" {
		k, err := loadPublicKey(src.GPGKey)
		if err != nil {
			return fail(err)
		}
		key = k
	}
	if len(key) == 0 {
		return fail(errors.New("no public key configured"))
	}
	if pkg.Signature == "" {
		return fail(errors.New("package is not signed"))
	}

	sig, err := signing.DecodeSignature(pkg.Signature)
	if err != nil {
		return fail(err)
	}
	data, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return core.NewError(core.ErrIO, "verify signature", pkg.ID(), err)
	}
	if !m.verifier.Verify(data, sig, key) {
		return fail(nil)
	}
	return nil
}

func digestMatches(expected, actual string) bool {
	return expected != "" && strings.EqualFold(expected, actual)
}

// installOne applies one verified artifact inside an audit transaction
func (m *Manager) installOne(ctx context.Context, pkg core.Package, artifact string, reason core.InstallReason, opts core.InstallOptions) error {
	txID, err := m.db.BeginTransaction(ctx, core.TxInstall, pkg.Name, "", pkg.Version)
	if err != nil {
		return err
	}
	defer m.failOnPanic(ctx, txID)

	if _, err := m.applyPackage(ctx, pkg, artifact, reason, opts); err != nil {
		m.failTx(ctx, txID, err)
		return err
	}
	m.completeTx(ctx, txID)
	return nil
}

// applyPackage extracts an artifact under the root and records it. On
// failure every path written for this package is removed again.
func (m *Manager) applyPackage(ctx context.Context, pkg core.Package, artifact string, reason core.InstallReason, opts core.InstallOptions) (*core.InstalledPackage, error) {
	root := m.paths.Root()
	tm := transaction.NewManager(m.log)

	files, err := m.extractor.Extract(ctx, artifact, root, archive.Options{Overwrite: opts.Overwrite})
	tm.TrackFiles(m.fs, root, pkg.Name, files)
	if err != nil {
		return nil, m.rollback(tm, m.explainConflict(ctx, pkg, err))
	}

	record := &core.InstalledPackage{
		Package:       pkg,
		InstallDate:   time.Now().UTC(),
		InstallPath:   root,
		Files:         files,
		InstallReason: reason,
	}
	if err := m.db.RecordInstallation(ctx, record); err != nil {
		return nil, m.rollback(tm, err)
	}

	tm.Commit()
	m.log.Info().
		Str("package", pkg.Name).
		Str("version", pkg.Version).
		Int("files", len(files)).
		Msg("package installed")
	return record, nil
}

func (m *Manager) rollback(tm *transaction.Manager, cause error) error {
	if err := tm.Rollback(); err != nil {
		m.log.Error().Err(err).Msg("rollback incomplete")
		return errors.Join(cause, err)
	}
	return cause
}

// explainConflict names the owner of a file that blocked extraction
func (m *Manager) explainConflict(ctx context.Context, pkg core.Package, err error) error {
	if !errors.Is(err, os.ErrExist) {
		return err
	}
	path := core.NameOf(err)
	owner, ferr := m.db.FindOwner(ctx, path)
	if ferr != nil || owner == "" {
		return err
	}
	return core.NewError(core.ErrDependencyConflict, "install", pkg.Name,
		fmt.Errorf("file %s is already owned by %s", path, owner))
}

// failTx and completeTx close an audit record. They run even when ctx is
// cancelled so that no record stays pending.
func (m *Manager) failTx(ctx context.Context, id int64, cause error) {
	if err := m.db.FailTransaction(context.WithoutCancel(ctx), id, cause); err != nil {
		m.log.Warn().Err(err).Int64("transaction", id).Msg("failed to record transaction failure")
	}
}

// failOnPanic must be deferred right after BeginTransaction. A panic fails the
// record and is re-raised.
func (m *Manager) failOnPanic(ctx context.Context, id int64) {
	if p := recover(); p != nil {
		m.failTx(ctx, id, fmt.Errorf("panic: %v", p))
		panic(p)
	}
}

func (m *Manager) completeTx(ctx context.Context, id int64) {
	if err := m.db.CompleteTransaction(context.WithoutCancel(ctx), id); err != nil {
		m.log.Warn().Err(err).Int64("transaction", id).Msg("failed to record transaction completion")
	}
}
