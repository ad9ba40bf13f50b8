package manager

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/db"
	"github.com/quantmind-br/hpkg/internal/fsops"
	"github.com/quantmind-br/hpkg/internal/repo"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// testPkg describes a package to publish; files maps root-relative paths to
// their content
type testPkg struct {
	name        string
	version     string
	description string
	keywords    []string
	deps        []core.Dependency
	provides    []string
	conflicts   []string
	files       map[string]string
}

func dep(name, req string) core.Dependency {
	return core.Dependency{Name: name, VersionReq: req}
}

type testEnv struct {
	t       *testing.T
	ctx     context.Context
	dir     string
	root    string
	cfg     *config.Config
	db      *db.DB
	mgr     *Manager
	signKey ed25519.PrivateKey
}

func newTestEnv(t *testing.T, opts ...func(*testEnv)) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RootDir = filepath.Join(dir, "root")
	cfg.Install.VerifySignatures = false
	cfg.Install.ParallelDownloads = 2

	e := &testEnv{t: t, ctx: context.Background(), dir: dir, root: cfg.Paths.RootDir, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	e.open(Deps{})
	return e
}

// open (re)creates the manager, filling defaults from the environment
func (e *testEnv) open(d Deps) {
	e.t.Helper()

	if e.db == nil {
		database, err := db.New(e.ctx, e.cfg.DBFile())
		require.NoError(e.t, err)
		e.t.Cleanup(func() { database.Close() })
		e.db = database
	}

	logger := zerolog.Nop()
	d.Config = e.cfg
	d.DB = e.db
	if d.Fs == nil {
		d.Fs = afero.NewOsFs()
	}
	d.Log = &logger
	if e.signKey != nil && d.PublicKey == nil {
		d.PublicKey = e.signKey.Public().(ed25519.PublicKey)
	}

	m, err := NewWithDeps(d)
	require.NoError(e.t, err)
	e.mgr = m
}

// repoDir is where a test repository's index and artifacts live
func (e *testEnv) repoDir(name string) string {
	return filepath.Join(e.dir, "repos", name)
}

// buildRepo writes artifacts and index.json.zst for a repository and returns
// the index it wrote
func (e *testEnv) buildRepo(name string, priority int, pkgs ...testPkg) *core.RepositoryIndex {
	e.t.Helper()

	dir := e.repoDir(name)
	require.NoError(e.t, os.MkdirAll(filepath.Join(dir, "packages"), 0755))

	idx := &core.RepositoryIndex{
		Repository: core.Repository{
			Name:     name,
			URL:      "file://" + dir,
			Enabled:  true,
			Priority: priority,
		},
		Packages: make(map[string][]core.Package),
		Groups:   make(map[string][]string),
	}

	for _, tp := range pkgs {
		p := core.Package{
			Name:         tp.name,
			Version:      tp.version,
			Description:  tp.description,
			Author:       "hpkg team",
			License:      "MIT",
			Repository:   name,
			Dependencies: tp.deps,
			Conflicts:    tp.conflicts,
			Provides:     tp.provides,
			Keywords:     tp.keywords,
			Architecture: core.ArchAll,
			BuildDate:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		if p.Description == "" {
			p.Description = tp.name + " package"
		}

		data := buildArtifact(e.t, tp.files)
		require.NoError(e.t, os.WriteFile(filepath.Join(dir, "packages", p.ArtifactName()), data, 0644))

		d, err := fsops.HashReader(bytes.NewReader(data))
		require.NoError(e.t, err)
		p.Checksum = core.Checksum{SHA256: d.SHA256, BLAKE3: d.BLAKE3}
		p.SizeBytes = int64(len(data))
		p.InstalledSizeBytes = int64(len(data)) * 4
		if e.signKey != nil {
			p.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(e.signKey, data))
		}

		idx.Packages[p.Name] = append(idx.Packages[p.Name], p)
	}
	idx.BuildProvidesIndex()

	e.writeIndex(idx)
	return idx
}

func (e *testEnv) writeIndex(idx *core.RepositoryIndex) {
	e.t.Helper()

	raw, err := json.Marshal(idx)
	require.NoError(e.t, err)
	enc, err := zstd.NewWriter(nil)
	require.NoError(e.t, err)
	defer enc.Close()

	path := filepath.Join(e.repoDir(idx.Repository.Name), repo.IndexFile)
	require.NoError(e.t, os.WriteFile(path, enc.EncodeAll(raw, nil), 0644))
}

// store saves an index in the ledger as if it had been synced
func (e *testEnv) store(idx *core.RepositoryIndex) {
	e.t.Helper()
	require.NoError(e.t, e.db.UpdateRepositoryIndex(e.ctx, idx))
}

func (e *testEnv) publish(name string, priority int, pkgs ...testPkg) *core.RepositoryIndex {
	e.t.Helper()
	idx := e.buildRepo(name, priority, pkgs...)
	e.store(idx)
	return idx
}

// writeRepoFile writes a repository definition into repos_dir
func (e *testEnv) writeRepoFile(name, content string) {
	e.t.Helper()
	dir := e.cfg.ReposDir()
	require.NoError(e.t, os.MkdirAll(dir, 0755))
	require.NoError(e.t, os.WriteFile(filepath.Join(dir, name+repo.Extension), []byte(content), 0644))
}

func (e *testEnv) path(rel string) string {
	return filepath.Join(e.root, rel)
}

func (e *testEnv) readFile(rel string) string {
	e.t.Helper()
	data, err := os.ReadFile(e.path(rel))
	require.NoError(e.t, err)
	return string(data)
}

func (e *testEnv) writeFile(rel, content string) {
	e.t.Helper()
	require.NoError(e.t, os.MkdirAll(filepath.Dir(e.path(rel)), 0755))
	require.NoError(e.t, os.WriteFile(e.path(rel), []byte(content), 0644))
}

func (e *testEnv) exists(rel string) bool {
	_, err := os.Lstat(e.path(rel))
	return err == nil
}

func (e *testEnv) installed(name string) bool {
	e.t.Helper()
	ok, err := e.db.IsInstalled(e.ctx, name)
	require.NoError(e.t, err)
	return ok
}

func (e *testEnv) reason(name string) core.InstallReason {
	e.t.Helper()
	p, err := e.db.GetInstalledPackage(e.ctx, name)
	require.NoError(e.t, err)
	return p.InstallReason
}

// buildArtifact returns a zstd-compressed tar holding files
func buildArtifact(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, name := range names {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil)
}

func names(pkgs []core.Package) []string {
	out := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, p.Name)
	}
	return out
}

func bin(name string) map[string]string {
	return map[string]string{"usr/bin/" + name: "#!/bin/sh\necho " + name + "\n"}
}
