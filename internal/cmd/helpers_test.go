package cmd

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/quantmind-br/hpkg/internal/fsops"
	"github.com/quantmind-br/hpkg/internal/repo"
	"github.com/quantmind-br/hpkg/internal/ui"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type pkgSpec struct {
	name    string
	version string
	deps    []string
	files   map[string]string
}

// cliEnv runs the root command against a throwaway install root and
// captures everything it prints
type cliEnv struct {
	t      *testing.T
	dir    string
	root   string
	cfg    *config.Config
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.RootDir = filepath.Join(dir, "root")
	cfg.Install.VerifySignatures = false
	cfg.Install.AutoRemoveOrphans = false
	cfg.Install.ParallelDownloads = 2

	e := &cliEnv{
		t:      t,
		dir:    dir,
		root:   cfg.Paths.RootDir,
		cfg:    cfg,
		out:    &bytes.Buffer{},
		errOut: &bytes.Buffer{},
	}

	oldOut, oldErr := ui.Out, ui.ErrOut
	ui.Out, ui.ErrOut = e.out, e.errOut
	t.Cleanup(func() { ui.Out, ui.ErrOut = oldOut, oldErr })

	return e
}

// run executes hpkg with args and returns the command error
func (e *cliEnv) run(args ...string) error {
	e.t.Helper()
	e.out.Reset()
	e.errOut.Reset()

	log := zerolog.Nop()
	root := NewRootCmd(e.cfg, &log, "1.2.3")
	root.SetArgs(append([]string{"--root", e.root, "--no-color"}, args...))
	root.SetOut(e.out)
	root.SetErr(e.errOut)
	root.SetIn(strings.NewReader(""))
	return root.ExecuteContext(context.Background())
}

func (e *cliEnv) output() string {
	return e.out.String() + e.errOut.String()
}

// publish writes a repository with the given packages and registers it in
// the repos_dir so the next sync picks it up
func (e *cliEnv) publish(name string, priority int, pkgs ...pkgSpec) {
	e.t.Helper()

	dir := filepath.Join(e.dir, "repos", name)
	require.NoError(e.t, os.MkdirAll(filepath.Join(dir, "packages"), 0755))

	idx := &core.RepositoryIndex{
		Repository: core.Repository{Name: name, URL: "file://" + dir, Enabled: true, Priority: priority},
		Packages:   make(map[string][]core.Package),
		Groups:     make(map[string][]string),
	}

	for _, spec := range pkgs {
		p := core.Package{
			Name:         spec.name,
			Version:      spec.version,
			Description:  spec.name + " utility",
			License:      "MIT",
			Repository:   name,
			Architecture: core.ArchAll,
		}
		for _, d := range spec.deps {
			p.Dependencies = append(p.Dependencies, core.Dependency{Name: d, VersionReq: "*"})
		}

		data := tarZst(e.t, spec.files)
		require.NoError(e.t, os.WriteFile(filepath.Join(dir, "packages", p.ArtifactName()), data, 0644))

		d, err := fsops.HashReader(bytes.NewReader(data))
		require.NoError(e.t, err)
		p.Checksum = core.Checksum{SHA256: d.SHA256, BLAKE3: d.BLAKE3}
		p.SizeBytes = int64(len(data))

		idx.Packages[p.Name] = append(idx.Packages[p.Name], p)
	}
	idx.BuildProvidesIndex()

	raw, err := json.Marshal(idx)
	require.NoError(e.t, err)
	enc, err := zstd.NewWriter(nil)
	require.NoError(e.t, err)
	defer enc.Close()
	require.NoError(e.t, os.WriteFile(filepath.Join(dir, repo.IndexFile), enc.EncodeAll(raw, nil), 0644))

	reposDir := e.cfg.ReposDir()
	require.NoError(e.t, os.MkdirAll(reposDir, 0755))
	def := fmt.Sprintf("name = %q\nurl = %q\npriority = %d\n", name, "file://"+dir, priority)
	require.NoError(e.t, os.WriteFile(filepath.Join(reposDir, name+repo.Extension), []byte(def), 0644))
}

func (e *cliEnv) path(rel string) string {
	return filepath.Join(e.root, rel)
}

func tarZst(t *testing.T, files map[string]string) []byte {
	t.Helper()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, p := range paths {
		body := files[p]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: p, Mode: 0755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil)
}

func binary(name string) map[string]string {
	return map[string]string{"usr/bin/" + name: "#!/bin/sh\necho " + name + "\n"}
}

// stack publishes app depending on libc in repository core
func (e *cliEnv) stack(appVersion string) {
	e.t.Helper()
	e.publish("core", 10,
		pkgSpec{name: "libc", version: "2.39.0", files: map[string]string{"usr/lib/libc.so": "libc"}},
		pkgSpec{name: "app", version: appVersion, deps: []string{"libc"}, files: binary("app")},
	)
}
