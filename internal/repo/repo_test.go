package repo

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeIndex(t *testing.T, idx any) []byte {
	t.Helper()
	raw, err := json.Marshal(idx)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	return enc.EncodeAll(raw, nil)
}

func TestLoadDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	dir := "/etc/hpkg/repos.d"

	require.NoError(t, afero.WriteFile(fs, dir+"/extra.repo", []byte(`
name = "extra"
url = "https://extra.example.org/"
priority = 20
`), 0644))
	require.NoError(t, afero.WriteFile(fs, dir+"/core.repo", []byte(`
url = "https://core.example.org"
priority = 10
gpg_check = true
mirror_urls = ["https://mirror1.example.org", "https://mirror2.example.org"]
`), 0644))
	require.NoError(t, afero.WriteFile(fs, dir+"/aaa.repo", []byte(`
url = "file:///srv/local-repo"
priority = 20
enabled = false
`), 0644))
	require.NoError(t, afero.WriteFile(fs, dir+"/README", []byte("ignored"), 0644))

	repos, err := LoadDir(fs, dir)
	require.NoError(t, err)
	require.Len(t, repos, 3)

	assert.Equal(t, "core", repos[0].Name, "name defaults to the file name")
	assert.True(t, repos[0].Enabled, "enabled by default")
	assert.True(t, repos[0].GPGCheck)
	assert.Equal(t, []string{"https://mirror1.example.org", "https://mirror2.example.org"}, repos[0].MirrorURLs)

	assert.Equal(t, "aaa", repos[1].Name, "equal priorities break ties by name")
	assert.False(t, repos[1].Enabled)

	assert.Equal(t, "extra", repos[2].Name)
	assert.Equal(t, "https://extra.example.org", repos[2].URL, "trailing slash trimmed")
}

func TestLoadDir_Missing(t *testing.T) {
	repos, err := LoadDir(afero.NewMemMapFs(), "/nowhere")
	require.NoError(t, err)
	assert.Empty(t, repos)
}

func TestLoadDir_Duplicate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/r/a.repo", []byte(`name = "same"
url = "https://a"`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/r/b.repo", []byte(`name = "same"
url = "https://b"`), 0644))

	_, err := LoadDir(fs, "/r")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "same")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad toml", "url = "},
		{"missing url", `priority = 1`},
		{"bad scheme", `url = "ftp://example.org"`},
		{"bad mirror", `url = "https://ok"
mirror_urls = ["gopher://x"]`},
		{"bad name", `name = "../evil"
url = "https://ok"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(fs, "/r/x.repo", []byte(tt.content), 0644))
			_, err := Load(fs, "/r/x.repo")
			assert.Error(t, err)
		})
	}
}

func TestURLs(t *testing.T) {
	r := core.Repository{
		Name:       "core",
		URL:        "https://core.example.org/",
		MirrorURLs: []string{"https://m1.example.org", "https://m2.example.org/"},
	}
	pkg := core.Package{Name: "foo", Version: "1.2.3"}

	assert.Equal(t, "https://core.example.org/index.json.zst", IndexURL(r))
	assert.Equal(t, "https://core.example.org/packages/foo-1.2.3.pkg.tar.zst", PackageURL(r.URL, pkg))
	assert.Equal(t, []string{
		"https://m1.example.org/packages/foo-1.2.3.pkg.tar.zst",
		"https://m2.example.org/packages/foo-1.2.3.pkg.tar.zst",
	}, MirrorPackageURLs(r, pkg))
}

func TestDecodeIndex(t *testing.T) {
	idx := core.RepositoryIndex{
		Repository: core.Repository{Name: "core", URL: "https://core"},
		Packages: map[string][]core.Package{
			"foo": {{Name: "foo", Version: "1.0.0", Provides: []string{"editor"},
				Dependencies: []core.Dependency{{Name: "bar", VersionReq: "^1.0"}}}},
			"bar": {{Name: "bar", Version: "1.1.0"}, {Name: "bar", Version: "1.2.0"}},
		},
		Groups: map[string][]string{"base": {"foo", "bar"}},
	}

	got, err := DecodeIndex(encodeIndex(t, idx))
	require.NoError(t, err)
	assert.Len(t, got.Packages["bar"], 2)
	assert.Equal(t, []string{"foo"}, got.Provides["editor"])
	assert.Equal(t, []string{"foo", "bar"}, got.Groups["base"])
}

func TestDecodeIndex_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{"not zstd", func(t *testing.T) []byte { return []byte("plain") }},
		{"not json", func(t *testing.T) []byte {
			enc, _ := zstd.NewWriter(nil)
			return enc.EncodeAll([]byte("{nope"), nil)
		}},
		{"name mismatch", func(t *testing.T) []byte {
			return encodeIndex(t, core.RepositoryIndex{Packages: map[string][]core.Package{
				"foo": {{Name: "bar", Version: "1.0.0"}},
			}})
		}},
		{"bad requirement", func(t *testing.T) []byte {
			return encodeIndex(t, core.RepositoryIndex{Packages: map[string][]core.Package{
				"foo": {{Name: "foo", Version: "1.0.0", Dependencies: []core.Dependency{{Name: "bar", VersionReq: ">>> nonsense"}}}},
			}})
		}},
		{"bad version", func(t *testing.T) []byte {
			return encodeIndex(t, core.RepositoryIndex{Packages: map[string][]core.Package{
				"foo": {{Name: "foo", Version: "1.0/../../x"}},
			}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeIndex(tt.data(t))
			assert.Error(t, err)
		})
	}
}

func TestDecodeIndex_BadRequirementKind(t *testing.T) {
	data := encodeIndex(t, core.RepositoryIndex{Packages: map[string][]core.Package{
		"foo": {{Name: "foo", Version: "1.0.0", Dependencies: []core.Dependency{{Name: "bar", VersionReq: "not a version"}}}},
	}})
	_, err := DecodeIndex(data)
	assert.True(t, errors.Is(err, core.ErrInvalidRequirement))
}
