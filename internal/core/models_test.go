package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackage_ArtifactName(t *testing.T) {
	pkg := Package{Name: "curl", Version: "1.0.0"}
	assert.Equal(t, "curl-1.0.0.pkg.tar.zst", pkg.ArtifactName())
	assert.Equal(t, "curl-1.0.0", pkg.ID())
}

func TestDependency_Required(t *testing.T) {
	tests := []struct {
		name     string
		dep      Dependency
		expected bool
	}{
		{"runtime", Dependency{Name: "a"}, true},
		{"optional", Dependency{Name: "a", Optional: true}, false},
		{"build only", Dependency{Name: "a", BuildOnly: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dep.Required())
		})
	}
}

func TestParseArchitecture(t *testing.T) {
	assert.Equal(t, ArchX86_64, ParseArchitecture("x86_64"))
	assert.Equal(t, ArchAarch64, ParseArchitecture("aarch64"))
	assert.Equal(t, ArchRiscv64, ParseArchitecture("riscv64"))
	assert.Equal(t, ArchAll, ParseArchitecture("all"))
	assert.Equal(t, ArchAll, ParseArchitecture("sparc"))
}

func TestParseInstallReason(t *testing.T) {
	assert.Equal(t, ReasonDependency, ParseInstallReason("dependency"))
	assert.Equal(t, ReasonGroup, ParseInstallReason("group"))
	assert.Equal(t, ReasonExplicit, ParseInstallReason("explicit"))
	assert.Equal(t, ReasonExplicit, ParseInstallReason(""))
}

func TestSortRepositories(t *testing.T) {
	repos := []Repository{
		{Name: "a", Priority: 10},
		{Name: "c", Priority: 5},
		{Name: "b", Priority: 5},
	}
	SortRepositories(repos)

	names := []string{repos[0].Name, repos[1].Name, repos[2].Name}
	assert.Equal(t, []string{"b", "c", "a"}, names)
}

func TestSortIndices(t *testing.T) {
	indices := []RepositoryIndex{
		{Repository: Repository{Name: "A", Priority: 10}},
		{Repository: Repository{Name: "B", Priority: 5}},
	}
	SortIndices(indices)
	assert.Equal(t, "B", indices[0].Repository.Name)
	assert.Equal(t, "A", indices[1].Repository.Name)
}

func TestRepositoryIndex_BuildProvidesIndex(t *testing.T) {
	idx := RepositoryIndex{
		Packages: map[string][]Package{
			"openssl": {
				{Name: "openssl", Version: "3.0.0", Provides: []string{"libssl"}},
				{Name: "openssl", Version: "3.1.0", Provides: []string{"libssl", "libcrypto"}},
			},
			"libressl": {
				{Name: "libressl", Version: "3.8.0", Provides: []string{"libssl"}},
			},
		},
	}

	idx.BuildProvidesIndex()

	assert.Equal(t, []string{"libressl", "openssl"}, idx.Provides["libssl"])
	assert.Equal(t, []string{"openssl"}, idx.Provides["libcrypto"])
}

func TestRepositoryIndex_JSON(t *testing.T) {
	raw := `{
  "repository": {"name": "core", "url": "https://example.com/core", "enabled": true, "priority": 1},
  "packages": {
    "curl": [{
      "name": "curl",
      "version": "8.5.0",
      "architecture": "x86_64",
      "dependencies": [{"name": "openssl", "version_req": ">= 3.0"}],
      "checksum": {"sha256": "aa", "blake3": "bb"},
      "build_date": "2024-01-01T00:00:00Z"
    }]
  },
  "groups": {"base": ["curl"]}
}`

	var idx RepositoryIndex
	require.NoError(t, json.Unmarshal([]byte(raw), &idx))

	assert.Equal(t, "core", idx.Repository.Name)
	require.Len(t, idx.Packages["curl"], 1)
	curl := idx.Packages["curl"][0]
	assert.Equal(t, ArchX86_64, curl.Architecture)
	assert.Equal(t, "openssl", curl.Dependencies[0].Name)
	assert.Equal(t, "aa", curl.Checksum.SHA256)
	assert.Equal(t, []string{"curl"}, idx.Groups["base"])
}
