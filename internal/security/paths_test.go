package security

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateExtractPath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative file", "usr/bin/curl", false},
		{"dot prefix", "./etc/curl.conf", false},
		{"double dot in name", "usr/share/doc/a..b", false},
		{"traversal", "../etc/passwd", true},
		{"nested traversal", "usr/../../etc/passwd", true},
		{"absolute", "/etc/passwd", true},
		{"null byte", "usr/bin\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExtractPath(root, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSymlink(t *testing.T) {
	root := t.TempDir()
	link := filepath.Join(root, "usr", "lib", "libfoo.so")

	assert.NoError(t, ValidateSymlink(root, link, "libfoo.so.1"))
	assert.NoError(t, ValidateSymlink(root, link, "/usr/lib/libfoo.so.1"))
	assert.Error(t, ValidateSymlink(root, link, "../../../../outside"))
}

func TestIsPathWithinDirectory(t *testing.T) {
	ok, err := IsPathWithinDirectory("/var/cache/hpkg/a.zst", "/var/cache/hpkg")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsPathWithinDirectory("/var/cache/other", "/var/cache/hpkg")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsPathWithinDirectory("/var/cache/hpkg..evil", "/var/cache/hpkg")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = IsPathWithinDirectory("relative", "/var")
	assert.Error(t, err)
}
