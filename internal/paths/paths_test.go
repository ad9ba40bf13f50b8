package paths

import (
	"testing"

	"github.com/quantmind-br/hpkg/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestNewResolver(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.RootDir = "/srv/sysroot/"

	r := NewResolver(cfg)
	assert.Equal(t, "/srv/sysroot", r.Root())
}

func TestNewResolverWithRoot(t *testing.T) {
	assert.Equal(t, "/", NewResolverWithRoot("").Root())
	assert.Equal(t, "/custom", NewResolverWithRoot("/custom").Root())
}

func TestTargetAndRel(t *testing.T) {
	r := NewResolverWithRoot("/sysroot")

	assert.Equal(t, "/sysroot/usr/bin/foo", r.Target("usr/bin/foo"))
	assert.Equal(t, "usr/bin/foo", r.Rel("/sysroot/usr/bin/foo"))
	assert.Equal(t, "/elsewhere/x", r.Rel("/elsewhere/x"))
	assert.Equal(t, "/sysroot-other/x", r.Rel("/sysroot-other/x"))
}

func TestIsConfig(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"etc/foo.conf", true},
		{"/etc/foo/bar.conf", true},
		{"etc", false},
		{"usr/etc/foo", false},
		{"etcetera/foo", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfig(tt.path))
		})
	}
}

func TestConfigPaths(t *testing.T) {
	r := NewResolverWithRoot("/sysroot")

	assert.Equal(t, "/sysroot/etc/app.conf.hecate-backup", r.BackupPath("etc/app.conf"))
	assert.Equal(t, "/sysroot/etc/app.conf.hecate-new", r.NewConfigPath("etc/app.conf"))
	assert.Equal(t, "/sysroot/var/lib/hpkg/lock", r.LockFile())
}
