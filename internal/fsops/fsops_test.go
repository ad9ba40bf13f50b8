package fsops

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"
)

func TestHashFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := []byte("package payload")
	require.NoError(t, afero.WriteFile(fs, "/a", data, 0644))

	d, err := HashFile(fs, "/a")
	require.NoError(t, err)

	sha := sha256.Sum256(data)
	b3 := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sha[:]), d.SHA256)
	assert.Equal(t, hex.EncodeToString(b3[:]), d.BLAKE3)
	assert.Equal(t, int64(len(data)), d.Size)

	sum, err := SHA256File(fs, "/a")
	require.NoError(t, err)
	assert.Equal(t, d.SHA256, sum)

	_, err = HashFile(fs, "/missing")
	assert.Error(t, err)
}

func TestHashReader_Empty(t *testing.T) {
	d, err := HashReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", d.SHA256)
	assert.Zero(t, d.Size)
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()
	require.NoError(t, CheckWritable(fs, dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file removed")

	ro := afero.NewReadOnlyFs(fs)
	assert.Error(t, CheckWritable(ro, dir))
}

func TestExistsAndIsRegular(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/d", 0755))
	require.NoError(t, afero.WriteFile(fs, "/d/f", []byte("x"), 0644))

	assert.True(t, Exists(fs, "/d"))
	assert.True(t, Exists(fs, "/d/f"))
	assert.False(t, Exists(fs, "/nope"))
	assert.True(t, IsRegular(fs, "/d/f"))
	assert.False(t, IsRegular(fs, "/d"))
	assert.False(t, IsRegular(fs, "/nope"))
}

func TestCopyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/app.conf", []byte("key=1\n"), 0600))

	require.NoError(t, CopyFile(fs, "/etc/app.conf", "/backup/app.conf"))

	data, err := afero.ReadFile(fs, "/backup/app.conf")
	require.NoError(t, err)
	assert.Equal(t, "key=1\n", string(data))

	info, err := fs.Stat("/backup/app.conf")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Error(t, CopyFile(fs, "/missing", "/x"))
}

func TestSameContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a", []byte("same"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/b", []byte("same"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/c", []byte("diff"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/d", []byte("longer"), 0644))

	same, err := SameContent(fs, "/a", "/b")
	require.NoError(t, err)
	assert.True(t, same)

	same, err = SameContent(fs, "/a", "/c")
	require.NoError(t, err)
	assert.False(t, same)

	same, err = SameContent(fs, "/a", "/d")
	require.NoError(t, err)
	assert.False(t, same)

	_, err = SameContent(fs, "/a", "/missing")
	assert.Error(t, err)
}

func TestMove(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a", []byte("1"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/b", []byte("2"), 0644))

	require.NoError(t, Move(fs, "/a", "/b"))
	data, err := afero.ReadFile(fs, "/b")
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
	assert.False(t, Exists(fs, "/a"))
}
