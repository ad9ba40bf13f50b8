package transaction

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/quantmind-br/hpkg/internal/core"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	logger := zerolog.Nop()
	manager := NewManager(&logger)
	assert.NotNil(t, manager)
	assert.Equal(t, 0, manager.Pending())

	assert.NotNil(t, NewManager(nil).logger)
}

func TestAddAndCommit(t *testing.T) {
	logger := zerolog.Nop()
	manager := NewManager(&logger)

	called := false
	manager.Add("write file", func() error {
		called = true
		return nil
	})
	assert.Equal(t, 1, manager.Pending())

	manager.Commit()
	assert.Equal(t, 0, manager.Pending())

	require.NoError(t, manager.Rollback())
	assert.False(t, called, "committed steps are never undone")
}

func TestRollbackOrder(t *testing.T) {
	logger := zerolog.Nop()
	manager := NewManager(&logger)

	var executionOrder []string
	for _, name := range []string{"op1", "op2", "op3"} {
		manager.Add(name, func() error {
			executionOrder = append(executionOrder, name)
			return nil
		})
	}

	err := manager.Rollback()
	assert.NoError(t, err)
	assert.Equal(t, []string{"op3", "op2", "op1"}, executionOrder)
	assert.Equal(t, 0, manager.Pending())
}

func TestRollbackWithErrors(t *testing.T) {
	logger := zerolog.Nop()
	manager := NewManager(&logger)

	err1 := errors.New("error 1")
	err2 := errors.New("error 2")
	ran := 0
	manager.Add("op1", func() error { ran++; return err1 })
	manager.Add("op2", func() error { ran++; return err2 })
	manager.Add("op3", func() error { ran++; return nil })

	err := manager.Rollback()
	require.Error(t, err)
	assert.ErrorIs(t, err, err1)
	assert.ErrorIs(t, err, err2)
	assert.Contains(t, err.Error(), "rollback 'op2'")
	assert.Equal(t, 3, ran, "a failing step does not stop the remaining ones")
	assert.Equal(t, 0, manager.Pending())
}

func TestRollbackEmpty(t *testing.T) {
	logger := zerolog.Nop()
	manager := NewManager(&logger)
	assert.NoError(t, manager.Rollback())
}

func TestConcurrentAdd(t *testing.T) {
	logger := zerolog.Nop()
	manager := NewManager(&logger)

	var wg sync.WaitGroup
	for g := 0; g < 2; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				manager.Add(fmt.Sprintf("op-%d-%d", g, i), func() error { return nil })
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 200, manager.Pending())
	require.NoError(t, manager.Rollback())
	assert.Equal(t, 0, manager.Pending())
}

func TestTrackFilesRollback(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger := zerolog.Nop()

	require.NoError(t, fs.MkdirAll("/root/usr/bin", 0755))
	require.NoError(t, afero.WriteFile(fs, "/root/usr/bin/foo", []byte("foo"), 0755))
	require.NoError(t, fs.MkdirAll("/root/usr/share", 0755))
	require.NoError(t, afero.WriteFile(fs, "/root/usr/share/other", []byte("not ours"), 0644))

	files := []core.InstalledFile{
		{Path: "usr", IsDir: true},
		{Path: "usr/bin", IsDir: true},
		{Path: "usr/bin/foo"},
		{Path: "usr/bin/never-written"},
	}

	manager := NewManager(&logger)
	manager.TrackFiles(fs, "/root", "foo", files)
	manager.TrackFiles(fs, "/root", "empty", nil)
	assert.Equal(t, 1, manager.Pending())

	require.NoError(t, manager.Rollback())

	exists, _ := afero.Exists(fs, "/root/usr/bin/foo")
	assert.False(t, exists)
	exists, _ = afero.DirExists(fs, "/root/usr/bin")
	assert.False(t, exists, "emptied directory is removed")
	exists, _ = afero.DirExists(fs, "/root/usr")
	assert.True(t, exists, "directory still holding foreign files is kept")
	exists, _ = afero.Exists(fs, "/root/usr/share/other")
	assert.True(t, exists)
}

func TestRemoveFiles_MissingPathsIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger := zerolog.Nop()

	err := RemoveFiles(fs, "/root", []core.InstalledFile{
		{Path: "gone", IsDir: true},
		{Path: "gone/file"},
	}, &logger)
	assert.NoError(t, err)
}
