package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandArgsKeepsSpaces(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"my file", "my", "file", "a.tmp", "b.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o660))
	}

	items, err := expandArgs([]string{filepath.Join(dir, "my file")}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "my file")}, items)

	items, err = expandArgs([]string{filepath.Join(dir, "*.tmp")}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.tmp"), filepath.Join(dir, "b.tmp")}, items)

	_, err = expandArgs([]string{filepath.Join(dir, "*.nothing")}, false)
	assert.Error(t, err)

	items, err = expandArgs([]string{filepath.Join(dir, "*.nothing")}, true)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRmPathWithSpaces(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"my file", "my", "file"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o660))
	}

	require.NoError(t, rmCmd.Flags().Set("force", "true"))
	t.Cleanup(func() { _ = rmCmd.Flags().Set("force", "false") })

	require.NoError(t, rmCmd.RunE(rmCmd, []string{filepath.Join(dir, "my file")}))

	_, err := os.Stat(filepath.Join(dir, "my file"))
	assert.True(t, os.IsNotExist(err))
	for _, name := range []string{"my", "file"} {
		_, err = os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}
