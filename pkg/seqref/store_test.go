package seqref

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChromosome(t *testing.T, dataDir, build, chr, content string) {
	t.Helper()

	path := ChromosomePath(dataDir, build, chr)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o770))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o660))
}

func TestStoreSequence(t *testing.T) {
	dir := t.TempDir()
	writeChromosome(t, dir, Build37, "1", ">chr1 test\nacgtACGTTTGGCCAA\n")
	writeChromosome(t, dir, Build37, "2", "GATTACA")

	store := NewStore(dir)

	seq, err := store.Sequence(Build37, "1", 0, 4, false)
	require.NoError(t, err)
	assert.Equal(t, "ACGT", seq)

	seq, err = store.Sequence(Build37, "1", 8, 16, false)
	require.NoError(t, err)
	assert.Equal(t, "TTGGCCAA", seq)

	seq, err = store.Sequence(Build37, "2", 1, 7, false)
	require.NoError(t, err)
	assert.Equal(t, "ATTACA", seq)

	_, err = store.Sequence(Build37, "1", 8, 17, false)
	assert.True(t, eris.Is(err, ErrOutOfRange))

	_, err = store.Sequence(Build37, "1", -1, 3, false)
	assert.True(t, eris.Is(err, ErrOutOfRange))

	_, err = store.Sequence(Build37, "1", 5, 3, false)
	assert.True(t, eris.Is(err, ErrOutOfRange))

	_, err = store.Sequence(Build38, "1", 0, 4, false)
	assert.True(t, eris.Is(err, ErrMissingData))
}

func TestStoreCircular(t *testing.T) {
	dir := t.TempDir()
	writeChromosome(t, dir, Build37, "MT", ">chrMT\nAACCGGTT\n")

	store := NewStore(dir)

	seq, err := store.Sequence(Build37, "MT", -2, 2, true)
	require.NoError(t, err)
	assert.Equal(t, "TTAA", seq)

	seq, err = store.Sequence(Build37, "MT", 6, 10, true)
	require.NoError(t, err)
	assert.Equal(t, "TTAA", seq)

	_, err = store.Sequence(Build37, "MT", -2, 10, true)
	assert.True(t, eris.Is(err, ErrOutOfRange))
}

func TestMapSequence(t *testing.T) {
	m := Map{}
	m.Add(Build37, "X", "acgtacgt")

	seq, err := m.Sequence(Build37, "X", 2, 6, false)
	require.NoError(t, err)
	assert.Equal(t, "GTAC", seq)

	seq, err = m.Sequence(Build37, "X", -1, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "TA", seq)

	_, err = m.Sequence(Build37, "Y", 0, 1, false)
	assert.True(t, eris.Is(err, ErrMissingData))
}
