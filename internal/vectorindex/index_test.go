package vectorindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	norm := float32(1)
	if sumSq > 0 {
		norm = sqrt32(sumSq)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func sqrt32(x float32) float32 {
	// Newton's method, good enough for test fixtures.
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func TestIndex_EmptySearchReturnsEmpty(t *testing.T) {
	idx := New(4)
	matches, err := idx.Search(unit([]float32{1, 0, 0, 0}), 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestIndex_AddAndSearchOrdersByDescendingScore(t *testing.T) {
	idx := New(2)
	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()

	err := idx.Add([][]float32{
		unit([]float32{1, 0}),
		unit([]float32{0, 1}),
		unit([]float32{0.9, 0.1}),
	}, []uuid.UUID{idA, idB, idC})
	require.NoError(t, err)

	matches, err := idx.Search(unit([]float32{1, 0}), 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, idA, matches[0].ID)
	assert.Equal(t, idC, matches[1].ID)
	assert.Equal(t, idB, matches[2].ID)
	assert.True(t, matches[0].Score >= matches[1].Score)
	assert.True(t, matches[1].Score >= matches[2].Score)
}

func TestIndex_DimensionMismatchErrors(t *testing.T) {
	idx := New(3)
	_, err := idx.Search([]float32{1, 0}, 1)
	assert.Error(t, err)

	err = idx.Add([][]float32{{1, 0}}, []uuid.UUID{uuid.New()})
	assert.Error(t, err)
}

func TestIndex_RebuildReplacesContentsAtomically(t *testing.T) {
	idx := New(2)
	first := uuid.New()
	require.NoError(t, idx.Add([][]float32{unit([]float32{1, 0})}, []uuid.UUID{first}))
	assert.Equal(t, 1, idx.Len())

	second := uuid.New()
	require.NoError(t, idx.Rebuild([][]float32{unit([]float32{0, 1})}, []uuid.UUID{second}))
	assert.Equal(t, 1, idx.Len())

	matches, err := idx.Search(unit([]float32{0, 1}), 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, second, matches[0].ID)
}

func TestIndex_SnapshotAndLoadRoundTrip(t *testing.T) {
	idx := New(2)
	id := uuid.New()
	require.NoError(t, idx.Add([][]float32{unit([]float32{1, 1})}, []uuid.UUID{id}))

	path := filepath.Join(t.TempDir(), "snapshot.gob")
	require.NoError(t, idx.Snapshot(path))

	restored := New(2)
	require.NoError(t, restored.Load(path))
	assert.Equal(t, 1, restored.Len())

	matches, err := restored.Search(unit([]float32{1, 1}), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, id, matches[0].ID)
}

func TestIndex_LoadRejectsDimensionMismatch(t *testing.T) {
	idx := New(2)
	require.NoError(t, idx.Add([][]float32{unit([]float32{1, 1})}, []uuid.UUID{uuid.New()}))
	path := filepath.Join(t.TempDir(), "snapshot.gob")
	require.NoError(t, idx.Snapshot(path))

	wrongDims := New(3)
	err := wrongDims.Load(path)
	assert.Error(t, err)
}

func TestIndex_SnapshotDoesNotLeaveTempFiles(t *testing.T) {
	dir := t.TempDir()
	idx := New(1)
	require.NoError(t, idx.Add([][]float32{{1}}, []uuid.UUID{uuid.New()}))
	require.NoError(t, idx.Snapshot(filepath.Join(dir, "snap.gob")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2) // snap.gob.index + snap.gob.mapping, no leftover temp files
}
