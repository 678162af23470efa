package embedding

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "factnews/internal/common/errors"
)

func tempSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	return NewSnapshot(filepath.Join(t.TempDir(), "vectors.bin"), time.Second)
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	s := tempSnapshot(t)

	table, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, table.Vectors)
	assert.Zero(t, table.Dim)
}

func TestSnapshotMergeRoundTrip(t *testing.T) {
	s := tempSnapshot(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, map[string][]float32{
		"a_0": {0.1, 0.2, 0.3},
		"b_0": {0.4, 0.5, 0.6},
	}))

	table, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, table.Dim)
	require.Len(t, table.Vectors, 2)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, table.Vectors["a_0"], 1e-6)
	assert.InDeltaSlice(t, []float32{0.4, 0.5, 0.6}, table.Vectors["b_0"], 1e-6)
}

func TestSnapshotMergeAccumulates(t *testing.T) {
	s := tempSnapshot(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, map[string][]float32{"a_0": {1, 0}}))
	require.NoError(t, s.Merge(ctx, map[string][]float32{"b_0": {0, 1}}))

	table, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, table.Vectors, 2)
}

func TestSnapshotMergeOverwritesExisting(t *testing.T) {
	s := tempSnapshot(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, map[string][]float32{"a_0": {1, 0}}))
	require.NoError(t, s.Merge(ctx, map[string][]float32{"a_0": {0, 1}}))

	table, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, table.Vectors, 1)
	assert.InDeltaSlice(t, []float32{0, 1}, table.Vectors["a_0"], 1e-6)
}

func TestSnapshotMergeRejectsDimensionMismatch(t *testing.T) {
	s := tempSnapshot(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, map[string][]float32{"a_0": {1, 0, 0}}))

	err := s.Merge(ctx, map[string][]float32{"b_0": {1, 0}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, apperrors.CodeOf(err))

	// The aborted merge must leave the table untouched.
	table, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, table.Vectors, 1)
}

func TestSnapshotPrune(t *testing.T) {
	s := tempSnapshot(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, map[string][]float32{
		"keep_0": {1, 0},
		"old_0":  {0, 1},
	}))
	require.NoError(t, s.Prune(ctx, map[string]struct{}{"keep_0": {}}))

	table, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, table.Vectors, 1)
	assert.Contains(t, table.Vectors, "keep_0")
}

func TestSnapshotLockTimeout(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.bin")
	s := NewSnapshot(path, 150*time.Millisecond)

	// Hold the exclusive lock from the outside so the snapshot cannot
	// acquire it in time.
	holder := flock.New(path + ".lock")
	require.NoError(t, holder.Lock())
	defer holder.Unlock()

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)

	err = s.Merge(context.Background(), map[string][]float32{"a_0": {1}})
	assert.ErrorIs(t, err, ErrLockTimeout)
}
