package index

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "factnews/internal/common/errors"
	"factnews/internal/models"
)

func chunk(id, source string, date time.Time) models.Chunk {
	return models.Chunk{
		ID:        id,
		ArticleID: id[:1],
		Source:    source,
		Date:      date,
		Text:      "text for " + id,
	}
}

var day = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

func TestBuildSkipsChunksWithoutVectors(t *testing.T) {
	chunks := []models.Chunk{
		chunk("a_0", "reuters", day),
		chunk("b_0", "ap", day),
	}
	vectors := map[string][]float32{
		"a_0": {1, 0},
	}

	gen, err := Build(chunks, vectors)
	require.NoError(t, err)
	assert.Equal(t, 1, gen.Len())
	assert.Equal(t, 2, gen.Dim())
	assert.NotEmpty(t, gen.ID())
}

func TestBuildRejectsMixedDimensions(t *testing.T) {
	chunks := []models.Chunk{
		chunk("a_0", "reuters", day),
		chunk("b_0", "ap", day),
	}
	vectors := map[string][]float32{
		"a_0": {1, 0},
		"b_0": {1, 0, 0},
	}

	_, err := Build(chunks, vectors)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, apperrors.CodeOf(err))
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	chunks := []models.Chunk{
		chunk("a_0", "reuters", day),
		chunk("b_0", "ap", day),
		chunk("c_0", "bbc", day),
	}
	vectors := map[string][]float32{
		"a_0": {1, 0},
		"b_0": {0, 1},
		"c_0": {1, 1},
	}

	gen, err := Build(chunks, vectors)
	require.NoError(t, err)

	results, err := gen.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a_0", results[0].ID)
	assert.Equal(t, "c_0", results[1].ID)
	assert.Equal(t, "b_0", results[2].ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
}

func TestSearchTieBreaksByDateThenID(t *testing.T) {
	older := day.Add(-48 * time.Hour)
	chunks := []models.Chunk{
		chunk("z_0", "reuters", older),
		chunk("a_0", "ap", day),
		chunk("m_0", "bbc", day),
	}
	// Identical vectors, identical similarity for every chunk.
	vectors := map[string][]float32{
		"z_0": {1, 0},
		"a_0": {1, 0},
		"m_0": {1, 0},
	}

	gen, err := Build(chunks, vectors)
	require.NoError(t, err)

	results, err := gen.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Newer date wins; equal dates fall back to lexicographic id.
	assert.Equal(t, "a_0", results[0].ID)
	assert.Equal(t, "m_0", results[1].ID)
	assert.Equal(t, "z_0", results[2].ID)
}

func TestSearchCapsAtK(t *testing.T) {
	var chunks []models.Chunk
	vectors := map[string][]float32{}
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("c%02d_0", i)
		chunks = append(chunks, chunk(id, "reuters", day))
		vectors[id] = []float32{1, float32(i) / 100}
	}

	gen, err := Build(chunks, vectors)
	require.NoError(t, err)

	results, err := gen.Search([]float32{1, 1}, 5)
	require.NoError(t, err)
	assert.Len(t, results, 5)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Similarity, results[i].Similarity)
	}
}

func TestSearchEmptyGeneration(t *testing.T) {
	gen, err := Build(nil, nil)
	require.NoError(t, err)

	results, err := gen.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchQueryDimensionMismatch(t *testing.T) {
	gen, err := Build(
		[]models.Chunk{chunk("a_0", "reuters", day)},
		map[string][]float32{"a_0": {1, 0, 0}},
	)
	require.NoError(t, err)

	_, err = gen.Search([]float32{1, 0}, 5)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeDimensionMismatch, apperrors.CodeOf(err))
}

func TestIndexSwapReplacesGeneration(t *testing.T) {
	ix := New()
	assert.Nil(t, ix.Current())

	first, err := Build(
		[]models.Chunk{chunk("a_0", "reuters", day)},
		map[string][]float32{"a_0": {1, 0}},
	)
	require.NoError(t, err)
	ix.Swap(first)
	assert.Equal(t, first.ID(), ix.Current().ID())

	second, err := Build(
		[]models.Chunk{chunk("b_0", "ap", day)},
		map[string][]float32{"b_0": {0, 1}},
	)
	require.NoError(t, err)
	ix.Swap(second)
	assert.Equal(t, second.ID(), ix.Current().ID())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestGenerationStats(t *testing.T) {
	chunks := []models.Chunk{
		{ID: "a_0", ArticleID: "a", Source: "reuters", Date: day},
		{ID: "a_1", ArticleID: "a", Source: "reuters", Date: day},
		{ID: "b_0", ArticleID: "b", Source: "ap", Date: day},
	}
	vectors := map[string][]float32{
		"a_0": {1, 0}, "a_1": {0, 1}, "b_0": {1, 1},
	}

	gen, err := Build(chunks, vectors)
	require.NoError(t, err)

	articles, bySource := gen.Stats()
	assert.Equal(t, 2, articles)
	assert.Equal(t, map[string]int{"reuters": 2, "ap": 1}, bySource)
}
