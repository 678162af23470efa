// Package index holds every chunk vector in memory and answers top-K
// cosine similarity queries with a full scan. At sub-million chunk scale
// the exact scan outperforms the bookkeeping of an approximate structure
// and keeps result ordering reproducible, so no ANN index is used.
package index

import (
	"container/heap"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "factnews/internal/common/errors"
	"factnews/internal/models"
)

// Generation is one immutable build of the index. Readers hold a
// generation for the duration of a request; rebuilds produce a new one
// and swap it in atomically.
type Generation struct {
	id      string
	dim     int
	chunks  []models.Chunk
	vectors [][]float32
	builtAt time.Time

	articleCount int
	bySource     map[string]int
}

// ID returns the generation tag used for cache invalidation.
func (g *Generation) ID() string { return g.id }

// Dim returns the vector dimensionality of this generation.
func (g *Generation) Dim() int { return g.dim }

// Len returns the number of indexed chunks.
func (g *Generation) Len() int { return len(g.chunks) }

// BuiltAt returns the build timestamp.
func (g *Generation) BuiltAt() time.Time { return g.builtAt }

// Stats summarizes corpus coverage for the stats surface.
func (g *Generation) Stats() (articles int, bySource map[string]int) {
	out := make(map[string]int, len(g.bySource))
	for k, v := range g.bySource {
		out[k] = v
	}
	return g.articleCount, out
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}

// Build creates a generation from chunks and their vectors. Chunks with
// no vector (isolated embedding failures) are skipped; a vector whose
// dimensionality differs from the rest of the build is a hard error, not
// a skip. Vectors are L2-normalized once here so the scan is a plain dot
// product.
func Build(chunks []models.Chunk, vectors map[string][]float32) (*Generation, error) {
	g := &Generation{
		id:       uuid.NewString(),
		builtAt:  time.Now().UTC(),
		bySource: map[string]int{},
	}

	articles := map[string]struct{}{}
	for _, c := range chunks {
		vec, ok := vectors[c.ID]
		if !ok {
			continue
		}
		if g.dim == 0 {
			g.dim = len(vec)
		} else if len(vec) != g.dim {
			return nil, apperrors.NewDimensionMismatchError(g.dim, len(vec), c.ID)
		}
		g.chunks = append(g.chunks, c)
		g.vectors = append(g.vectors, normalize(vec))
		g.bySource[c.Source]++
		articles[c.ArticleID] = struct{}{}
	}
	g.articleCount = len(articles)
	return g, nil
}

// less is the deterministic result ordering: higher similarity first,
// ties broken by newer publish date, then lexicographic chunk id.
func less(a, b models.ScoredChunk) bool {
	if a.Similarity != b.Similarity {
		return a.Similarity > b.Similarity
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	return a.ID < b.ID
}

// resultHeap is a min-heap of the best k candidates so the scan stays
// O(n log k).
type resultHeap []models.ScoredChunk

func (h resultHeap) Len() int            { return len(h) }
func (h resultHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h resultHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x interface{}) { *h = append(*h, x.(models.ScoredChunk)) }
func (h *resultHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Search scans every vector and returns at most k chunks ordered by the
// deterministic comparator. An empty generation yields an empty result,
// never an error. A query vector of the wrong dimensionality is a hard
// error.
func (g *Generation) Search(queryVec []float32, k int) ([]models.ScoredChunk, error) {
	if len(g.chunks) == 0 || k <= 0 {
		return nil, nil
	}
	if len(queryVec) != g.dim {
		return nil, apperrors.NewDimensionMismatchError(g.dim, len(queryVec), "query")
	}
	q := normalize(queryVec)

	h := make(resultHeap, 0, k)
	heap.Init(&h)
	for i, vec := range g.vectors {
		var dot float64
		for j, v := range vec {
			dot += float64(v) * float64(q[j])
		}
		candidate := models.ScoredChunk{Chunk: g.chunks[i], Similarity: dot}
		if len(h) < k {
			heap.Push(&h, candidate)
		} else if less(candidate, h[0]) {
			h[0] = candidate
			heap.Fix(&h, 0)
		}
	}

	out := make([]models.ScoredChunk, len(h))
	copy(out, h)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

// Index is the read-mostly holder of the current generation. Swapping is
// a single pointer store; readers never take a lock.
type Index struct {
	current atomic.Pointer[Generation]
}

func New() *Index { return &Index{} }

// Current returns the active generation, or nil before the first build.
func (ix *Index) Current() *Generation { return ix.current.Load() }

// Swap installs a new generation. In-flight searches keep using the one
// they already hold.
func (ix *Index) Swap(g *Generation) { ix.current.Store(g) }
