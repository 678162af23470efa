// Package retrieval turns a free-text question into an ordered evidence
// set drawn from the current index generation.
package retrieval

import (
	"context"
	"sort"
	"time"

	"factnews/internal/common/logger"
	"factnews/internal/common/metrics"
	"factnews/internal/embedding"
	"factnews/internal/index"
	"factnews/internal/models"
)

// Engine binds the embedding store to the chunk index. The similarity
// computation itself is CPU-bound and synchronous; only the query
// embedding can touch the network.
type Engine struct {
	store          *embedding.Store
	index          *index.Index
	topK           int
	diverseMax     int
	relevanceFloor float64
	log            logger.Logger
}

func NewEngine(store *embedding.Store, ix *index.Index, topK, diverseMax int, relevanceFloor float64, log logger.Logger) *Engine {
	return &Engine{
		store:          store,
		index:          ix,
		topK:           topK,
		diverseMax:     diverseMax,
		relevanceFloor: relevanceFloor,
		log:            log.With(map[string]interface{}{"component": "retrieval"}),
	}
}

// Retrieve returns at most k chunks relevant to the query, sorted by
// descending similarity with deterministic tie-breaking. An empty corpus
// yields an empty evidence set. A query embedding failure propagates; no
// partial or garbage evidence is ever returned.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) (models.EvidenceSet, error) {
	started := time.Now()
	defer func() {
		metrics.RetrievalDuration.Observe(time.Since(started).Seconds())
	}()

	if k <= 0 {
		k = e.topK
	}

	gen := e.index.Current()
	if gen == nil || gen.Len() == 0 {
		generation := ""
		if gen != nil {
			generation = gen.ID()
		}
		return models.EvidenceSet{Generation: generation}, nil
	}

	queryVec, err := e.store.QueryVector(ctx, query)
	if err != nil {
		return models.EvidenceSet{}, err
	}

	scored, err := gen.Search(queryVec, k)
	if err != nil {
		return models.EvidenceSet{}, err
	}

	if e.relevanceFloor > 0 {
		kept := scored[:0]
		for _, sc := range scored {
			if sc.Similarity >= e.relevanceFloor {
				kept = append(kept, sc)
			}
		}
		scored = kept
	}

	return models.EvidenceSet{
		Chunks:          scored,
		SourcesAnalyzed: countSources(scored),
		Generation:      gen.ID(),
	}, nil
}

// Diversify selects up to max chunks using strict round-robin across
// sources so a single prolific outlet cannot dominate the evidence handed
// to the council. Relative similarity order is preserved within a source.
func (e *Engine) Diversify(chunks []models.ScoredChunk, max int) []models.ScoredChunk {
	if max <= 0 {
		max = e.diverseMax
	}
	if len(chunks) == 0 {
		return nil
	}

	bySource := map[string][]models.ScoredChunk{}
	for _, c := range chunks {
		bySource[c.Source] = append(bySource[c.Source], c)
	}
	sources := make([]string, 0, len(bySource))
	for s := range bySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	var out []models.ScoredChunk
	for round := 0; len(out) < max; round++ {
		added := false
		for _, s := range sources {
			if len(out) >= max {
				break
			}
			if round < len(bySource[s]) {
				out = append(out, bySource[s][round])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

func countSources(chunks []models.ScoredChunk) int {
	seen := map[string]struct{}{}
	for _, c := range chunks {
		seen[c.Source] = struct{}{}
	}
	return len(seen)
}
