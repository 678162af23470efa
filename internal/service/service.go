// Package service is the facade the outer application talks to. It owns
// the ask pipeline: retrieve evidence, deliberate or fast-answer, cache
// the assembled result keyed by corpus generation.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "factnews/internal/common/errors"
	"factnews/internal/common/logger"
	"factnews/internal/council"
	"factnews/internal/embedding"
	"factnews/internal/index"
	"factnews/internal/models"
	"factnews/internal/respcache"
	"factnews/internal/retrieval"
)

// Mode selects the answer pipeline.
type Mode string

const (
	ModeConsensus Mode = "consensus"
	ModeFast      Mode = "fast"
)

// Valid reports whether the mode is one of the two supported pipelines.
func (m Mode) Valid() bool { return m == ModeConsensus || m == ModeFast }

// ArticleSource hands over ingested articles on demand. Ingestion itself
// lives outside the core; this is the seam it plugs into.
type ArticleSource interface {
	Articles(ctx context.Context) ([]models.Article, error)
}

// Answer is one assembled response, either a full verdict or a fast
// single-provider answer, plus the evidence it was grounded on.
type Answer struct {
	Mode            Mode                 `json:"mode"`
	Verdict         *models.Verdict      `json:"verdict,omitempty"`
	Fast            *models.FastAnswer   `json:"fast,omitempty"`
	Evidence        []models.ScoredChunk `json:"evidence,omitempty"`
	SourcesAnalyzed int                  `json:"sources_analyzed"`
	Generation      string               `json:"generation,omitempty"`
	Cached          bool                 `json:"cached"`
}

// StreamEvent is one phase update emitted while an ask is in flight.
type StreamEvent struct {
	Phase   string  `json:"phase"`
	Message string  `json:"message,omitempty"`
	Answer  *Answer `json:"answer,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Stream phases in emission order. An ask ends with either complete or
// error, never both.
const (
	PhaseSearching  = "searching"
	PhaseAnalyzing  = "analyzing"
	PhaseGenerating = "generating"
	PhaseComplete   = "complete"
	PhaseError      = "error"
)

// Chunker abstracts the article splitter so tests can substitute fixed
// chunking.
type Chunker interface {
	ChunkAll(articles []models.Article) []models.Chunk
}

// Service wires retrieval, deliberation, and response caching together.
// Safe for concurrent use; corpus refreshes are serialized internally.
type Service struct {
	chunker Chunker
	store   *embedding.Store
	index   *index.Index
	engine  *retrieval.Engine
	council *council.Council
	cache   *respcache.Cache
	log     logger.Logger

	refreshMu sync.Mutex
}

func New(ch Chunker, store *embedding.Store, ix *index.Index, engine *retrieval.Engine, c *council.Council, cache *respcache.Cache, log logger.Logger) *Service {
	return &Service{
		chunker: ch,
		store:   store,
		index:   ix,
		engine:  engine,
		council: c,
		cache:   cache,
		log:     log.With(map[string]interface{}{"component": "service"}),
	}
}

func (s *Service) generation() string {
	if gen := s.index.Current(); gen != nil {
		return gen.ID()
	}
	return ""
}

// Ask answers a question in the requested mode. Results are cached per
// question, mode, and corpus generation; concurrent identical questions
// share one computation.
func (s *Service) Ask(ctx context.Context, question string, mode Mode) (*Answer, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("unknown answer mode %q", mode)
	}

	generation := s.generation()
	payload, cached, err := s.cache.GetOrCompute(ctx, question, string(mode), generation,
		func(ctx context.Context) (json.RawMessage, error) {
			answer, err := s.answer(ctx, question, mode, nil)
			if err != nil {
				return nil, err
			}
			return json.Marshal(answer)
		})
	if err != nil {
		return nil, err
	}

	var answer Answer
	if err := json.Unmarshal(payload, &answer); err != nil {
		return nil, fmt.Errorf("decode cached answer: %w", err)
	}
	answer.Cached = cached
	return &answer, nil
}

// AskStream runs the ask pipeline and emits phase events on the returned
// channel. The channel closes after the terminal complete or error event.
// Cached answers skip straight to complete.
func (s *Service) AskStream(ctx context.Context, question string, mode Mode) <-chan StreamEvent {
	events := make(chan StreamEvent, 8)
	go func() {
		defer close(events)

		if !mode.Valid() {
			events <- StreamEvent{Phase: PhaseError, Error: fmt.Sprintf("unknown answer mode %q", mode)}
			return
		}

		generation := s.generation()
		key := respcache.Key(question, string(mode), generation)
		if payload, ok := s.cache.Get(ctx, key, generation); ok {
			var answer Answer
			if err := json.Unmarshal(payload, &answer); err == nil {
				answer.Cached = true
				events <- StreamEvent{Phase: PhaseComplete, Answer: &answer}
				return
			}
		}

		emit := func(ev StreamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		answer, err := s.answer(ctx, question, mode, emit)
		if err != nil {
			emit(StreamEvent{Phase: PhaseError, Error: err.Error()})
			return
		}
		if payload, err := json.Marshal(answer); err == nil {
			s.cache.Set(ctx, key, generation, payload)
		}
		emit(StreamEvent{Phase: PhaseComplete, Answer: answer})
	}()
	return events
}

// answer runs the uncached pipeline. emit is optional; when set, phase
// events are reported as the pipeline advances.
func (s *Service) answer(ctx context.Context, question string, mode Mode, emit func(StreamEvent)) (*Answer, error) {
	if emit == nil {
		emit = func(StreamEvent) {}
	}

	emit(StreamEvent{Phase: PhaseSearching, Message: "searching news coverage"})
	evidence, err := s.engine.Retrieve(ctx, question, 0)
	if err != nil {
		return nil, err
	}

	if evidence.Empty() {
		return s.noCoverageAnswer(mode, evidence), nil
	}

	diversified := evidence
	diversified.Chunks = s.engine.Diversify(evidence.Chunks, 0)
	diversified.SourcesAnalyzed = evidence.SourcesAnalyzed

	emit(StreamEvent{
		Phase: PhaseAnalyzing,
		Message: fmt.Sprintf("analyzing %d chunks from %d sources",
			len(diversified.Chunks), diversified.SourcesAnalyzed),
	})

	answer := &Answer{
		Mode:            mode,
		Evidence:        diversified.Chunks,
		SourcesAnalyzed: diversified.SourcesAnalyzed,
		Generation:      evidence.Generation,
	}

	if mode == ModeFast {
		fast, err := s.council.Fast(ctx, question, diversified)
		if err != nil {
			return nil, err
		}
		answer.Fast = fast
		return answer, nil
	}

	emit(StreamEvent{Phase: PhaseGenerating, Message: "council deliberating"})
	verdict, err := s.council.Deliberate(ctx, question, diversified)
	if err != nil {
		return nil, err
	}
	answer.Verdict = verdict
	return answer, nil
}

// noCoverageAnswer is the explicit verdict for questions the corpus does
// not cover. No provider is consulted; saying "no coverage" is the whole
// answer.
func (s *Service) noCoverageAnswer(mode Mode, evidence models.EvidenceSet) *Answer {
	answer := &Answer{
		Mode:       mode,
		Generation: evidence.Generation,
	}
	if mode == ModeFast {
		answer.Fast = &models.FastAnswer{
			Answer:     "No relevant news coverage was found for this question.",
			Confidence: 0,
			Generation: evidence.Generation,
		}
		return answer
	}
	answer.Verdict = &models.Verdict{
		Synthesis:  "No relevant news coverage was found for this question.",
		Confidence: 0,
		Generation: evidence.Generation,
	}
	return answer
}

// SearchPreview exposes raw retrieval results without any deliberation.
func (s *Service) SearchPreview(ctx context.Context, query string, k int) (models.EvidenceSet, error) {
	return s.engine.Retrieve(ctx, query, k)
}

// RefreshCorpus rebuilds the index from the article source: re-chunk,
// resolve embeddings through the tiers, build and swap a new generation,
// prune stale snapshot vectors, and drop the response cache. Chunks whose
// embeddings stay unresolvable are indexed-around, not fatal.
func (s *Service) RefreshCorpus(ctx context.Context, source ArticleSource) (models.Stats, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	started := time.Now()

	articles, err := source.Articles(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("load articles: %w", err)
	}
	chunks := s.chunker.ChunkAll(articles)

	vectors, err := s.store.GetOrCompute(ctx, chunks)
	if err != nil {
		if apperrors.CodeOf(err) != apperrors.ErrCodeEmbeddingUnavailable || len(vectors) == 0 {
			return models.Stats{}, err
		}
		s.log.WithError(err).Warn("indexing around unresolvable chunks", map[string]interface{}{
			"resolved": len(vectors),
			"total":    len(chunks),
		})
	}

	gen, err := index.Build(chunks, vectors)
	if err != nil {
		return models.Stats{}, err
	}
	s.index.Swap(gen)

	keep := make([]string, 0, len(chunks))
	for _, c := range chunks {
		keep = append(keep, c.ID)
	}
	if err := s.store.PruneSnapshot(ctx, keep); err != nil {
		s.log.WithError(err).Warn("snapshot prune failed, stale vectors linger until next refresh", nil)
	}

	s.cache.Clear(ctx)

	s.log.Info("corpus refreshed", map[string]interface{}{
		"articles":    len(articles),
		"chunks":      gen.Len(),
		"generation":  gen.ID(),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return s.stats(ctx, gen), nil
}

// Stats reports the current operational snapshot.
func (s *Service) Stats(ctx context.Context) models.Stats {
	return s.stats(ctx, s.index.Current())
}

func (s *Service) stats(ctx context.Context, gen *index.Generation) models.Stats {
	cacheStats := s.store.CacheStats(ctx)
	fastTier, _ := cacheStats["fast_tier"].(bool)

	st := models.Stats{FastTier: fastTier}
	if gen == nil {
		return st
	}
	articles, bySource := gen.Stats()
	st.ArticlesIndexed = articles
	st.ChunksCreated = gen.Len()
	st.Sources = len(bySource)
	st.BySource = bySource
	st.EmbeddingsReady = gen.Len() > 0
	st.Generation = gen.ID()
	return st
}
