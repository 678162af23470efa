package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"factnews/internal/common/database"
	apperrors "factnews/internal/common/errors"
	"factnews/internal/common/logger"
	"factnews/internal/common/metrics"
	"factnews/internal/models"
)

// Redis key namespaces. Vectors are stored as raw little-endian float32
// bytes, which avoids serialization overhead entirely.
const (
	chunkKeyPrefix = "emb:chunk:"
	queryKeyPrefix = "emb:query:"
)

// Store resolves embeddings through three tiers: Redis fast tier, durable
// snapshot, then the remote embedder as source of truth. Each tier is a
// strict fallback of the previous; losing the fast tier costs latency,
// losing the snapshot costs recomputation, and only losing the embedder
// for vectors absent from both caches is fatal for those chunks.
type Store struct {
	redis    *database.RedisClient
	snapshot *Snapshot
	embedder Embedder
	chunkTTL time.Duration
	queryTTL time.Duration
	log      logger.Logger

	syncWrites bool
	fastWarn   sync.Once
	wg         sync.WaitGroup
}

// Option adjusts Store behavior.
type Option func(*Store)

// WithSyncWrites makes cache write-through synchronous. Only used by
// tests that need deterministic tier state.
func WithSyncWrites() Option {
	return func(s *Store) { s.syncWrites = true }
}

func NewStore(rdb *database.RedisClient, snapshot *Snapshot, embedder Embedder, chunkTTL, queryTTL time.Duration, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		redis:    rdb,
		snapshot: snapshot,
		embedder: embedder,
		chunkTTL: chunkTTL,
		queryTTL: queryTTL,
		log:      log.With(map[string]interface{}{"component": "embedding_store"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close waits for in-flight background cache writes to settle.
func (s *Store) Close() {
	s.wg.Wait()
}

func chunkKey(id string) string { return chunkKeyPrefix + id }

func queryKey(query string) string {
	digest := sha256.Sum256([]byte(query))
	return queryKeyPrefix + hex.EncodeToString(digest[:])[:32]
}

func encodeVector(vec []float32) []byte {
	raw := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	return raw
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("vector payload of %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}

// fastTierError logs a fast-tier failure once and counts it. The tier is
// bypassed, never surfaced to the caller.
func (s *Store) fastTierError(err error) {
	metrics.EmbeddingTierErrors.WithLabelValues("fast").Inc()
	s.fastWarn.Do(func() {
		s.log.WithError(apperrors.NewCacheUnavailableError("fast", err)).
			Warn("fast tier unreachable, serving from slower tiers", nil)
	})
}

func (s *Store) background(fn func()) {
	if s.syncWrites {
		fn()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// GetOrCompute returns a vector for every chunk it can resolve, walking
// fast tier, snapshot, then the embedder. The returned map may be partial:
// when some chunks cannot be resolved by any tier the error is an
// EMBEDDING_UNAVAILABLE StandardError naming exactly those chunk ids, and
// unrelated chunks in the same call are unaffected.
func (s *Store) GetOrCompute(ctx context.Context, chunks []models.Chunk) (map[string][]float32, error) {
	resolved := make(map[string][]float32, len(chunks))
	if len(chunks) == 0 {
		return resolved, nil
	}

	byID := make(map[string]models.Chunk, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, dup := byID[c.ID]; dup {
			continue
		}
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	missing := s.fromFastTier(ctx, ids, resolved)
	missing = s.fromSnapshot(ctx, missing, resolved)

	if len(missing) == 0 {
		return resolved, nil
	}

	computed, failed := s.fromSource(ctx, missing, byID)
	for id, vec := range computed {
		resolved[id] = vec
	}

	if len(computed) > 0 {
		s.writeThrough(computed)
	}

	if len(failed) > 0 {
		return resolved, apperrors.NewEmbeddingUnavailableError(
			fmt.Sprintf("%d of %d chunks unresolvable", len(failed), len(ids)), failed)
	}
	return resolved, nil
}

// fromFastTier fills resolved from Redis and returns the ids still missing.
func (s *Store) fromFastTier(ctx context.Context, ids []string, resolved map[string][]float32) []string {
	if !s.redis.Available() {
		return ids
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = chunkKey(id)
	}
	values, err := s.redis.MGetBytes(ctx, keys...)
	if err != nil {
		s.fastTierError(err)
		return ids
	}
	var missing []string
	for i, raw := range values {
		if raw == nil {
			missing = append(missing, ids[i])
			continue
		}
		vec, err := decodeVector(raw)
		if err != nil {
			// Treat a corrupt entry as a miss; it will be rewritten.
			missing = append(missing, ids[i])
			continue
		}
		resolved[ids[i]] = vec
		metrics.EmbeddingTierHits.WithLabelValues("fast").Inc()
	}
	return missing
}

// fromSnapshot fills resolved from the durable tier and repopulates the
// fast tier for any hits. Lock-acquisition timeouts skip the tier rather
// than stall the request.
func (s *Store) fromSnapshot(ctx context.Context, missing []string, resolved map[string][]float32) []string {
	if len(missing) == 0 || s.snapshot == nil {
		return missing
	}
	table, err := s.snapshot.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			s.log.Warn("snapshot busy, deferring to source tier", map[string]interface{}{"missing": len(missing)})
		} else {
			metrics.EmbeddingTierErrors.WithLabelValues("durable").Inc()
			s.log.WithError(err).Warn("snapshot unreadable, deferring to source tier", nil)
		}
		return missing
	}

	var still []string
	repopulate := make(map[string][]byte)
	for _, id := range missing {
		vec, ok := table.Vectors[id]
		if !ok {
			still = append(still, id)
			continue
		}
		resolved[id] = vec
		repopulate[chunkKey(id)] = encodeVector(vec)
		metrics.EmbeddingTierHits.WithLabelValues("durable").Inc()
	}

	if len(repopulate) > 0 && s.redis.Available() {
		s.background(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.redis.PipelineSetBytes(ctx, repopulate, s.chunkTTL); err != nil {
				s.fastTierError(err)
			}
		})
	}
	return still
}

// fromSource computes vectors for the remaining ids. A failed batch is
// retried per chunk so one poisoned text cannot take down its batchmates.
func (s *Store) fromSource(ctx context.Context, missing []string, byID map[string]models.Chunk) (map[string][]float32, []string) {
	texts := make([]string, len(missing))
	for i, id := range missing {
		texts[i] = byID[id].Text
	}

	computed := make(map[string][]float32, len(missing))
	vectors, err := s.embedder.Embed(ctx, texts)
	if err == nil {
		for i, vec := range vectors {
			computed[missing[i]] = vec
			metrics.EmbeddingTierHits.WithLabelValues("source").Inc()
		}
		return computed, nil
	}

	s.log.WithError(err).Warn("batch embed failed, isolating per chunk", map[string]interface{}{"chunks": len(missing)})
	metrics.EmbeddingTierErrors.WithLabelValues("source").Inc()

	var failed []string
	for i, id := range missing {
		if ctx.Err() != nil {
			failed = append(failed, missing[i:]...)
			break
		}
		one, err := s.embedder.Embed(ctx, []string{texts[i]})
		if err != nil || len(one) != 1 {
			failed = append(failed, id)
			continue
		}
		computed[id] = one[0]
		metrics.EmbeddingTierHits.WithLabelValues("source").Inc()
	}
	return computed, failed
}

// writeThrough persists freshly computed vectors to both cache tiers.
// Fire-and-forget: the caller never waits on cache repopulation.
func (s *Store) writeThrough(computed map[string][]float32) {
	snapshotCopy := make(map[string][]float32, len(computed))
	fastCopy := make(map[string][]byte, len(computed))
	for id, vec := range computed {
		snapshotCopy[id] = vec
		fastCopy[chunkKey(id)] = encodeVector(vec)
	}

	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if s.snapshot != nil {
			if err := s.snapshot.Merge(ctx, snapshotCopy); err != nil {
				metrics.EmbeddingTierErrors.WithLabelValues("durable").Inc()
				s.log.WithError(err).Warn("snapshot merge failed, vectors remain cached in fast tier only", nil)
			}
		}
		if s.redis.Available() {
			if err := s.redis.PipelineSetBytes(ctx, fastCopy, s.chunkTTL); err != nil {
				s.fastTierError(err)
			}
		}
	})
}

// QueryVector embeds a free-text query. Queries are never chunks, so the
// durable snapshot is not consulted: fast tier, then source of truth.
func (s *Store) QueryVector(ctx context.Context, query string) ([]float32, error) {
	key := queryKey(query)
	if s.redis.Available() {
		raw, err := s.redis.GetBytes(ctx, key)
		if err != nil {
			s.fastTierError(err)
		} else if raw != nil {
			if vec, err := decodeVector(raw); err == nil {
				metrics.EmbeddingTierHits.WithLabelValues("fast").Inc()
				return vec, nil
			}
		}
	}

	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) != 1 {
		details := "query embedding failed"
		if err != nil {
			details = err.Error()
		}
		return nil, apperrors.NewEmbeddingUnavailableError(details, nil)
	}
	vec := vectors[0]
	metrics.EmbeddingTierHits.WithLabelValues("source").Inc()

	if s.redis.Available() {
		encoded := encodeVector(vec)
		s.background(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.redis.SetBytes(ctx, key, encoded, s.queryTTL); err != nil {
				s.fastTierError(err)
			}
		})
	}
	return vec, nil
}

// PruneSnapshot drops durable vectors for chunks that no longer exist.
func (s *Store) PruneSnapshot(ctx context.Context, keep []string) error {
	if s.snapshot == nil {
		return nil
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	return s.snapshot.Prune(ctx, keepSet)
}

// CacheStats reports fast-tier occupancy for the stats surface.
func (s *Store) CacheStats(ctx context.Context) map[string]interface{} {
	stats := map[string]interface{}{"fast_tier": s.redis.Available()}
	if !s.redis.Available() {
		return stats
	}
	if n, err := s.redis.CountKeys(ctx, chunkKeyPrefix+"*"); err == nil {
		stats["cached_chunks"] = n
	}
	if n, err := s.redis.CountKeys(ctx, queryKeyPrefix+"*"); err == nil {
		stats["cached_queries"] = n
	}
	return stats
}
