package service

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factnews/internal/chunker"
	"factnews/internal/common/config"
	"factnews/internal/common/database"
	"factnews/internal/common/logger"
	"factnews/internal/council"
	"factnews/internal/embedding"
	"factnews/internal/index"
	"factnews/internal/models"
	"factnews/internal/providers"
	"factnews/internal/respcache"
	"factnews/internal/retrieval"
)

// fixedEmbedder maps every text to the same unit vector so retrieval
// always matches.
type fixedEmbedder struct {
	embedded atomic.Int32
}

func (f *fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		f.embedded.Add(1)
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fixedEmbedder) Model() string { return "fake-embed-1" }

type memberStub struct {
	name   string
	answer string
	calls  atomic.Int32
}

func (m *memberStub) Name() string { return m.name }

func (m *memberStub) Complete(_ context.Context, _ providers.Request) (*providers.Completion, error) {
	m.calls.Add(1)
	return &providers.Completion{Content: m.answer, Model: "stub-model", Provider: m.name}, nil
}

type staticSource struct {
	articles []models.Article
}

func (s *staticSource) Articles(context.Context) ([]models.Article, error) {
	return s.articles, nil
}

const judgeAnswer = `{
	"synthesis": "Judged synthesis of all answers.",
	"agreement_points": ["both members agree"],
	"disagreement_points": [],
	"provider_rankings": [{"provider": "m1", "score": 0.9, "reasoning": "clear"}],
	"best_provider": "m1",
	"worst_provider": "m2",
	"confidence": 0.75
}`

type fixture struct {
	svc    *Service
	member *memberStub
	judge  *memberStub
	source *staticSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)
	rdb := database.NewRedisFromClient(nil)

	snap := embedding.NewSnapshot(filepath.Join(t.TempDir(), "vectors.bin"), time.Second)
	store := embedding.NewStore(rdb, snap, &fixedEmbedder{}, time.Hour, time.Hour, log, embedding.WithSyncWrites())

	ix := index.New()
	engine := retrieval.NewEngine(store, ix, 10, 5, 0, log)

	member := &memberStub{name: "m1", answer: "member answer about the news"}
	judge := &memberStub{name: "judge", answer: judgeAnswer}
	registry := providers.NewRegistry(nil, log)
	registry.Register(member)
	registry.Register(judge)

	con := council.New(registry, config.CouncilConfig{
		Members:       []string{"m1"},
		Judge:         "judge",
		FastProvider:  "m1",
		GlobalTimeout: 5 * time.Second,
	}, log, nil)

	cache := respcache.New(rdb, time.Hour, 50, log)
	svc := New(chunker.New(0, chunker.DefaultOverlap, 0), store, ix, engine, con, cache, log)

	source := &staticSource{articles: []models.Article{
		{
			Source:  "reuters",
			Title:   "Central bank raises rates",
			URL:     "https://example.com/rates",
			Date:    time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			Content: "The central bank raised its benchmark rate by half a point on Friday. Officials cited persistent inflation in services and housing costs across the region.",
		},
		{
			Source:  "ap",
			Title:   "Markets react to rate decision",
			URL:     "https://example.com/markets",
			Date:    time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
			Content: "Stock markets fell sharply after the surprise rate decision was announced. Bond yields climbed to their highest level in over a year following the move.",
		},
	}}

	return &fixture{svc: svc, member: member, judge: judge, source: source}
}

func TestAskWithoutCorpusReturnsNoCoverage(t *testing.T) {
	f := newFixture(t)

	answer, err := f.svc.Ask(context.Background(), "what happened to rates", ModeConsensus)
	require.NoError(t, err)
	require.NotNil(t, answer.Verdict)
	assert.Zero(t, answer.Verdict.Confidence)
	assert.Contains(t, answer.Verdict.Synthesis, "No relevant news coverage")
	assert.Equal(t, int32(0), f.member.calls.Load(), "no evidence means no provider calls")
}

func TestAskRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Ask(context.Background(), "question", Mode("turbo"))
	require.Error(t, err)
}

func TestModeAcceptsWireLiterals(t *testing.T) {
	assert.True(t, Mode("consensus").Valid())
	assert.True(t, Mode("fast").Valid())
	assert.False(t, Mode("").Valid())

	f := newFixture(t)
	answer, err := f.svc.Ask(context.Background(), "what happened to rates", Mode("consensus"))
	require.NoError(t, err)
	assert.Equal(t, ModeConsensus, answer.Mode)
}

func TestRefreshCorpusThenAsk(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stats, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ArticlesIndexed)
	assert.Equal(t, 2, stats.Sources)
	assert.Greater(t, stats.ChunksCreated, 0)
	assert.NotEmpty(t, stats.Generation)

	answer, err := f.svc.Ask(ctx, "what happened to rates", ModeConsensus)
	require.NoError(t, err)
	require.NotNil(t, answer.Verdict)
	assert.Equal(t, "Judged synthesis of all answers.", answer.Verdict.Synthesis)
	assert.False(t, answer.Cached)
	assert.NotEmpty(t, answer.Evidence)
	assert.Equal(t, 2, answer.SourcesAnalyzed)
	assert.Equal(t, stats.Generation, answer.Generation)
}

func TestAskServesRepeatFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	first, err := f.svc.Ask(ctx, "what happened to rates", ModeConsensus)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	callsAfterFirst := f.member.calls.Load()

	second, err := f.svc.Ask(ctx, "What  Happened To Rates", ModeConsensus)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Verdict.Synthesis, second.Verdict.Synthesis)
	assert.Equal(t, callsAfterFirst, f.member.calls.Load(), "cache hits must not call providers")
}

func TestRefreshInvalidatesCachedAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	_, err = f.svc.Ask(ctx, "what happened to rates", ModeConsensus)
	require.NoError(t, err)
	callsAfterFirst := f.member.calls.Load()

	// A refresh produces a new generation; the old answer may not survive.
	_, err = f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, "what happened to rates", ModeConsensus)
	require.NoError(t, err)
	assert.False(t, answer.Cached)
	assert.Greater(t, f.member.calls.Load(), callsAfterFirst)
}

func TestAskFastMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	answer, err := f.svc.Ask(ctx, "what happened to rates", ModeFast)
	require.NoError(t, err)
	require.NotNil(t, answer.Fast)
	assert.Nil(t, answer.Verdict)
	assert.Equal(t, "member answer about the news", answer.Fast.Answer)
	assert.Equal(t, "m1", answer.Fast.Provider)
	assert.Equal(t, int32(0), f.judge.calls.Load(), "fast mode skips the judge")
}

func TestAskStreamPhases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	var phases []string
	var final *Answer
	for ev := range f.svc.AskStream(ctx, "what happened to rates", ModeConsensus) {
		phases = append(phases, ev.Phase)
		if ev.Phase == PhaseComplete {
			final = ev.Answer
		}
	}

	assert.Equal(t, []string{PhaseSearching, PhaseAnalyzing, PhaseGenerating, PhaseComplete}, phases)
	require.NotNil(t, final)
	assert.Equal(t, "Judged synthesis of all answers.", final.Verdict.Synthesis)
}

func TestAskStreamCachedSkipsToComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)
	_, err = f.svc.Ask(ctx, "what happened to rates", ModeConsensus)
	require.NoError(t, err)

	var phases []string
	for ev := range f.svc.AskStream(ctx, "what happened to rates", ModeConsensus) {
		phases = append(phases, ev.Phase)
	}
	assert.Equal(t, []string{PhaseComplete}, phases)
}

func TestSearchPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	evidence, err := f.svc.SearchPreview(ctx, "rate decision", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, evidence.Chunks)
	assert.LessOrEqual(t, len(evidence.Chunks), 3)
	assert.Equal(t, int32(0), f.member.calls.Load())
}

func TestStatsBeforeAndAfterRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.svc.Stats(ctx)
	assert.Zero(t, before.ArticlesIndexed)
	assert.False(t, before.EmbeddingsReady)

	_, err := f.svc.RefreshCorpus(ctx, f.source)
	require.NoError(t, err)

	after := f.svc.Stats(ctx)
	assert.Equal(t, 2, after.ArticlesIndexed)
	assert.True(t, after.EmbeddingsReady)
	assert.Equal(t, 2, after.Sources)
	assert.Contains(t, after.BySource, "reuters")
	assert.Contains(t, after.BySource, "ap")
}
