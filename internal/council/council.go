// Package council runs one question past a fixed roster of completion
// providers concurrently, then has a judge provider synthesize a single
// structured verdict from whatever subset answered.
package council

import (
	"context"
	"fmt"
	"sync"
	"time"

	"factnews/internal/common/config"
	apperrors "factnews/internal/common/errors"
	"factnews/internal/common/logger"
	"factnews/internal/common/metrics"
	"factnews/internal/common/observability"
	"factnews/internal/models"
	"factnews/internal/providers"
)

const (
	// fallbackConfidence marks verdicts assembled mechanically after a
	// judge failure. Low on purpose so callers can tell them apart.
	fallbackConfidence = 0.2

	defaultGlobalTimeout = 60 * time.Second
)

// Council owns the deliberation lifecycle. The roster and judge are
// fixed at construction; a deliberation never mutates shared state, so
// one Council serves concurrent callers.
type Council struct {
	registry      *providers.Registry
	members       []string
	judge         string
	fastProvider  string
	globalTimeout time.Duration
	log           logger.Logger
	obs           *observability.Observability
}

func New(registry *providers.Registry, cfg config.CouncilConfig, log logger.Logger, obs *observability.Observability) *Council {
	timeout := cfg.GlobalTimeout
	if timeout <= 0 {
		timeout = defaultGlobalTimeout
	}
	return &Council{
		registry:      registry,
		members:       cfg.Members,
		judge:         cfg.Judge,
		fastProvider:  cfg.FastProvider,
		globalTimeout: timeout,
		log:           log.With(map[string]interface{}{"component": "council"}),
		obs:           obs,
	}
}

type slotResult struct {
	idx    int
	result models.ProviderResult
}

// Deliberate fans the question out to every roster member at once,
// collects results under a global ceiling, and asks the judge to
// synthesize. One member failing never affects the others; a judge
// failure degrades the verdict instead of erroring; zero successful
// members yields an explicit no-deliberation verdict. The returned
// error is reserved for context cancellation of the caller itself.
func (c *Council) Deliberate(ctx context.Context, question string, evidence models.EvidenceSet) (*models.Verdict, error) {
	started := time.Now()

	results := c.collect(ctx, question, evidence.Chunks)

	okCount := 0
	for _, r := range results {
		if r.Status == models.ProviderOK {
			okCount++
		}
	}

	var verdict *models.Verdict
	var outcome string
	switch {
	case okCount == 0:
		verdict = c.noQuorumVerdict(results)
		outcome = "no_quorum"
	default:
		verdict, outcome = c.judgeVerdict(ctx, question, results)
	}

	verdict.Results = results
	verdict.ChunksUsed = len(evidence.Chunks)
	verdict.Generation = evidence.Generation

	elapsed := time.Since(started)
	metrics.CouncilDuration.WithLabelValues("consensus").Observe(elapsed.Seconds())
	if c.obs != nil {
		c.obs.RecordDeliberation(ctx, outcome)
		c.obs.RecordDeliberationDuration(ctx, elapsed, outcome)
	}
	c.log.Info("deliberation finished", map[string]interface{}{
		"outcome":     outcome,
		"ok":          okCount,
		"members":     len(c.members),
		"duration_ms": elapsed.Milliseconds(),
	})
	return verdict, nil
}

// collect dispatches every member call simultaneously and waits until
// all reach a terminal state or the global ceiling passes. Members that
// miss the ceiling are recorded as timeouts and their late responses
// discarded. The returned slice is in roster order regardless of
// completion order.
func (c *Council) collect(ctx context.Context, question string, chunks []models.ScoredChunk) []models.ProviderResult {
	collectCtx, cancel := context.WithTimeout(ctx, c.globalTimeout)
	defer cancel()

	req := providers.Request{
		Messages: []providers.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: buildMemberPrompt(question, chunks)},
		},
	}

	ch := make(chan slotResult, len(c.members))
	var wg sync.WaitGroup
	for i, name := range c.members {
		wg.Add(1)
		go func(idx int, name string) {
			defer wg.Done()
			ch <- slotResult{idx: idx, result: c.callMember(collectCtx, name, req)}
		}(i, name)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	results := make([]models.ProviderResult, len(c.members))
	received := make([]bool, len(c.members))
	pending := len(c.members)

	for pending > 0 {
		select {
		case slot, ok := <-ch:
			if !ok {
				pending = 0
				break
			}
			results[slot.idx] = slot.result
			received[slot.idx] = true
			pending--
		case <-collectCtx.Done():
			pending = 0
		}
	}

	// The channel is buffered to roster size, so goroutines still in
	// flight after the ceiling can send and exit without leaking.
	for i, got := range received {
		if got {
			continue
		}
		results[i] = models.ProviderResult{
			Provider:  c.members[i],
			Status:    models.ProviderTimeout,
			Latency:   c.globalTimeout,
			ErrorCode: string(apperrors.ErrCodeProviderTimeout),
		}
	}
	return results
}

func (c *Council) callMember(ctx context.Context, name string, req providers.Request) models.ProviderResult {
	started := time.Now()

	provider, err := c.registry.Get(name)
	if err != nil {
		return models.ProviderResult{
			Provider:  name,
			Status:    models.ProviderErrored,
			ErrorCode: string(apperrors.ErrCodeProviderUnavailable),
		}
	}

	completion, err := provider.Complete(ctx, req)
	latency := time.Since(started)
	if err != nil {
		code := apperrors.CodeOf(err)
		status := models.ProviderErrored
		if code == apperrors.ErrCodeProviderTimeout {
			status = models.ProviderTimeout
		}
		c.log.WithError(err).Warn("council member failed", map[string]interface{}{
			"member":     name,
			"latency_ms": latency.Milliseconds(),
		})
		return models.ProviderResult{
			Provider:  name,
			Status:    status,
			Latency:   latency,
			ErrorCode: string(code),
		}
	}

	return models.ProviderResult{
		Provider: name,
		Status:   models.ProviderOK,
		Latency:  latency,
		Answer:   completion.Content,
		Model:    completion.Model,
	}
}

// judgeVerdict runs the judging step over the successful answers. Any
// judge failure, transport or schema, falls back to the mechanical
// verdict rather than surfacing an error.
func (c *Council) judgeVerdict(ctx context.Context, question string, results []models.ProviderResult) (*models.Verdict, string) {
	judge, err := c.registry.Get(c.judge)
	if err != nil {
		c.log.WithError(err).Error("judge provider missing", nil)
		return c.fallbackVerdict(results), "degraded"
	}

	completion, err := judge.Complete(ctx, providers.Request{
		Messages: []providers.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: buildJudgePrompt(question, results)},
		},
		JSONMode: true,
	})
	if err != nil {
		c.log.WithError(apperrors.NewJudgeFailureError(c.judge, err)).Error("judge call failed", nil)
		return c.fallbackVerdict(results), "degraded"
	}

	j, err := parseJudgment(completion.Content)
	if err != nil {
		c.log.WithError(apperrors.NewJudgeFailureError(c.judge, err)).Error("judge output rejected", nil)
		return c.fallbackVerdict(results), "degraded"
	}

	return &models.Verdict{
		Synthesis:          j.Synthesis,
		AgreementPoints:    j.AgreementPoints,
		DisagreementPoints: j.DisagreementPoints,
		Rankings:           j.ProviderRankings,
		Best:               j.BestProvider,
		Worst:              j.WorstProvider,
		Confidence:         j.Confidence,
		Judge:              c.judge,
	}, "judged"
}

// fallbackVerdict assembles a verdict mechanically when the judge is
// unusable: the longest successful answer stands in for a synthesis and
// the confidence is pinned low.
func (c *Council) fallbackVerdict(results []models.ProviderResult) *models.Verdict {
	var synthesis, best string
	for _, r := range results {
		if r.Status == models.ProviderOK && len(r.Answer) > len(synthesis) {
			synthesis = r.Answer
			best = r.Provider
		}
	}
	return &models.Verdict{
		Synthesis:  synthesis,
		Best:       best,
		Confidence: fallbackConfidence,
		Degraded:   true,
	}
}

func (c *Council) noQuorumVerdict(results []models.ProviderResult) *models.Verdict {
	return &models.Verdict{
		Synthesis: fmt.Sprintf(
			"No deliberation was possible: all %d council members failed to respond. No answer can be provided for this question right now.",
			len(results)),
		Confidence: 0,
		Degraded:   true,
	}
}

// Fast answers with a single configured provider and no judging step.
// Evidence grounding is identical to the full deliberation path.
func (c *Council) Fast(ctx context.Context, question string, evidence models.EvidenceSet) (*models.FastAnswer, error) {
	started := time.Now()

	name := c.fastProvider
	if name == "" && len(c.members) > 0 {
		name = c.members[0]
	}
	provider, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.globalTimeout)
	defer cancel()

	completion, err := provider.Complete(ctx, providers.Request{
		Messages: []providers.Message{
			{Role: "system", Content: answerSystemPrompt},
			{Role: "user", Content: buildMemberPrompt(question, evidence.Chunks)},
		},
	})

	elapsed := time.Since(started)
	metrics.CouncilDuration.WithLabelValues("fast").Observe(elapsed.Seconds())
	if err != nil {
		if c.obs != nil {
			c.obs.RecordDeliberation(ctx, "fast_error")
		}
		return nil, err
	}
	if c.obs != nil {
		c.obs.RecordDeliberation(ctx, "fast")
		c.obs.RecordDeliberationDuration(ctx, elapsed, "fast")
	}

	return &models.FastAnswer{
		Answer:     completion.Content,
		Provider:   name,
		Model:      completion.Model,
		Confidence: 0.5,
		ChunksUsed: len(evidence.Chunks),
		Generation: evidence.Generation,
	}, nil
}
