package models

import "time"

// ProviderStatus is the terminal state of one provider call inside a
// deliberation.
type ProviderStatus string

const (
	ProviderOK      ProviderStatus = "ok"
	ProviderErrored ProviderStatus = "error"
	ProviderTimeout ProviderStatus = "timeout"
)

// ProviderResult is one provider's contribution to a deliberation.
// Results are always reported in council configuration order, never in
// call-completion order.
type ProviderResult struct {
	Provider  string         `json:"provider"`
	Status    ProviderStatus `json:"status"`
	Latency   time.Duration  `json:"latency_ms"`
	Answer    string         `json:"answer,omitempty"`
	Model     string         `json:"model,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
}

// ProviderRanking is the judge's score for one provider.
type ProviderRanking struct {
	Provider  string  `json:"provider"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// Verdict is the structured output of one deliberation. Immutable after
// creation; the judge is its only source unless the judge itself failed,
// in which case Degraded is set and the synthesis is derived mechanically.
type Verdict struct {
	Synthesis          string            `json:"synthesis"`
	AgreementPoints    []string          `json:"agreement_points"`
	DisagreementPoints []string          `json:"disagreement_points"`
	Rankings           []ProviderRanking `json:"provider_rankings"`
	Best               string            `json:"best_provider,omitempty"`
	Worst              string            `json:"worst_provider,omitempty"`
	Confidence         float64           `json:"confidence"`
	Degraded           bool              `json:"degraded,omitempty"`

	Judge      string           `json:"judge,omitempty"`
	Results    []ProviderResult `json:"results,omitempty"`
	ChunksUsed int              `json:"chunks_used"`
	Generation string           `json:"generation,omitempty"`
}

// FastAnswer is the single-provider response used in fast mode. Same
// evidence grounding, no judging step.
type FastAnswer struct {
	Answer     string  `json:"answer"`
	Provider   string  `json:"provider"`
	Model      string  `json:"model,omitempty"`
	Confidence float64 `json:"confidence"`
	ChunksUsed int     `json:"chunks_used"`
	Generation string  `json:"generation,omitempty"`
}

// Stats is the operational snapshot exposed to the external collaborator.
type Stats struct {
	ArticlesIndexed int            `json:"articles_indexed"`
	ChunksCreated   int            `json:"chunks_created"`
	Sources         int            `json:"sources"`
	BySource        map[string]int `json:"by_source,omitempty"`
	EmbeddingsReady bool           `json:"embeddings_ready"`
	Generation      string         `json:"generation,omitempty"`
	FastTier        bool           `json:"fast_tier_available"`
}
