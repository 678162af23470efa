package council

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"factnews/internal/models"
)

const answerSystemPrompt = `You are a strict fact extractor answering a question about current events.

ABSOLUTE CONSTRAINTS:
1. Use ONLY the numbered evidence chunks provided - no other information exists
2. Only state facts that are explicitly written in the chunks
3. Never add context, background, or general knowledge
4. Cite the source name and date for every fact you use
5. If the chunks do not cover the question, say so plainly`

const judgeSystemPrompt = `You are an impartial judge evaluating responses from multiple AI models that answered the same question from the same evidence.

Your task:
1. Read all model responses carefully
2. Identify points of AGREEMENT across models (high confidence facts)
3. Identify points of DISAGREEMENT or unique claims (lower confidence)
4. Synthesize the BEST possible answer by combining the strongest elements
5. Rank the models and name the best and worst performer

Respond with a raw JSON object matching this exact schema:
{
  "synthesis": "your synthesized best answer",
  "agreement_points": ["fact that 2+ models agree on", ...],
  "disagreement_points": ["claim where models differ", ...],
  "provider_rankings": [
    {"provider": "name", "score": 0.0-1.0, "reasoning": "brief justification"}
  ],
  "best_provider": "name",
  "worst_provider": "name",
  "confidence": 0.0-1.0
}`

// judgmentSchema is enforced on the judge's output before it becomes a
// Verdict. Anything that fails validation triggers the mechanical
// fallback path.
const judgmentSchema = `{
  "type": "object",
  "required": ["synthesis", "confidence"],
  "properties": {
    "synthesis": {"type": "string", "minLength": 1},
    "agreement_points": {"type": "array", "items": {"type": "string"}},
    "disagreement_points": {"type": "array", "items": {"type": "string"}},
    "provider_rankings": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["provider", "score"],
        "properties": {
          "provider": {"type": "string"},
          "score": {"type": "number", "minimum": 0, "maximum": 1},
          "reasoning": {"type": "string"}
        }
      }
    },
    "best_provider": {"type": "string"},
    "worst_provider": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`

var judgmentSchemaLoader = gojsonschema.NewStringLoader(judgmentSchema)

// buildEvidenceBlock renders chunks the way providers see them, one
// numbered source header per chunk.
func buildEvidenceBlock(chunks []models.ScoredChunk) string {
	sep := strings.Repeat("=", 80)
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		date := "Unknown"
		if !c.Date.IsZero() {
			date = c.Date.Format("2006-01-02")
		}
		parts = append(parts, fmt.Sprintf(
			"SOURCE %d: %s - %s\nDATE: %s\n%s\n%s\nURL: %s",
			i+1, c.Source, c.Title, date, sep, c.Text, c.URL,
		))
	}
	return strings.Join(parts, "\n\n"+sep+"\n\n")
}

func buildMemberPrompt(question string, chunks []models.ScoredChunk) string {
	return fmt.Sprintf(`User question: %s

You have %d news chunks below with dates.

If the chunks are not relevant, state that no relevant information was found. Otherwise answer the question using only the chunks, citing source names and dates.

Reference chunks:
%s`, question, len(chunks), buildEvidenceBlock(chunks))
}

func buildJudgePrompt(question string, results []models.ProviderResult) string {
	var transcript strings.Builder
	count := 0
	for _, r := range results {
		if r.Status != models.ProviderOK {
			continue
		}
		count++
		fmt.Fprintf(&transcript, "=== MODEL: %s ===\n%s\n\n", r.Provider, r.Answer)
	}
	return fmt.Sprintf(`The user asked: %q

%d models provided responses. Evaluate them and synthesize the best answer.

%s`, question, count, transcript.String())
}

// stripFences removes a markdown code fence wrapper if the model added
// one despite JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

type judgment struct {
	Synthesis          string                   `json:"synthesis"`
	AgreementPoints    []string                 `json:"agreement_points"`
	DisagreementPoints []string                 `json:"disagreement_points"`
	ProviderRankings   []models.ProviderRanking `json:"provider_rankings"`
	BestProvider       string                   `json:"best_provider"`
	WorstProvider      string                   `json:"worst_provider"`
	Confidence         float64                  `json:"confidence"`
}

// parseJudgment validates and decodes the judge's raw text.
func parseJudgment(raw string) (*judgment, error) {
	clean := stripFences(raw)

	result, err := gojsonschema.Validate(judgmentSchemaLoader, gojsonschema.NewStringLoader(clean))
	if err != nil {
		return nil, fmt.Errorf("judgment is not valid JSON: %w", err)
	}
	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}
		return nil, fmt.Errorf("judgment failed schema validation: %s", strings.Join(issues, "; "))
	}

	var j judgment
	if err := json.Unmarshal([]byte(clean), &j); err != nil {
		return nil, fmt.Errorf("decode judgment: %w", err)
	}
	return &j, nil
}
