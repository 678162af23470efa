package models

import "time"

// Article is one ingested news item as handed over by the external
// ingester. The core never mutates articles.
type Article struct {
	ID      string    `json:"id"`
	Source  string    `json:"source"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	Date    time.Time `json:"date"`
	Content string    `json:"content"`
}

// Chunk is the atomic retrieval unit: a bounded span of article text with
// enough metadata to cite it. Immutable once created.
type Chunk struct {
	ID        string    `json:"chunk_id"`
	ArticleID string    `json:"article_id"`
	Ordinal   int       `json:"ordinal"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Date      time.Time `json:"date"`
}

// ScoredChunk pairs a chunk with its similarity to one query.
type ScoredChunk struct {
	Chunk
	Similarity float64 `json:"similarity_score"`
}

// EvidenceSet is the ordered retrieval result for one query. Transient,
// owned by the caller for the lifetime of one request.
type EvidenceSet struct {
	Chunks          []ScoredChunk `json:"chunks"`
	SourcesAnalyzed int           `json:"sources_analyzed"`
	Generation      string        `json:"generation"`
}

// Empty reports whether retrieval found no coverage. Not an error.
func (e EvidenceSet) Empty() bool { return len(e.Chunks) == 0 }
