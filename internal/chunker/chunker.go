// Package chunker splits articles into small sentence-aligned chunks for
// precise retrieval. Each chunk carries a source/date/title prefix so a
// chunk read in isolation still identifies where it came from.
package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"factnews/internal/models"
)

const (
	DefaultChunkSize    = 300
	DefaultOverlap      = 1
	DefaultMinChunkSize = 100
)

var sentenceBoundary = regexp.MustCompile(`(?:[.!?])\s+`)

// Chunker turns articles into retrieval chunks.
type Chunker struct {
	chunkSize        int
	overlapSentences int
	minChunkSize     int
}

func New(chunkSize, overlapSentences, minChunkSize int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlapSentences < 0 {
		overlapSentences = DefaultOverlap
	}
	if minChunkSize <= 0 {
		minChunkSize = DefaultMinChunkSize
	}
	return &Chunker{
		chunkSize:        chunkSize,
		overlapSentences: overlapSentences,
		minChunkSize:     minChunkSize,
	}
}

func splitSentences(text string) []string {
	matches := sentenceBoundary.FindAllStringIndex(text, -1)
	var out []string
	start := 0
	for _, m := range matches {
		s := strings.TrimSpace(text[start:m[0]+1])
		if s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func contextPrefix(a models.Article) string {
	prefix := fmt.Sprintf("[%s]", a.Source)
	if !a.Date.IsZero() {
		prefix += " " + a.Date.Format("2006-01-02")
	}
	if a.Title != "" {
		title := a.Title
		if runes := []rune(title); len(runes) > 60 {
			title = string(runes[:60]) + "..."
		}
		prefix += " " + title
	}
	return prefix + "\n"
}

// ArticleID derives a stable 12-hex id from the article URL (or title when
// the URL is missing), matching the id scheme embedded in chunk ids.
func ArticleID(a models.Article) string {
	unique := a.URL
	if unique == "" {
		unique = a.Title
	}
	sum := md5.Sum([]byte(unique))
	return hex.EncodeToString(sum[:])[:12]
}

// ChunkArticle splits one article into overlapping sentence-aligned chunks.
func (c *Chunker) ChunkArticle(a models.Article) []models.Chunk {
	sentences := splitSentences(a.Content)
	if len(sentences) == 0 {
		return nil
	}

	articleID := ArticleID(a)
	prefix := contextPrefix(a)
	effective := c.chunkSize - len(prefix)

	var chunks []models.Chunk
	var current []string
	currentLen := 0
	ordinal := 0

	emit := func() {
		text := prefix + strings.Join(current, " ")
		if len(strings.TrimSpace(text)) < c.minChunkSize {
			return
		}
		chunks = append(chunks, models.Chunk{
			ID:        fmt.Sprintf("%s_%d", articleID, ordinal),
			ArticleID: articleID,
			Ordinal:   ordinal,
			Text:      text,
			Source:    a.Source,
			Title:     a.Title,
			URL:       a.URL,
			Date:      a.Date,
		})
		ordinal++
	}

	for _, sentence := range sentences {
		if currentLen+len(sentence) > effective && len(current) > 0 {
			emit()
			overlapStart := len(current) - c.overlapSentences
			if overlapStart < 0 {
				overlapStart = 0
			}
			current = append([]string(nil), current[overlapStart:]...)
			currentLen = 0
			for _, s := range current {
				currentLen += len(s) + 1
			}
		}
		current = append(current, sentence)
		currentLen += len(sentence) + 1
	}
	if len(current) > 0 {
		emit()
	}

	return chunks
}

// ChunkAll chunks every article, preserving input order.
func (c *Chunker) ChunkAll(articles []models.Article) []models.Chunk {
	var all []models.Chunk
	for _, a := range articles {
		all = append(all, c.ChunkArticle(a)...)
	}
	return all
}
