package chunker

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"factnews/internal/models"
)

func testArticle(content string) models.Article {
	return models.Article{
		Source:  "reuters",
		Title:   "Central bank raises rates",
		URL:     "https://example.com/rates",
		Date:    time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Content: content,
	}
}

func TestChunkArticleCarriesContextPrefix(t *testing.T) {
	c := New(0, DefaultOverlap, 0)
	article := testArticle("The central bank raised its benchmark rate by half a percentage point on Friday. Officials cited persistent inflation in services. Markets had priced in a smaller move.")

	chunks := c.ChunkArticle(article)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.True(t, strings.HasPrefix(chunk.Text, "[reuters] 2026-03-14"), "chunk text %q", chunk.Text)
		assert.Contains(t, chunk.Text, "Central bank raises rates")
	}
}

func TestChunkArticleStableIDs(t *testing.T) {
	c := New(0, DefaultOverlap, 0)
	article := testArticle("First sentence about the economy. Second sentence with more detail. Third sentence wrapping things up nicely for readers.")

	first := c.ChunkArticle(article)
	second := c.ChunkArticle(article)
	require.Equal(t, len(first), len(second))

	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, fmt.Sprintf("%s_%d", first[i].ArticleID, first[i].Ordinal), first[i].ID)
	}
}

func TestChunkArticleSplitsLongContent(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Sentence number %d adds detail about the ongoing negotiations between the parties. ", i)
	}

	c := New(0, DefaultOverlap, 0)
	chunks := c.ChunkArticle(testArticle(sb.String()))
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Text), DefaultChunkSize+200, "chunks stay near the size target")
	}
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Ordinal)
	}
}

func TestChunkArticleOverlapRepeatsSentence(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Distinct sentence %d carries enough words to matter for the split. ", i)
	}

	c := New(0, 1, 0)
	chunks := c.ChunkArticle(testArticle(sb.String()))
	require.Greater(t, len(chunks), 1)

	// The last sentence of each chunk reappears at the start of the next
	// chunk body.
	for i := 1; i < len(chunks); i++ {
		prevBody := chunks[i-1].Text[strings.Index(chunks[i-1].Text, "\n")+1:]
		curBody := chunks[i].Text[strings.Index(chunks[i].Text, "\n")+1:]
		sentences := splitSentences(prevBody)
		require.NotEmpty(t, sentences)
		assert.True(t, strings.HasPrefix(curBody, sentences[len(sentences)-1]),
			"chunk %d should start with the previous chunk's last sentence", i)
	}
}

func TestChunkArticleTruncatesLongTitleOnRuneBoundary(t *testing.T) {
	c := New(0, DefaultOverlap, 0)
	article := testArticle("The summit produced a joint statement on energy cooperation between the two blocs. Delegates described the talks as unusually productive.")
	// The odd-length ascii lead puts byte offset 60 in the middle of a
	// two-byte rune.
	article.Title = "Bericht: " + strings.Repeat("ü", 64)
	require.Greater(t, len([]rune(article.Title)), 60)

	chunks := c.ChunkArticle(article)
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.True(t, utf8.ValidString(chunk.Text), "chunk text %q", chunk.Text)
		assert.Contains(t, chunk.Text, "...")
	}
}

func TestChunkArticleDropsTinyContent(t *testing.T) {
	c := New(0, DefaultOverlap, 200)
	chunks := c.ChunkArticle(testArticle("Too short."))
	assert.Empty(t, chunks)
}

func TestChunkArticleEmptyContent(t *testing.T) {
	c := New(0, DefaultOverlap, 0)
	assert.Empty(t, c.ChunkArticle(testArticle("")))
	assert.Empty(t, c.ChunkArticle(testArticle("   \n  ")))
}

func TestArticleIDFallsBackToTitle(t *testing.T) {
	withURL := models.Article{URL: "https://example.com/a", Title: "Some title"}
	withoutURL := models.Article{Title: "Some title"}

	assert.Len(t, ArticleID(withURL), 12)
	assert.Len(t, ArticleID(withoutURL), 12)
	assert.NotEqual(t, ArticleID(withURL), ArticleID(withoutURL))
	assert.Equal(t, ArticleID(withoutURL), ArticleID(models.Article{Title: "Some title"}))
}

func TestChunkAllPreservesOrder(t *testing.T) {
	c := New(0, DefaultOverlap, 0)
	a := testArticle("Article one has a single decent sentence about trade policy developments in Europe.")
	b := testArticle("Article two has a single decent sentence about energy markets and storage levels.")
	b.URL = "https://example.com/other"
	b.Source = "ap"

	chunks := c.ChunkAll([]models.Article{a, b})
	require.Len(t, chunks, 2)
	assert.Equal(t, "reuters", chunks[0].Source)
	assert.Equal(t, "ap", chunks[1].Source)
}
