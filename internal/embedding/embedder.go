// Package embedding implements the three-tier embedding store: a shared
// Redis fast tier, a durable local snapshot, and a remote embedding API as
// source of truth.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	apperrors "factnews/internal/common/errors"
)

// Embedder computes vectors for raw text. It is the source-of-truth tier:
// the store only calls it for texts absent from both caches, and always
// for queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// RESTEmbedder talks to an OpenAI-compatible /embeddings endpoint.
type RESTEmbedder struct {
	baseURL   string
	apiKey    string
	model     string
	batchSize int
	client    *http.Client
}

// NewRESTEmbedder builds the source-of-truth tier client. apiKeyEnv names
// the environment variable holding the key.
func NewRESTEmbedder(baseURL, apiKeyEnv, model string, batchSize int, timeout time.Duration) *RESTEmbedder {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &RESTEmbedder{
		baseURL:   baseURL,
		apiKey:    os.Getenv(apiKeyEnv),
		model:     model,
		batchSize: batchSize,
		client:    &http.Client{Timeout: timeout},
	}
}

func (e *RESTEmbedder) Model() string { return e.model }

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed computes vectors for texts, batching requests to the API limit.
// Order of the returned vectors matches the input order.
func (e *RESTEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *RESTEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding endpoint status %d: %s", resp.StatusCode, string(payload))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	dim := -1
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embedding endpoint returned out-of-range index %d", item.Index)
		}
		if dim == -1 {
			dim = len(item.Embedding)
		} else if len(item.Embedding) != dim {
			return nil, apperrors.NewDimensionMismatchError(dim, len(item.Embedding), "")
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
