package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"factnews/internal/models"
)

// FileSource reads articles from a JSON file written by the external
// ingester. The file holds either a bare array of articles or an object
// with an "articles" field.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Articles(_ context.Context) ([]models.Article, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read article file: %w", err)
	}

	var articles []models.Article
	if err := json.Unmarshal(raw, &articles); err == nil {
		return articles, nil
	}

	var wrapped struct {
		Articles []models.Article `json:"articles"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("parse article file %s: %w", f.Path, err)
	}
	return wrapped.Articles, nil
}
