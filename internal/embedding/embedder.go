// Package embedding turns text into vectors for hako collections.
package embedding

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Open returns the ONNX embedder for modelPath, or the hash embedder when modelPath is
// empty or missing. Both are wrapped in an LRU cache of cacheSize entries.
func Open(modelPath string, dimensions, maxTokens, cacheSize int, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var base Embedder
	if _, err := os.Stat(modelPath); modelPath != "" && err == nil {
		onnx, err := NewONNXEmbedder(modelPath, dimensions, maxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to load embedding model: %w", err)
		}
		logger.Info("loaded ONNX embedding model", zap.String("path", modelPath), zap.Int("dimensions", dimensions))
		base = onnx
	} else {
		if modelPath != "" {
			logger.Warn("embedding model not found, using hash embedder", zap.String("path", modelPath))
		}
		base = NewHashEmbedder(dimensions)
	}
	if cacheSize <= 0 {
		return base, nil
	}
	return NewCached(base, cacheSize), nil
}
