package embedding

import (
	"context"

	"github.com/hyperjump/hako/internal/vector"
)

// HashEmbedder is a deterministic feature-hashing embedder. Each lowercased word and each
// character trigram is hashed to a signed bucket, so texts sharing words land close together.
// It needs no model file and is used for tests and model-less deployments.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

func (e *HashEmbedder) add(emb []float32, feature string, weight float32) {
	sum := hashFeature(feature)
	i := int(sum % uint64(e.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}
	emb[i] += weight
}

// Embed returns a unit-length embedding. Empty text embeds to the zero vector.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	for _, w := range Words(text) {
		e.add(emb, "w:"+w, 1)
		padded := []rune("^" + w + "$")
		for i := 0; i+3 <= len(padded); i++ {
			e.add(emb, "t:"+string(padded[i:i+3]), 0.5)
		}
	}
	vector.Normalize(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}
