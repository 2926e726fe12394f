// Package vector provides approximate nearest neighbour indexes keyed by uint64.
package vector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector's length differs from the index dimensionality.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrKeyExists is returned by Add when the key is already indexed. Indexes do not upsert.
	ErrKeyExists = errors.New("key already indexed")
	// ErrUnknownIndexType is returned by the factory and by Load for unsupported engines.
	ErrUnknownIndexType = errors.New("unknown index type")
)

// Index stores vectors under uint64 keys and answers k-nearest queries.
// Distances are "lower is more similar" for every metric.
// Implementations are safe for concurrent use.
type Index interface {
	Type() IndexType
	Options() Options

	// Add indexes vec under key. Adding a key that is already present fails with ErrKeyExists;
	// callers replace entries by removing them first.
	Add(key uint64, vec []float32) error
	// AddBatch validates every entry before inserting any of them.
	AddBatch(ctx context.Context, keys []uint64, vecs [][]float32) error
	// Remove reports whether key was present.
	Remove(key uint64) bool
	Contains(key uint64) bool
	// Get returns a copy of the stored vector (dequantized for i8 storage).
	Get(key uint64) ([]float32, bool)
	// Search returns up to k matches in ascending distance order.
	Search(ctx context.Context, query []float32, k int) ([]Match, error)

	Dimensions() int
	Size() int
	// Save writes the index to path atomically.
	Save(path string) error
	Close() error
}

// Match is a single search hit.
type Match struct {
	Key      uint64
	Distance float32
}

func checkDims(want int, vec []float32) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}

// validateBatch checks lengths, dimensions and duplicate keys for AddBatch.
func validateBatch(dims int, keys []uint64, vecs [][]float32, contains func(uint64) bool) error {
	if len(keys) != len(vecs) {
		return fmt.Errorf("keys and vectors length mismatch: %d keys, %d vectors", len(keys), len(vecs))
	}
	seen := make(map[uint64]struct{}, len(keys))
	for i, k := range keys {
		if err := checkDims(dims, vecs[i]); err != nil {
			return fmt.Errorf("key %d: %w", k, err)
		}
		if _, dup := seen[k]; dup || contains(k) {
			return fmt.Errorf("key %d: %w", k, ErrKeyExists)
		}
		seen[k] = struct{}{}
	}
	return nil
}
