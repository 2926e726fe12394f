package vectorstore

import (
	"errors"
	"fmt"

	"github.com/hyperjump/hako/internal/vector"
)

var (
	// ErrInvalidConfig wraps every configuration error raised by New.
	ErrInvalidConfig = errors.New("invalid vector store configuration")
	// ErrInvalidName is returned for collection names that sanitize to nothing.
	ErrInvalidName = errors.New("invalid collection name")
	// ErrCollectionNotFound is returned by OpenExisting for a collection that was never created.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("vector store is closed")
)

// DimensionMismatchError reports a vector whose length differs from the collection's
// dimensionality. HasKey is false when the offending vector is a search query.
type DimensionMismatchError struct {
	Key      uint64
	HasKey   bool
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	if e.HasKey {
		return fmt.Sprintf("record %d: vector has %d dimensions, collection expects %d", e.Key, e.Actual, e.Expected)
	}
	return fmt.Sprintf("query vector has %d dimensions, collection expects %d", e.Actual, e.Expected)
}

// Unwrap lets callers match with errors.Is(err, vector.ErrDimensionMismatch).
func (e *DimensionMismatchError) Unwrap() error {
	return vector.ErrDimensionMismatch
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
