package vector

import "fmt"

// NewIndex creates an empty index of the given type. An empty type selects HNSW.
func NewIndex(indexType IndexType, opts Options) (Index, error) {
	switch indexType {
	case IndexTypeHNSW, "":
		return NewHNSWIndex(opts)
	case IndexTypeFlat:
		return NewFlatIndex(opts)
	default:
		return nil, fmt.Errorf("%w: %s (supported: hnsw, flat)", ErrUnknownIndexType, indexType)
	}
}

// FileExtension returns the index file extension used for an engine.
func FileExtension(indexType IndexType) string {
	if indexType == IndexTypeFlat {
		return ".flat"
	}
	return ".hnsw"
}
