package vectorstore

import (
	"strings"

	"github.com/hyperjump/hako/internal/keyword"
)

// Record is the shape every collection element implements. R is normally a pointer
// type so that SetVector and decoding can mutate it.
type Record interface {
	Key() uint64
	Vector() []float32
	SetVector([]float32)
}

// KeywordRecord is implemented by records that carry a keyword-bearing field.
type KeywordRecord interface {
	Keywords() keyword.Value
}

// SearchResult pairs a record with its distance to the query. Lower is closer.
type SearchResult[R Record] struct {
	Record R
	Score  float32
}

// SanitizeName maps a collection name onto [A-Za-z0-9_] by replacing every other rune
// with an underscore. The result names both the index file and the record partition.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
