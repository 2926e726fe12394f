// Package keyword matches records against keyword sets, in memory or through a Bleve index.
package keyword

import (
	"context"
	"strings"
)

// Value is the keyword-bearing field of a record: a single string or a list of strings.
type Value struct {
	Text   string
	List   []string
	IsList bool
}

// TextValue wraps a scalar string field.
func TextValue(s string) Value { return Value{Text: s} }

// ListValue wraps a list-of-strings field.
func ListValue(items ...string) Value { return Value{List: items, IsList: true} }

// Empty reports whether the field carries nothing to match against.
func (v Value) Empty() bool {
	if v.IsList {
		return len(v.List) == 0
	}
	return v.Text == ""
}

// Match reports whether any keyword matches v, ignoring case. Scalar fields match on
// substring, list fields on exact membership. Blank keywords are ignored.
func Match(v Value, keywords []string) bool {
	if v.IsList {
		for _, kw := range keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			for _, item := range v.List {
				if strings.EqualFold(item, kw) {
					return true
				}
			}
		}
		return false
	}
	text := strings.ToLower(v.Text)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Normalize drops blank keywords. A nil result means "no keyword filter".
func Normalize(keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

// Filter narrows a candidate key set to the keys whose keyword field matches.
// Implementations that keep their own copy of the fields are fed through Index and Delete.
type Filter interface {
	Index(ctx context.Context, values map[uint64]Value) error
	Delete(ctx context.Context, keys []uint64) error
	// Matching returns the subset of candidates that match any keyword. fields holds the
	// candidates' current field values as loaded from the record store.
	Matching(ctx context.Context, fields map[uint64]Value, keywords []string) (map[uint64]bool, error)
	Close() error
}

// MemoryFilter evaluates Match against the loaded records. It keeps no state.
type MemoryFilter struct{}

var _ Filter = MemoryFilter{}

func (MemoryFilter) Index(context.Context, map[uint64]Value) error { return nil }
func (MemoryFilter) Delete(context.Context, []uint64) error        { return nil }
func (MemoryFilter) Close() error                                   { return nil }

// Matching applies Match to each candidate.
func (MemoryFilter) Matching(_ context.Context, fields map[uint64]Value, keywords []string) (map[uint64]bool, error) {
	out := make(map[uint64]bool, len(fields))
	for k, v := range fields {
		if Match(v, keywords) {
			out[k] = true
		}
	}
	return out, nil
}
