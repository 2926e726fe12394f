package models

import "fmt"

// SearchRequest is a hybrid search over one collection. Either Query (embedded by the
// server) or Vector must be set.
type SearchRequest struct {
	Query          string    `json:"query,omitempty"`
	Vector         []float32 `json:"vector,omitempty"`
	Top            int       `json:"top,omitempty"`
	Skip           int       `json:"skip,omitempty"`
	Keywords       []string  `json:"keywords,omitempty"`
	MaxDistance    *float32  `json:"max_distance,omitempty"` // keep hits strictly closer than this
	TagsAll        []string  `json:"tags_all,omitempty"`     // value definitions must carry every tag
	IncludeVectors bool      `json:"include_vectors,omitempty"`
}

// Validate ensures the request has a query and normalizes the window.
// Top defaults to defaultTop and is capped at maxTop.
func (r *SearchRequest) Validate(defaultTop, maxTop int) error {
	if r.Query == "" && len(r.Vector) == 0 {
		return fmt.Errorf("query or vector is required")
	}
	if r.Skip < 0 {
		return fmt.Errorf("skip must not be negative")
	}
	if r.MaxDistance != nil && *r.MaxDistance <= 0 {
		return fmt.Errorf("max_distance must be positive")
	}
	if r.Top <= 0 {
		r.Top = defaultTop
	}
	if r.Top > maxTop {
		r.Top = maxTop
	}
	return nil
}

// ScoreFilter returns the distance predicate for MaxDistance, or nil.
func (r *SearchRequest) ScoreFilter() func(float32) bool {
	if r.MaxDistance == nil {
		return nil
	}
	limit := *r.MaxDistance
	return func(d float32) bool { return d < limit }
}
