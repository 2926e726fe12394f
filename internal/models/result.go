package models

// Hit is one search result in a response.
type Hit struct {
	Key     uint64    `json:"key"`
	Score   float32   `json:"score"`
	Summary string    `json:"summary"`
	Tags    []string  `json:"tags,omitempty"`
	Source  string    `json:"source,omitempty"`
	Vector  []float32 `json:"vector,omitempty"`
	Record  any       `json:"record"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Collection string `json:"collection"`
	Query      string `json:"query,omitempty"`
	Hits       []Hit  `json:"hits"`
	Total      int    `json:"total"`
	QueryTime  int64  `json:"query_time_ms"`
}

// Summarizer is implemented by every record type in this package.
type Summarizer interface {
	Summary() string
}

// NewHit builds a Hit from a record and its distance.
func NewHit(key uint64, score float32, record any) Hit {
	h := Hit{Key: key, Score: score, Record: record}
	if s, ok := record.(Summarizer); ok {
		h.Summary = s.Summary()
	}
	switch r := record.(type) {
	case *ValueDefinition:
		h.Tags, h.Source, h.Vector = r.Tags, r.Source, r.Embedding
	case *SchemaDefinition:
		h.Source, h.Vector = r.Source, r.Embedding
	case *Note:
		h.Source, h.Vector = r.Source, r.Embedding
	}
	return h
}
