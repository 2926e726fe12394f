package vectorstore

import (
	"context"
	"iter"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hyperjump/hako/internal/keyword"
)

// DefaultTop is the result window used when SearchOptions.Top is not positive.
const DefaultTop = 3

// SearchOptions narrows a hybrid search. The zero value is a plain vector search for DefaultTop results.
type SearchOptions[R Record] struct {
	Top  int
	Skip int
	// Keywords keep records whose keyword field matches any of them. Ignored when the
	// collection has no keyword field.
	Keywords []string
	// Filter is applied to each loaded record after keyword filtering.
	Filter func(R) bool
	// ScoreFilter is applied to raw distances before any record is loaded.
	ScoreFilter func(float32) bool
	// IncludeVectors copies each result's vector back from the index.
	IncludeVectors bool
}

// Results is a ranked, finite result sequence. The search runs when the sequence is first
// iterated, and it can be iterated only once.
type Results[R Record] struct {
	c     *Collection[R]
	ctx   context.Context
	query []float32
	opts  SearchOptions[R]
	used  atomic.Bool
}

// All yields results in ascending score order. A failed search yields a single error.
// Iterating a second time yields nothing.
func (rs *Results[R]) All() iter.Seq2[SearchResult[R], error] {
	return func(yield func(SearchResult[R], error) bool) {
		if !rs.used.CompareAndSwap(false, true) {
			return
		}
		items, err := rs.c.run(rs.ctx, rs.query, rs.opts)
		if err != nil {
			yield(SearchResult[R]{}, err)
			return
		}
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

// Collect drains the sequence into a slice.
func (rs *Results[R]) Collect() ([]SearchResult[R], error) {
	var out []SearchResult[R]
	for r, err := range rs.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Search runs a hybrid search: ANN over-fetch, score filter, record load, keyword filter,
// predicate, ranking, then the skip/top window. The query length is checked immediately;
// everything else happens on iteration.
func (c *Collection[R]) Search(ctx context.Context, query []float32, opts SearchOptions[R]) (*Results[R], error) {
	if len(query) != c.store.cfg.Dimensions {
		return nil, &DimensionMismatchError{Expected: c.store.cfg.Dimensions, Actual: len(query)}
	}
	q := make([]float32, len(query))
	copy(q, query)
	return &Results[R]{c: c, ctx: ctx, query: q, opts: opts}, nil
}

// VectorSearch is Search without keyword, predicate or score filters.
func (c *Collection[R]) VectorSearch(ctx context.Context, query []float32, top, skip int, includeVectors bool) (*Results[R], error) {
	return c.Search(ctx, query, SearchOptions[R]{Top: top, Skip: skip, IncludeVectors: includeVectors})
}

// fetchCount is the number of ANN candidates requested for a window.
func (c *Collection[R]) fetchCount(top, skip int) int {
	return max(c.store.cfg.BaseFetchCount, (top+skip)*c.store.cfg.FetchMultiplier)
}

func (c *Collection[R]) run(ctx context.Context, query []float32, opts SearchOptions[R]) (out []SearchResult[R], err error) {
	start := time.Now()
	candidates := 0
	defer func() {
		c.store.metrics.RecordSearch(c.name, candidates, len(out), time.Since(start), err)
	}()

	top := opts.Top
	if top <= 0 {
		top = DefaultTop
	}
	skip := max(opts.Skip, 0)

	st, unlock, err := c.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	matches, err := st.index.Search(ctx, query, c.fetchCount(top, skip))
	if err != nil {
		return nil, err
	}
	candidates = len(matches)
	if len(matches) == 0 {
		return nil, nil
	}

	keys := make([]uint64, 0, len(matches))
	scores := make(map[uint64]float32, len(matches))
	for _, m := range matches {
		if opts.ScoreFilter != nil && !opts.ScoreFilter(m.Distance) {
			continue
		}
		keys = append(keys, m.Key)
		scores[m.Key] = m.Distance
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := c.load(ctx, st, keys)
	if err != nil {
		return nil, err
	}

	if kws := keyword.Normalize(opts.Keywords); len(kws) > 0 && c.keywordsOf != nil {
		fields := make(map[uint64]keyword.Value, len(records))
		for k, r := range records {
			fields[k] = c.keywordsOf(r)
		}
		var filter keyword.Filter = st.keywords
		if st.keywordsStale {
			filter = keyword.MemoryFilter{}
		}
		hits, err := filter.Matching(ctx, fields, kws)
		if err != nil {
			return nil, err
		}
		for k := range records {
			if !hits[k] {
				delete(records, k)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranked := make([]SearchResult[R], 0, len(records))
	for _, k := range keys {
		r, ok := records[k]
		if !ok {
			continue
		}
		if opts.Filter != nil && !opts.Filter(r) {
			continue
		}
		ranked = append(ranked, SearchResult[R]{Record: r, Score: scores[k]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score < ranked[j].Score })

	if skip >= len(ranked) {
		return nil, nil
	}
	ranked = ranked[skip:min(skip+top, len(ranked))]

	if opts.IncludeVectors {
		for i := range ranked {
			if v, ok := st.index.Get(ranked[i].Record.Key()); ok {
				ranked[i].Record.SetVector(v)
			}
		}
	}
	return ranked, nil
}
