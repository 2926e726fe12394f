package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/hako/internal/keyword"
	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vector"
)

func keysOf(t *testing.T, rs *Results[*doc]) ([]uint64, []float32) {
	t.Helper()
	got, err := rs.Collect()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	keys := make([]uint64, len(got))
	scores := make([]float32, len(got))
	for i, r := range got {
		keys[i] = r.Record.ID
		scores[i] = r.Score
	}
	return keys, scores
}

func equalKeys(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func seed(t *testing.T, c *Collection[*doc]) {
	t.Helper()
	_, err := c.UpsertBatch(context.Background(), []*doc{
		{ID: 1, Vec: []float32{0, 0, 0}, Tags: []string{"blue"}},
		{ID: 2, Vec: []float32{1, 0, 0}, Tags: []string{"red"}},
		{ID: 3, Vec: []float32{10, 10, 10}, Tags: []string{"green"}},
	})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
}

func TestHybridSearchScenario(t *testing.T) {
	for _, indexType := range []vector.IndexType{vector.IndexTypeHNSW, vector.IndexTypeFlat} {
		t.Run(string(indexType), func(t *testing.T) {
			ctx := context.Background()
			s, _ := newTestStore(t, func(c *Config) { c.IndexType = indexType })
			c, err := Open[*doc](ctx, s, "scenario")
			if err != nil {
				t.Fatal(err)
			}
			seed(t, c)
			query := []float32{0, 0, 0}

			rs, err := c.Search(ctx, query, SearchOptions[*doc]{Top: 2})
			if err != nil {
				t.Fatal(err)
			}
			keys, scores := keysOf(t, rs)
			if !equalKeys(keys, []uint64{1, 2}) {
				t.Fatalf("keys = %v, want [1 2]", keys)
			}
			if math.Abs(float64(scores[0])) > 1e-6 || math.Abs(float64(scores[1]-1)) > 1e-6 {
				t.Errorf("scores = %v, want [0 1]", scores)
			}

			near := func(d float32) bool { return d < 5 }
			rs, _ = c.Search(ctx, query, SearchOptions[*doc]{Top: 10, ScoreFilter: near})
			if keys, _ := keysOf(t, rs); !equalKeys(keys, []uint64{1, 2}) {
				t.Errorf("score-filtered keys = %v, want [1 2]", keys)
			}

			rs, _ = c.Search(ctx, query, SearchOptions[*doc]{Top: 1, Skip: 1, ScoreFilter: near})
			if keys, _ := keysOf(t, rs); !equalKeys(keys, []uint64{2}) {
				t.Errorf("paged keys = %v, want [2]", keys)
			}
		})
	}
}

func TestKeywordFilter(t *testing.T) {
	for _, backend := range []string{KeywordIndexMemory, KeywordIndexBleve} {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newTestStore(t, func(c *Config) { c.KeywordIndex = backend })
			c, err := Open[*doc](ctx, s, "colors")
			if err != nil {
				t.Fatal(err)
			}
			seed(t, c)

			rs, _ := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Top: 3, Keywords: []string{"RED"}})
			if keys, _ := keysOf(t, rs); !equalKeys(keys, []uint64{2}) {
				t.Errorf("keys = %v, want [2]", keys)
			}

			// Lists match whole items only.
			rs, _ = c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Keywords: []string{"re"}})
			if keys, _ := keysOf(t, rs); len(keys) != 0 {
				t.Errorf("partial tag matched: %v", keys)
			}

			if err := c.Delete(ctx, 2); err != nil {
				t.Fatal(err)
			}
			rs, _ = c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Keywords: []string{"red"}})
			if keys, _ := keysOf(t, rs); len(keys) != 0 {
				t.Errorf("deleted record still matched: %v", keys)
			}
		})
	}
}

func TestKeywordFieldOption(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	byTitle := WithKeywordField(func(d *doc) keyword.Value { return keyword.TextValue(d.Title) })
	c, err := Open[*doc](ctx, s, "titles", byTitle)
	if err != nil {
		t.Fatal(err)
	}
	c.UpsertBatch(ctx, []*doc{
		{ID: 1, Vec: []float32{0, 0, 0}, Title: "Quarterly Sales"},
		{ID: 2, Vec: []float32{0, 0, 1}, Title: "Headcount"},
	})
	rs, _ := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Keywords: []string{"sales"}})
	if keys, _ := keysOf(t, rs); !equalKeys(keys, []uint64{1}) {
		t.Errorf("keys = %v, want [1]", keys)
	}
}

func TestPredicateAppliesBeforePaging(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, func(c *Config) { c.IndexType = vector.IndexTypeFlat })
	c, _ := Open[*doc](ctx, s, "paging")

	var batch []*doc
	for i := 1; i <= 20; i++ {
		batch = append(batch, &doc{ID: uint64(i), Vec: []float32{float32(i), 0, 0}})
	}
	if _, err := c.UpsertBatch(ctx, batch); err != nil {
		t.Fatal(err)
	}
	even := func(d *doc) bool { return d.ID%2 == 0 }
	rs, _ := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Top: 3, Skip: 2, Filter: even})
	if keys, _ := keysOf(t, rs); !equalKeys(keys, []uint64{6, 8, 10}) {
		t.Errorf("keys = %v, want [6 8 10]", keys)
	}

	rs, _ = c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Top: 5, Skip: 100})
	if keys, _ := keysOf(t, rs); len(keys) != 0 {
		t.Errorf("skip past end returned %v", keys)
	}
}

func TestDefaultTop(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "defaults")
	seed(t, c)
	c.Upsert(ctx, &doc{ID: 4, Vec: []float32{2, 0, 0}})

	rs, err := c.VectorSearch(ctx, []float32{0, 0, 0}, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if keys, _ := keysOf(t, rs); len(keys) != DefaultTop {
		t.Errorf("got %d results, want %d", len(keys), DefaultTop)
	}
}

func TestFetchCount(t *testing.T) {
	s, _ := newTestStore(t, func(c *Config) {
		c.BaseFetchCount = 10
		c.FetchMultiplier = 3
	})
	c, _ := Open[*doc](context.Background(), s, "fetch")
	if got := c.fetchCount(1, 0); got != 10 {
		t.Errorf("fetchCount(1,0) = %d, want 10", got)
	}
	if got := c.fetchCount(4, 2); got != 18 {
		t.Errorf("fetchCount(4,2) = %d, want 18", got)
	}
}

func TestResultsAreSinglePass(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "once")
	seed(t, c)

	rs, _ := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{})
	first := 0
	for _, err := range rs.All() {
		if err != nil {
			t.Fatal(err)
		}
		first++
	}
	second := 0
	for range rs.All() {
		second++
	}
	if first != 3 || second != 0 {
		t.Errorf("first pass %d, second pass %d", first, second)
	}
}

func TestSearchRejectsQueryDimensions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "dims")

	_, err := c.Search(ctx, []float32{1, 2}, SearchOptions[*doc]{})
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) || dm.HasKey || dm.Expected != 3 || dm.Actual != 2 {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Error("expected errors.Is(err, vector.ErrDimensionMismatch)")
	}
}

func TestEmptyCollectionSearch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "empty")
	rs, err := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Keywords: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	if keys, _ := keysOf(t, rs); len(keys) != 0 {
		t.Errorf("keys = %v", keys)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, records := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "idem")

	if _, err := c.Upsert(ctx, &doc{ID: 1, Vec: []float32{0, 0, 0}, Title: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Upsert(ctx, &doc{ID: 1, Vec: []float32{5, 5, 5}, Title: "b"}); err != nil {
		t.Fatal(err)
	}

	if n, _ := records.Count(ctx, "idem"); n != 1 {
		t.Errorf("store rows = %d, want 1", n)
	}
	st, _ := s.state(ctx, "idem")
	if st.index.Size() != 1 {
		t.Errorf("index entries = %d, want 1", st.index.Size())
	}

	rs, _ := c.Search(ctx, []float32{5, 5, 5}, SearchOptions[*doc]{Top: 1, IncludeVectors: true})
	got, err := rs.Collect()
	if err != nil || len(got) != 1 {
		t.Fatalf("results = %v, %v", got, err)
	}
	if got[0].Record.Title != "b" || got[0].Score != 0 || got[0].Record.Vec[0] != 5 {
		t.Errorf("result = %+v", got[0])
	}
}

func TestUpsertBatchDimensionMismatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	s, records := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "dims")

	_, err := c.UpsertBatch(ctx, []*doc{
		{ID: 1, Vec: []float32{0, 0, 0}},
		{ID: 7, Vec: []float32{0, 0}},
		{ID: 3, Vec: []float32{1, 1, 1}},
	})
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) || dm.Key != 7 || !dm.HasKey {
		t.Fatalf("err = %v, want mismatch on key 7", err)
	}
	if n, _ := records.Count(ctx, "dims"); n != 0 {
		t.Errorf("store rows = %d, want 0", n)
	}
	n, _ := c.Count(ctx)
	st, _ := s.state(ctx, "dims")
	if n != 0 || st.index.Size() != 0 {
		t.Errorf("partial write: rows=%d vectors=%d", n, st.index.Size())
	}

	if _, err := c.Upsert(ctx, &doc{ID: 9, Vec: []float32{1}}); !errors.Is(err, vector.ErrDimensionMismatch) {
		t.Errorf("single upsert err = %v", err)
	}
}

func TestUpsertBatchLastDuplicateWins(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "dupes")

	keys, err := c.UpsertBatch(ctx, []*doc{
		{ID: 1, Vec: []float32{0, 0, 0}, Title: "old"},
		{ID: 1, Vec: []float32{1, 1, 1}, Title: "new"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != 1 {
		t.Errorf("keys = %v", keys)
	}
	got, ok, err := c.Get(ctx, 1)
	if err != nil || !ok || got.Title != "new" {
		t.Errorf("Get = %+v, %v, %v", got, ok, err)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []storage.Codec{storage.JSONCodec{}, storage.MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			records, err := storage.NewSQLite(dir + "/records.db")
			if err != nil {
				t.Fatal(err)
			}
			defer records.Close()
			s, err := New(testConfig(dir), records, WithCodec(codec))
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()
			c, _ := Open[*doc](ctx, s, "roundtrip")

			in := &doc{ID: 42, Vec: []float32{0.5, -1, 2}, Title: "answer", Tags: []string{"a", "b"}}
			if _, err := c.Upsert(ctx, in); err != nil {
				t.Fatal(err)
			}
			if len(in.Vec) != 3 {
				t.Errorf("caller's vector was not restored: %v", in.Vec)
			}

			got, ok, err := c.Get(ctx, 42)
			if err != nil || !ok {
				t.Fatalf("Get = %v, %v", ok, err)
			}
			if got.ID != 42 || got.Title != "answer" || len(got.Tags) != 2 || got.Vec != nil {
				t.Errorf("Get = %+v", got)
			}

			rs, _ := c.Search(ctx, in.Vec, SearchOptions[*doc]{Top: 1, IncludeVectors: true})
			res, _ := rs.Collect()
			if len(res) != 1 || fmt.Sprint(res[0].Record.Vec) != fmt.Sprint(in.Vec) {
				t.Errorf("rehydrated = %+v", res)
			}
		})
	}
}

func TestGetBatch(t *testing.T) {
	ctx := context.Background()
	s, records := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "batch")
	seed(t, c)
	if err := records.Upsert(ctx, "batch", 9, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetBatch(ctx, []uint64{3, 9, 100, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 3 || got[1].ID != 1 {
		t.Errorf("GetBatch = %+v", got)
	}
	if _, ok, err := c.Get(ctx, 9); ok || err != nil {
		t.Errorf("corrupt record: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.Get(ctx, 100); ok {
		t.Error("missing key reported found")
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "del")
	seed(t, c)

	if err := c.DeleteBatch(ctx, []uint64{1, 3}); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, 12345); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
	rs, _ := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{Top: 10})
	if keys, _ := keysOf(t, rs); !equalKeys(keys, []uint64{2}) {
		t.Errorf("keys = %v, want [2]", keys)
	}
	if n, _ := c.Count(ctx); n != 1 {
		t.Errorf("Count = %d", n)
	}
}

func TestFailedStoreWriteRestoresIndex(t *testing.T) {
	tests := []struct {
		name string
		op   func(ctx context.Context, c *Collection[*doc]) error
	}{
		{"upsert", func(ctx context.Context, c *Collection[*doc]) error {
			_, err := c.Upsert(ctx, &doc{ID: 1, Vec: []float32{9, 9, 9}})
			return err
		}},
		{"upsert batch", func(ctx context.Context, c *Collection[*doc]) error {
			_, err := c.UpsertBatch(ctx, []*doc{
				{ID: 1, Vec: []float32{9, 9, 9}},
				{ID: 2, Vec: []float32{2, 2, 2}},
			})
			return err
		}},
		{"delete batch", func(ctx context.Context, c *Collection[*doc]) error {
			return c.DeleteBatch(ctx, []uint64{1})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, records := newTestStore(t, nil)
			c, err := Open[*doc](ctx, s, "rollback")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := c.Upsert(ctx, &doc{ID: 1, Vec: []float32{1, 1, 1}}); err != nil {
				t.Fatal(err)
			}
			// Writes to a dropped partition fail after the index has been updated.
			if err := records.Drop(ctx, "rollback"); err != nil {
				t.Fatal(err)
			}
			if err := tt.op(ctx, c); err == nil {
				t.Fatal("write to a dropped partition succeeded")
			}

			st, unlock, err := c.lock(ctx, false)
			if err != nil {
				t.Fatal(err)
			}
			defer unlock()
			if n := st.index.Size(); n != 1 {
				t.Errorf("index size = %d, want 1", n)
			}
			vec, ok := st.index.Get(1)
			if !ok || len(vec) != 3 || vec[0] != 1 || vec[1] != 1 || vec[2] != 1 {
				t.Errorf("key 1 vector = %v, %v; want [1 1 1]", vec, ok)
			}
			if _, ok := st.index.Get(2); ok {
				t.Error("key 2 left in the index")
			}
		})
	}
}

func TestHandleSurvivesCollectionDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "again")
	seed(t, c)

	if err := s.DeleteCollection(ctx, "again"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Upsert(ctx, &doc{ID: 8, Vec: []float32{1, 1, 1}}); err != nil {
		t.Fatalf("upsert after delete: %v", err)
	}
	if n, _ := c.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestConcurrentUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	c, _ := Open[*doc](ctx, s, "busy")

	const writers, perWriter = 4, 25
	errs := make(chan error, writers*perWriter*2)
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				id := uint64(w*perWriter + i)
				v := []float32{float32(w), float32(i), 1}
				if _, err := c.Upsert(ctx, &doc{ID: id, Vec: v}); err != nil {
					errs <- err
				}
				// Re-upsert exercises the remove-then-add path.
				if _, err := c.Upsert(ctx, &doc{ID: id, Vec: v}); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rs, err := c.Search(ctx, []float32{1, 1, 1}, SearchOptions[*doc]{Top: 5})
				if err != nil {
					errs <- err
					return
				}
				if _, err := rs.Collect(); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	n, _ := c.Count(ctx)
	st, _ := s.state(ctx, "busy")
	if n != writers*perWriter || st.index.Size() != writers*perWriter {
		t.Errorf("rows=%d vectors=%d, want %d", n, st.index.Size(), writers*perWriter)
	}
}

type countingMetrics struct {
	NoopMetrics
	mu       sync.Mutex
	upserts  int
	searches int
}

func (m *countingMetrics) RecordUpsert(_ string, n int, _ time.Duration, _ error) {
	m.mu.Lock()
	m.upserts += n
	m.mu.Unlock()
}

func (m *countingMetrics) RecordSearch(string, int, int, time.Duration, error) {
	m.mu.Lock()
	m.searches++
	m.mu.Unlock()
}

func TestMetricsHook(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	records, err := storage.NewSQLite(dir + "/records.db")
	if err != nil {
		t.Fatal(err)
	}
	defer records.Close()
	m := &countingMetrics{}
	s, err := New(testConfig(dir), records, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	c, _ := Open[*doc](ctx, s, "metrics")
	seed(t, c)
	rs, _ := c.Search(ctx, []float32{0, 0, 0}, SearchOptions[*doc]{})
	rs.Collect()
	if m.upserts != 3 || m.searches != 1 {
		t.Errorf("upserts=%d searches=%d", m.upserts, m.searches)
	}
}
