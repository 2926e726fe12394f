package vector

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
)

func newTestHNSW(t *testing.T, dims int, metric Metric) *HNSWIndex {
	t.Helper()
	h, err := NewHNSWIndex(Options{
		Dimensions:      dims,
		Metric:          metric,
		Connectivity:    8,
		ExpansionAdd:    64,
		ExpansionSearch: 64,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func randVec(rng *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func bruteForce(metric Metric, vecs map[uint64][]float32, q []float32, k int) map[uint64]bool {
	f, _ := NewFlatIndex(Options{Dimensions: len(q), Metric: metric})
	for key, v := range vecs {
		_ = f.Add(key, v)
	}
	matches, _ := f.Search(context.Background(), q, k)
	out := make(map[uint64]bool, len(matches))
	for _, m := range matches {
		out[m.Key] = true
	}
	return out
}

func TestHNSW_EuclideanScenario(t *testing.T) {
	h := newTestHNSW(t, 3, MetricL2)
	_ = h.Add(1, []float32{0, 0, 0})
	_ = h.Add(2, []float32{1, 0, 0})
	_ = h.Add(3, []float32{10, 10, 10})

	matches, err := h.Search(context.Background(), []float32{0, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Key != 1 || matches[0].Distance != 0 {
		t.Errorf("first=%+v, want key 1 at 0", matches[0])
	}
	if matches[1].Key != 2 || matches[1].Distance != 1 {
		t.Errorf("second=%+v, want key 2 at 1", matches[1])
	}
	if math.Abs(float64(matches[2].Distance)-math.Sqrt(300)) > 1e-3 {
		t.Errorf("third distance=%v, want ~17.32", matches[2].Distance)
	}
}

func TestHNSW_AddExistingKeyFails(t *testing.T) {
	h := newTestHNSW(t, 2, MetricL2)
	if err := h.Add(1, []float32{1, 1}); err != nil {
		t.Fatal(err)
	}
	if err := h.Add(1, []float32{2, 2}); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Add err=%v, want ErrKeyExists", err)
	}
	if !h.Remove(1) {
		t.Fatal("Remove(1)=false")
	}
	if err := h.Add(1, []float32{2, 2}); err != nil {
		t.Errorf("Add after Remove: %v", err)
	}
	v, ok := h.Get(1)
	if !ok || v[0] != 2 {
		t.Errorf("Get(1)=%v,%v", v, ok)
	}
}

func TestHNSW_AddBatchAllOrNothing(t *testing.T) {
	h := newTestHNSW(t, 2, MetricL2)
	err := h.AddBatch(context.Background(), []uint64{1, 2, 3}, [][]float32{{0, 0}, {1, 1}, {1}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err=%v, want ErrDimensionMismatch", err)
	}
	if h.Size() != 0 {
		t.Errorf("Size=%d after failed batch", h.Size())
	}
	err = h.AddBatch(context.Background(), []uint64{4, 4}, [][]float32{{0, 0}, {1, 1}})
	if !errors.Is(err, ErrKeyExists) {
		t.Errorf("duplicate keys in batch err=%v", err)
	}
}

func TestHNSW_Recall(t *testing.T) {
	for _, metric := range []Metric{MetricL2, MetricCosine} {
		t.Run(string(metric), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(7, 11))
			h := newTestHNSW(t, 16, metric)
			vecs := make(map[uint64][]float32)
			for k := uint64(1); k <= 500; k++ {
				v := randVec(rng, 16)
				vecs[k] = v
				if err := h.Add(k, v); err != nil {
					t.Fatal(err)
				}
			}

			var hits, total int
			for i := 0; i < 20; i++ {
				q := randVec(rng, 16)
				want := bruteForce(metric, vecs, q, 10)
				got, err := h.Search(context.Background(), q, 10)
				if err != nil {
					t.Fatal(err)
				}
				for _, m := range got {
					if want[m.Key] {
						hits++
					}
				}
				total += len(want)
			}
			if recall := float64(hits) / float64(total); recall < 0.8 {
				t.Errorf("recall@10=%.2f, want >= 0.8", recall)
			}
		})
	}
}

func TestHNSW_RemoveKeepsGraphSearchable(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	h := newTestHNSW(t, 8, MetricL2)
	for k := uint64(0); k < 200; k++ {
		_ = h.Add(k, randVec(rng, 8))
	}
	for k := uint64(0); k < 200; k += 2 {
		if !h.Remove(k) {
			t.Fatalf("Remove(%d)=false", k)
		}
	}
	if h.Size() != 100 {
		t.Fatalf("Size=%d, want 100", h.Size())
	}
	matches, err := h.Search(context.Background(), randVec(rng, 8), 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 20 {
		t.Errorf("got %d matches, want 20", len(matches))
	}
	for _, m := range matches {
		if m.Key%2 == 0 {
			t.Errorf("removed key %d returned", m.Key)
		}
	}
	// Free slots are reused.
	for k := uint64(1000); k < 1100; k++ {
		_ = h.Add(k, randVec(rng, 8))
	}
	if len(h.nodes) != 200 {
		t.Errorf("nodes=%d, want slots recycled to 200", len(h.nodes))
	}
}

func TestHNSW_SlotReuseKeepsLinksUnique(t *testing.T) {
	tests := []struct {
		name   string
		seed   uint64
		rounds int
	}{
		{"few rounds", 13, 5},
		{"many rounds", 21, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewPCG(tt.seed, 17))
			h := newTestHNSW(t, 4, MetricL2)
			for k := uint64(0); k < 64; k++ {
				_ = h.Add(k, randVec(rng, 4))
			}
			for r := 0; r < tt.rounds; r++ {
				for k := uint64(0); k < 64; k += 3 {
					h.Remove(k)
				}
				for k := uint64(0); k < 64; k += 3 {
					if err := h.Add(k, randVec(rng, 4)); err != nil {
						t.Fatal(err)
					}
				}
			}
			if h.Size() != 64 {
				t.Fatalf("Size=%d, want 64", h.Size())
			}
			for id, nd := range h.nodes {
				if nd == nil {
					continue
				}
				for lev, friends := range nd.friends {
					seen := make(map[uint32]bool, len(friends))
					for _, f := range friends {
						if f == uint32(id) {
							t.Errorf("node %d links to itself at level %d", id, lev)
						}
						if seen[f] {
							t.Errorf("node %d links to %d twice at level %d", id, f, lev)
						}
						seen[f] = true
					}
					if len(friends) > h.maxConns(lev) {
						t.Errorf("node %d has %d links at level %d, max %d", id, len(friends), lev, h.maxConns(lev))
					}
				}
			}
		})
	}
}

func TestHNSW_RemoveAll(t *testing.T) {
	h := newTestHNSW(t, 2, MetricL2)
	_ = h.Add(1, []float32{0, 1})
	_ = h.Add(2, []float32{1, 0})
	h.Remove(1)
	h.Remove(2)
	if h.Remove(2) {
		t.Error("Remove of missing key returned true")
	}
	matches, err := h.Search(context.Background(), []float32{0, 0}, 5)
	if err != nil || len(matches) != 0 {
		t.Errorf("search on empty graph=%v,%v", matches, err)
	}
	_ = h.Add(3, []float32{1, 1})
	matches, _ = h.Search(context.Background(), []float32{0, 0}, 5)
	if len(matches) != 1 || matches[0].Key != 3 {
		t.Errorf("matches=%v", matches)
	}
}

func TestHNSW_SearchDimensionMismatch(t *testing.T) {
	h := newTestHNSW(t, 3, MetricL2)
	_, err := h.Search(context.Background(), []float32{1, 2}, 1)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err=%v", err)
	}
}

func TestHNSW_SaveLoad(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	h := newTestHNSW(t, 8, MetricCosine)
	for k := uint64(1); k <= 100; k++ {
		_ = h.Add(k, randVec(rng, 8))
	}
	h.Remove(50)

	path := filepath.Join(t.TempDir(), "idx.hnsw")
	if err := h.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Type() != IndexTypeHNSW {
		t.Errorf("Type=%s", loaded.Type())
	}
	if loaded.Size() != 99 || loaded.Contains(50) {
		t.Errorf("Size=%d Contains(50)=%v", loaded.Size(), loaded.Contains(50))
	}
	if got := loaded.Options(); got.Connectivity != 8 || got.Metric != MetricCosine || got.Dimensions != 8 {
		t.Errorf("Options=%+v", got)
	}

	q := randVec(rng, 8)
	want, _ := h.Search(context.Background(), q, 5)
	got, _ := loaded.Search(context.Background(), q, 5)
	if len(got) != len(want) {
		t.Fatalf("loaded search returned %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("match %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHNSW_ConcurrentAccess(t *testing.T) {
	h := newTestHNSW(t, 4, MetricL2)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(w), 9))
			for i := 0; i < 50; i++ {
				key := uint64(w*1000 + i)
				_ = h.Add(key, randVec(rng, 4))
				_, _ = h.Search(context.Background(), randVec(rng, 4), 3)
			}
		}(w)
	}
	wg.Wait()
	if h.Size() != 200 {
		t.Errorf("Size=%d, want 200", h.Size())
	}
}
