package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestFlatIndex_AddSearch(t *testing.T) {
	idx, err := NewFlatIndex(Options{Dimensions: 3, Metric: MetricIP})
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	keys := []uint64{1, 2, 3}
	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.AddBatch(ctx, keys, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Key != 1 || results[1].Key != 2 {
		t.Errorf("order=%v, want [1 2]", results)
	}
}

func TestFlatIndex_Remove(t *testing.T) {
	idx, _ := NewFlatIndex(Options{Dimensions: 2})
	_ = idx.Add(10, []float32{1, 0})
	_ = idx.Add(20, []float32{0, 1})
	_ = idx.Add(30, []float32{1, 1})
	if !idx.Remove(10) {
		t.Fatal("Remove(10)=false")
	}
	if idx.Size() != 2 || idx.Contains(10) {
		t.Errorf("Size=%d Contains(10)=%v", idx.Size(), idx.Contains(10))
	}
	v, ok := idx.Get(30)
	if !ok || v[0] != 1 || v[1] != 1 {
		t.Errorf("Get(30) after swap-remove=%v,%v", v, ok)
	}
}

func TestFlatIndex_SaveLoad(t *testing.T) {
	idx, _ := NewFlatIndex(Options{Dimensions: 2, Metric: MetricL2Sq})
	_ = idx.Add(5, []float32{3, 4})
	path := filepath.Join(t.TempDir(), "nested", "x.flat")
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Type() != IndexTypeFlat || loaded.Size() != 1 {
		t.Fatalf("Type=%s Size=%d", loaded.Type(), loaded.Size())
	}
	m, _ := loaded.Search(context.Background(), []float32{0, 0}, 1)
	if len(m) != 1 || m[0].Distance != 25 {
		t.Errorf("l2sq distance=%v, want 25", m)
	}
}

func TestLoad_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hnsw")
	if err := writeAtomic(path, func(w *encoder) error {
		w.write([]byte("nope"))
		return w.err
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for non-index file")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.hnsw")); err == nil {
		t.Error("expected error for missing file")
	}
}
