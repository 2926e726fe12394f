package vector

import (
	"context"
	"math/rand"
	"testing"
)

func benchIndex(b *testing.B, t IndexType, n, dims int) Index {
	b.Helper()
	idx, err := NewIndex(t, Options{Dimensions: dims, Metric: MetricCosine})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { idx.Close() })
	r := rand.New(rand.NewSource(1))
	keys := make([]uint64, n)
	vecs := make([][]float32, n)
	for i := range vecs {
		keys[i] = uint64(i + 1)
		vecs[i] = make([]float32, dims)
		for j := range vecs[i] {
			vecs[i][j] = r.Float32()
		}
	}
	if err := idx.AddBatch(context.Background(), keys, vecs); err != nil {
		b.Fatal(err)
	}
	return idx
}

func BenchmarkIndexSearch(b *testing.B) {
	const dims = 384
	query := make([]float32, dims)
	query[0] = 1.0
	for _, t := range []IndexType{IndexTypeHNSW, IndexTypeFlat} {
		b.Run(string(t), func(b *testing.B) {
			idx := benchIndex(b, t, 1000, dims)
			ctx := context.Background()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := idx.Search(ctx, query, 10); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
