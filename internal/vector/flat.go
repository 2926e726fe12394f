package vector

import (
	"context"
	"sort"
	"sync"
)

// FlatIndex compares the query against every stored vector. Results are exact.
type FlatIndex struct {
	opts    Options
	keys    []uint64
	vectors []stored
	pos     map[uint64]int
	mu      sync.RWMutex
}

var _ Index = (*FlatIndex)(nil)

// NewFlatIndex creates an empty flat index.
func NewFlatIndex(opts Options) (*FlatIndex, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &FlatIndex{opts: opts, pos: make(map[uint64]int)}, nil
}

// Type returns IndexTypeFlat.
func (f *FlatIndex) Type() IndexType { return IndexTypeFlat }

// Options returns the options the index was built with.
func (f *FlatIndex) Options() Options { return f.opts }

// Dimensions returns the vector dimensionality.
func (f *FlatIndex) Dimensions() int { return f.opts.Dimensions }

// Add indexes one vector.
func (f *FlatIndex) Add(key uint64, vec []float32) error {
	return f.AddBatch(context.Background(), []uint64{key}, [][]float32{vec})
}

// AddBatch indexes all vectors or none.
func (f *FlatIndex) AddBatch(ctx context.Context, keys []uint64, vecs [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := validateBatch(f.opts.Dimensions, keys, vecs, f.containsLocked); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, k := range keys {
		f.pos[k] = len(f.keys)
		f.keys = append(f.keys, k)
		f.vectors = append(f.vectors, store(f.opts.Quantization, vecs[i]))
	}
	return nil
}

func (f *FlatIndex) containsLocked(key uint64) bool {
	_, ok := f.pos[key]
	return ok
}

// Contains reports whether key is indexed.
func (f *FlatIndex) Contains(key uint64) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.containsLocked(key)
}

// Get returns a copy of the vector stored for key.
func (f *FlatIndex) Get(key uint64) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	i, ok := f.pos[key]
	if !ok {
		return nil, false
	}
	return f.vectors[i].vector(), true
}

// Remove deletes key by swapping the last entry into its slot.
func (f *FlatIndex) Remove(key uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.pos[key]
	if !ok {
		return false
	}
	last := len(f.keys) - 1
	if i != last {
		f.keys[i] = f.keys[last]
		f.vectors[i] = f.vectors[last]
		f.pos[f.keys[i]] = i
	}
	f.keys = f.keys[:last]
	f.vectors = f.vectors[:last]
	delete(f.pos, key)
	return true
}

// Search scans every vector and returns the k closest.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := checkDims(f.opts.Dimensions, query); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.keys) == 0 {
		return nil, nil
	}
	matches := make([]Match, len(f.keys))
	for i, v := range f.vectors {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		matches[i] = Match{Key: f.keys[i], Distance: distance(f.opts.Metric, query, v)}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Key < matches[j].Key
	})
	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k], nil
}

// Size returns the number of indexed vectors.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.keys)
}

// Save writes the index to path.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return writeAtomic(path, func(w *encoder) error {
		w.header(IndexTypeFlat, f.opts)
		w.u32(uint32(len(f.keys)))
		for i, k := range f.keys {
			w.u64(k)
			w.vector(f.vectors[i])
		}
		return w.err
	})
}

func readFlat(r *decoder, opts Options) (*FlatIndex, error) {
	f, err := NewFlatIndex(opts)
	if err != nil {
		return nil, err
	}
	n := r.u32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		k := r.u64()
		v := r.vector(opts)
		f.pos[k] = len(f.keys)
		f.keys = append(f.keys, k)
		f.vectors = append(f.vectors, v)
	}
	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// Close is a no-op.
func (f *FlatIndex) Close() error {
	return nil
}
