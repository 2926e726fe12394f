package vector

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

type distItem struct {
	id   uint32
	dist float32
}

// minDistHeap pops the closest item first.
type minDistHeap []distItem

func (h minDistHeap) Len() int           { return len(h) }
func (h minDistHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxDistHeap pops the farthest item first.
type maxDistHeap []distItem

func (h maxDistHeap) Len() int           { return len(h) }
func (h maxDistHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type hnswNode struct {
	key     uint64
	vec     stored
	level   int
	friends [][]uint32 // friends[layer] holds internal ids
}

// HNSWIndex is a hierarchical navigable small world graph.
// Deleted slots are recycled by later inserts.
type HNSWIndex struct {
	mu       sync.RWMutex
	opts     Options
	nodes    []*hnswNode
	byKey    map[uint64]uint32
	entry    int32 // -1 when empty
	maxLevel int
	count    int
	free     []uint32
	levelMul float64
}

var _ Index = (*HNSWIndex)(nil)

// NewHNSWIndex creates an empty graph.
func NewHNSWIndex(opts Options) (*HNSWIndex, error) {
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &HNSWIndex{
		opts:     opts,
		byKey:    make(map[uint64]uint32),
		entry:    -1,
		levelMul: 1 / math.Log(float64(opts.Connectivity)),
	}, nil
}

// Type returns IndexTypeHNSW.
func (h *HNSWIndex) Type() IndexType { return IndexTypeHNSW }

// Options returns the options the graph was built with.
func (h *HNSWIndex) Options() Options { return h.opts }

// Dimensions returns the vector dimensionality.
func (h *HNSWIndex) Dimensions() int { return h.opts.Dimensions }

func (h *HNSWIndex) maxConns(layer int) int {
	if layer == 0 {
		return h.opts.Connectivity * 2
	}
	return h.opts.Connectivity
}

// Size returns the number of live vectors.
func (h *HNSWIndex) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Contains reports whether key is indexed.
func (h *HNSWIndex) Contains(key uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.byKey[key]
	return ok
}

// Get returns a copy of the vector stored for key.
func (h *HNSWIndex) Get(key uint64) ([]float32, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byKey[key]
	if !ok {
		return nil, false
	}
	return h.nodes[id].vec.vector(), true
}

// Add inserts one vector.
func (h *HNSWIndex) Add(key uint64, vec []float32) error {
	return h.AddBatch(context.Background(), []uint64{key}, [][]float32{vec})
}

// AddBatch validates the whole batch, then links each vector into the graph.
func (h *HNSWIndex) AddBatch(ctx context.Context, keys []uint64, vecs [][]float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	contains := func(k uint64) bool { _, ok := h.byKey[k]; return ok }
	if err := validateBatch(h.opts.Dimensions, keys, vecs, contains); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, k := range keys {
		h.insertLocked(k, store(h.opts.Quantization, vecs[i]))
	}
	return nil
}

func (h *HNSWIndex) dist(q []float32, id uint32) float32 {
	return distance(h.opts.Metric, q, h.nodes[id].vec)
}

func (h *HNSWIndex) insertLocked(key uint64, vec stored) {
	var id uint32
	if n := len(h.free); n > 0 {
		id = h.free[n-1]
		h.free = h.free[:n-1]
	} else {
		id = uint32(len(h.nodes))
		h.nodes = append(h.nodes, nil)
	}

	level := h.randomLevel()
	nd := &hnswNode{key: key, vec: vec, level: level, friends: make([][]uint32, level+1)}
	h.nodes[id] = nd
	h.byKey[key] = id
	h.count++

	if h.entry < 0 {
		h.entry = int32(id)
		h.maxLevel = level
		return
	}

	// Distances are computed against the stored (possibly quantized) form so
	// that graph construction and search agree.
	q := vec.vector()
	cur := h.greedy(q, uint32(h.entry), h.maxLevel, level)

	ep := []uint32{cur}
	for lev := min(level, h.maxLevel); lev >= 0; lev-- {
		candidates := h.searchLayer(q, ep, h.opts.ExpansionAdd, lev)
		maxC := h.maxConns(lev)
		nd.friends[lev] = h.selectClosest(q, dedupe(candidates, id), maxC)

		for _, fid := range nd.friends[lev] {
			fn := h.nodes[fid]
			// A reused slot can still be listed through a one-way edge left by its last occupant.
			if fn == nil || lev >= len(fn.friends) || slices.Contains(fn.friends[lev], id) {
				continue
			}
			fn.friends[lev] = append(fn.friends[lev], id)
			if len(fn.friends[lev]) > maxC {
				fn.friends[lev] = h.selectClosest(fn.vec.vector(), fn.friends[lev], maxC)
			}
		}
		ep = candidates
	}

	if level > h.maxLevel {
		h.entry = int32(id)
		h.maxLevel = level
	}
}

// greedy walks from start down to (but not including) layer stop, keeping only the closest node.
func (h *HNSWIndex) greedy(q []float32, start uint32, from, stop int) uint32 {
	cur := start
	curDist := h.dist(q, cur)
	for lev := from; lev > stop; lev-- {
		for changed := true; changed; {
			changed = false
			nd := h.nodes[cur]
			if lev >= len(nd.friends) {
				break
			}
			for _, fid := range nd.friends[lev] {
				if h.nodes[fid] == nil {
					continue
				}
				if d := h.dist(q, fid); d < curDist {
					cur, curDist, changed = fid, d, true
				}
			}
		}
	}
	return cur
}

// Search returns up to k nearest keys. The beam width is max(ExpansionSearch, k).
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]Match, error) {
	if err := checkDims(h.opts.Dimensions, query); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 || k <= 0 {
		return nil, nil
	}

	ef := max(h.opts.ExpansionSearch, k)
	cur := h.greedy(query, uint32(h.entry), h.maxLevel, 0)
	candidates := h.searchLayer(query, []uint32{cur}, ef, 0)

	matches := make([]Match, 0, len(candidates))
	for _, id := range candidates {
		matches = append(matches, Match{Key: h.nodes[id].key, Distance: h.dist(query, id)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Key < matches[j].Key
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Remove unlinks key from the graph.
func (h *HNSWIndex) Remove(key uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.byKey[key]
	if !ok {
		return false
	}
	h.removeLocked(id)
	return true
}

func (h *HNSWIndex) randomLevel() int {
	r := max(rand.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*h.levelMul), 31)
}

// searchLayer is a beam search of width ef on one layer.
func (h *HNSWIndex) searchLayer(q []float32, entryPoints []uint32, ef int, layer int) []uint32 {
	visited := bitset.New(uint(len(h.nodes)))
	var candidates minDistHeap
	var results maxDistHeap

	for _, ep := range entryPoints {
		if h.nodes[ep] == nil || visited.Test(uint(ep)) {
			continue
		}
		visited.Set(uint(ep))
		d := h.dist(q, ep)
		heap.Push(&candidates, distItem{id: ep, dist: d})
		heap.Push(&results, distItem{id: ep, dist: d})
	}
	for results.Len() > ef {
		heap.Pop(&results)
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}
		nd := h.nodes[closest.id]
		if nd == nil || layer >= len(nd.friends) {
			continue
		}
		for _, fid := range nd.friends[layer] {
			if visited.Test(uint(fid)) {
				continue
			}
			visited.Set(uint(fid))
			if h.nodes[fid] == nil {
				continue
			}
			d := h.dist(q, fid)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{id: fid, dist: d})
				heap.Push(&results, distItem{id: fid, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].id
	}
	return out
}

func (h *HNSWIndex) selectClosest(q []float32, candidates []uint32, maxN int) []uint32 {
	items := make([]distItem, 0, len(candidates))
	for _, id := range candidates {
		if h.nodes[id] == nil {
			continue
		}
		items = append(items, distItem{id: id, dist: h.dist(q, id)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })
	if len(items) > maxN {
		items = items[:maxN]
	}
	out := make([]uint32, len(items))
	for i := range items {
		out[i] = items[i].id
	}
	return out
}

// removeLocked unlinks a node from its neighbours and reconnects them among themselves.
// One-way edges pointing at the slot may survive pruning; they are harmless because
// searches skip empty slots and distances are always taken from the live node.
func (h *HNSWIndex) removeLocked(id uint32) {
	nd := h.nodes[id]
	for lev := 0; lev < len(nd.friends); lev++ {
		for _, fid := range nd.friends[lev] {
			if fn := h.nodes[fid]; fn != nil && lev < len(fn.friends) {
				fn.friends[lev] = removeFrom(fn.friends[lev], id)
			}
		}
	}
	h.nodes[id] = nil
	delete(h.byKey, nd.key)
	h.free = append(h.free, id)
	h.count--

	// Reconnect former neighbours to each other so the graph stays navigable.
	for lev := 0; lev < len(nd.friends); lev++ {
		for _, fid := range nd.friends[lev] {
			fn := h.nodes[fid]
			if fn == nil || lev >= len(fn.friends) {
				continue
			}
			pool := dedupe(append(append([]uint32(nil), fn.friends[lev]...), nd.friends[lev]...), fid)
			fn.friends[lev] = h.selectClosest(fn.vec.vector(), pool, h.maxConns(lev))
		}
	}

	if h.entry == int32(id) {
		h.findNewEntry()
	}
}

func (h *HNSWIndex) findNewEntry() {
	h.entry = -1
	h.maxLevel = 0
	best := -1
	for i, nd := range h.nodes {
		if nd != nil && nd.level > best {
			h.entry = int32(i)
			best = nd.level
		}
	}
	if best >= 0 {
		h.maxLevel = best
	}
}

func removeFrom(s []uint32, val uint32) []uint32 {
	for i, v := range s {
		if v == val {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func dedupe(ids []uint32, self uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(ids))
	out := make([]uint32, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == self {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Save writes the graph, preserving internal ids so neighbour lists stay valid.
func (h *HNSWIndex) Save(path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return writeAtomic(path, func(w *encoder) error {
		w.header(IndexTypeHNSW, h.opts)
		w.u32(uint32(len(h.nodes)))
		w.u32(uint32(h.maxLevel))
		w.i32(h.entry)
		for _, nd := range h.nodes {
			if nd == nil {
				w.u8(0)
				continue
			}
			w.u8(1)
			w.u64(nd.key)
			w.u32(uint32(nd.level))
			w.vector(nd.vec)
			for _, fr := range nd.friends {
				w.u32(uint32(len(fr)))
				w.write(fr)
			}
		}
		return w.err
	})
}

func readHNSW(r *decoder, opts Options) (*HNSWIndex, error) {
	h, err := NewHNSWIndex(opts)
	if err != nil {
		return nil, err
	}
	slots := r.u32()
	h.maxLevel = int(r.u32())
	h.entry = r.i32()
	if r.err != nil {
		return nil, r.err
	}
	if slots > maxSlots {
		return nil, fmt.Errorf("slot count %d out of range", slots)
	}
	h.nodes = make([]*hnswNode, slots)
	for i := uint32(0); i < slots && r.err == nil; i++ {
		if r.u8() == 0 {
			h.free = append(h.free, i)
			continue
		}
		nd := &hnswNode{key: r.u64(), level: int(r.u32())}
		if nd.level > 31 {
			return nil, fmt.Errorf("node %d: level %d out of range", i, nd.level)
		}
		nd.vec = r.vector(opts)
		nd.friends = make([][]uint32, nd.level+1)
		for lev := range nd.friends {
			n := r.u32()
			if n > slots {
				return nil, fmt.Errorf("node %d: %d neighbours out of range", i, n)
			}
			nd.friends[lev] = make([]uint32, n)
			r.read(nd.friends[lev])
		}
		h.nodes[i] = nd
		h.byKey[nd.key] = i
		h.count++
	}
	if r.err != nil {
		return nil, r.err
	}
	if h.entry >= int32(slots) || (h.entry >= 0 && h.nodes[h.entry] == nil) {
		return nil, fmt.Errorf("entry point %d invalid", h.entry)
	}
	return h, nil
}

// Close is a no-op.
func (h *HNSWIndex) Close() error { return nil }
