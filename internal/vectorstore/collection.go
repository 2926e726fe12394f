package vectorstore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/keyword"
	"github.com/hyperjump/hako/internal/storage"
)

// Collection is a typed view over one named collection. Handles are cheap; every handle
// opened on the same name shares the index, lock and keyword filter held by the Store.
type Collection[R Record] struct {
	store *Store
	name  string

	newRecord  func() R
	isPointer  bool
	keywordsOf func(R) keyword.Value
}

// CollectionOption configures a Collection.
type CollectionOption[R Record] func(*Collection[R])

// WithKeywordField designates the field keyword filters match against. Records that
// implement KeywordRecord get this automatically.
func WithKeywordField[R Record](fn func(R) keyword.Value) CollectionOption[R] {
	return func(c *Collection[R]) { c.keywordsOf = fn }
}

// Open returns a collection handle, creating the partition and index on first use.
func Open[R Record](ctx context.Context, s *Store, name string, opts ...CollectionOption[R]) (*Collection[R], error) {
	st, err := s.state(ctx, name)
	if err != nil {
		return nil, err
	}
	c := &Collection[R]{store: s, name: st.name}

	var zero R
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("collection %s: record type must be concrete", st.name)
	}
	if t.Kind() == reflect.Pointer {
		elem := t.Elem()
		c.isPointer = true
		c.newRecord = func() R { return reflect.New(elem).Interface().(R) }
	} else {
		c.newRecord = func() R { var r R; return r }
	}
	if _, ok := any(zero).(KeywordRecord); ok {
		c.keywordsOf = func(r R) keyword.Value { return any(r).(KeywordRecord).Keywords() }
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.syncKeywords(ctx); err != nil {
		s.logger.Warn("keyword index unavailable, matching in memory",
			zap.String("collection", c.name), zap.Error(err))
	}
	return c, nil
}

// keywordRebuildBatch bounds the records fed to the keyword index per batch during a rebuild.
const keywordRebuildBatch = 500

// syncKeywords rebuilds a mirrored keyword index whose document count disagrees with the
// record store, as after records were written under the in-memory backend.
func (c *Collection[R]) syncKeywords(ctx context.Context) error {
	if c.keywordsOf == nil {
		return nil
	}
	st, unlock, err := c.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()
	counter, ok := st.keywords.(interface{ DocCount() (uint64, error) })
	if !ok || (st.keywordsSynced && !st.keywordsStale) {
		return nil
	}
	n, err := c.store.records.Count(ctx, st.name)
	if err != nil {
		return err
	}
	if docs, err := counter.DocCount(); err == nil && !st.keywordsStale && docs == uint64(n) {
		st.keywordsSynced = true
		return nil
	}
	return c.rebuildKeywords(ctx, st)
}

// rebuildKeywords repopulates the keyword index from every stored record. Caller holds
// st.mu for writing.
func (c *Collection[R]) rebuildKeywords(ctx context.Context, st *collectionState) error {
	st.keywordsStale = true
	all, err := c.store.records.GetAll(ctx, st.name)
	if err != nil {
		return err
	}
	if err := c.store.resetKeywords(st); err != nil {
		return err
	}
	values := make(map[uint64]keyword.Value, keywordRebuildBatch)
	flush := func() error {
		if len(values) == 0 {
			return nil
		}
		if err := st.keywords.Index(ctx, values); err != nil {
			return err
		}
		clear(values)
		return nil
	}
	for _, e := range all {
		r, err := c.decode(e.Data)
		if err != nil {
			c.store.logger.Warn("skipping undecodable record",
				zap.String("collection", c.name), zap.Uint64("key", e.Key), zap.Error(err))
			continue
		}
		values[e.Key] = c.keywordsOf(r)
		if len(values) == keywordRebuildBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	st.keywordsStale = false
	st.keywordsSynced = true
	c.store.logger.Info("rebuilt keyword index", zap.String("collection", c.name), zap.Int("records", len(all)))
	return nil
}

// OpenExisting is Open for callers that must not create collections, such as read paths
// driven by user input. It returns ErrCollectionNotFound when the partition is absent.
func OpenExisting[R Record](ctx context.Context, s *Store, name string, opts ...CollectionOption[R]) (*Collection[R], error) {
	ok, err := s.CollectionExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, SanitizeName(name))
	}
	return Open(ctx, s, name, opts...)
}

// Name returns the sanitized collection name.
func (c *Collection[R]) Name() string { return c.name }

// Dimensions returns the vector length every record must have.
func (c *Collection[R]) Dimensions() int { return c.store.cfg.Dimensions }

// lock resolves the live state for the collection and takes its lock. A state that was
// dropped or closed while waiting is re-resolved.
func (c *Collection[R]) lock(ctx context.Context, write bool) (*collectionState, func(), error) {
	for {
		st, err := c.store.state(ctx, c.name)
		if err != nil {
			return nil, nil, err
		}
		unlock := st.mu.RUnlock
		if write {
			st.mu.Lock()
			unlock = st.mu.Unlock
		} else {
			st.mu.RLock()
		}
		if !st.released {
			return st, unlock, nil
		}
		unlock()
	}
}

func (c *Collection[R]) checkVector(r R) error {
	if n := len(r.Vector()); n != c.store.cfg.Dimensions {
		return &DimensionMismatchError{Key: r.Key(), HasKey: true, Expected: c.store.cfg.Dimensions, Actual: n}
	}
	return nil
}

// encode serializes r with its vector cleared. The caller's record keeps its vector.
func (c *Collection[R]) encode(r R) ([]byte, error) {
	vec := r.Vector()
	r.SetVector(nil)
	defer r.SetVector(vec)
	data, err := c.store.codec.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %d: %w", r.Key(), err)
	}
	return data, nil
}

func (c *Collection[R]) decode(data []byte) (R, error) {
	r := c.newRecord()
	var err error
	if c.isPointer {
		err = c.store.codec.Unmarshal(data, r)
	} else {
		err = c.store.codec.Unmarshal(data, &r)
	}
	return r, err
}

// mirrorKeywords feeds keyword fields to filters that keep their own copy. A failure marks
// the mirror stale so searches match in memory until the next Open rebuilds it.
func (c *Collection[R]) mirrorKeywords(ctx context.Context, st *collectionState, records []R) {
	if c.keywordsOf == nil || st.keywordsStale {
		return
	}
	if _, ok := st.keywords.(keyword.MemoryFilter); ok {
		return
	}
	values := make(map[uint64]keyword.Value, len(records))
	for _, r := range records {
		values[r.Key()] = c.keywordsOf(r)
	}
	if err := st.keywords.Index(ctx, values); err != nil {
		st.keywordsStale = true
		c.store.logger.Warn("failed to index keywords", zap.String("collection", c.name), zap.Error(err))
	}
}

// Upsert stores r, replacing any record with the same key, and returns the key.
func (c *Collection[R]) Upsert(ctx context.Context, r R) (uint64, error) {
	start := time.Now()
	key, err := c.upsert(ctx, r)
	c.store.metrics.RecordUpsert(c.name, 1, time.Since(start), err)
	return key, err
}

func (c *Collection[R]) upsert(ctx context.Context, r R) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.checkVector(r); err != nil {
		return 0, err
	}
	key, vec := r.Key(), r.Vector()
	doc, err := c.encode(r)
	if err != nil {
		return 0, err
	}

	st, unlock, err := c.lock(ctx, true)
	if err != nil {
		return 0, err
	}
	defer unlock()

	old, had := st.index.Get(key)
	if had {
		st.index.Remove(key)
	}
	if err := st.index.Add(key, vec); err != nil {
		if had {
			_ = st.index.Add(key, old)
		}
		return 0, fmt.Errorf("index record %d: %w", key, err)
	}
	if err := c.store.records.Upsert(ctx, st.name, key, doc); err != nil {
		st.index.Remove(key)
		if had {
			_ = st.index.Add(key, old)
		}
		return 0, fmt.Errorf("store record %d: %w", key, err)
	}
	c.mirrorKeywords(ctx, st, []R{r})
	return key, c.store.afterMutation(st)
}

// UpsertBatch stores all records or none. Every vector is checked before anything is
// written; a mismatch fails the batch with a *DimensionMismatchError naming the key.
// When keys repeat, the last record wins.
func (c *Collection[R]) UpsertBatch(ctx context.Context, records []R) ([]uint64, error) {
	start := time.Now()
	keys, err := c.upsertBatch(ctx, records)
	c.store.metrics.RecordUpsert(c.name, len(records), time.Since(start), err)
	return keys, err
}

func (c *Collection[R]) upsertBatch(ctx context.Context, records []R) ([]uint64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	for _, r := range records {
		if err := c.checkVector(r); err != nil {
			return nil, err
		}
	}

	last := make(map[uint64]int, len(records))
	for i, r := range records {
		last[r.Key()] = i
	}
	var (
		keys    = make([]uint64, 0, len(last))
		vecs    = make([][]float32, 0, len(last))
		entries = make([]storage.Entry, 0, len(last))
		unique  = make([]R, 0, len(last))
	)
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if last[r.Key()] != i {
			continue
		}
		doc, err := c.encode(r)
		if err != nil {
			return nil, err
		}
		keys = append(keys, r.Key())
		vecs = append(vecs, r.Vector())
		entries = append(entries, storage.Entry{Key: r.Key(), Data: doc})
		unique = append(unique, r)
	}

	st, unlock, err := c.lock(ctx, true)
	if err != nil {
		return nil, err
	}
	defer unlock()

	stale := make(map[uint64][]float32)
	for _, k := range keys {
		if old, ok := st.index.Get(k); ok {
			stale[k] = old
			st.index.Remove(k)
		}
	}
	restore := func(added bool) {
		if added {
			for _, k := range keys {
				st.index.Remove(k)
			}
		}
		for k, old := range stale {
			_ = st.index.Add(k, old)
		}
	}

	if err := st.index.AddBatch(ctx, keys, vecs); err != nil {
		restore(false)
		return nil, fmt.Errorf("index batch: %w", err)
	}
	if err := c.store.records.UpsertBatch(ctx, st.name, entries); err != nil {
		restore(true)
		return nil, fmt.Errorf("store batch: %w", err)
	}
	c.mirrorKeywords(ctx, st, unique)
	return keys, c.store.afterMutation(st)
}

// Get reads a record from the store. The vector is not populated.
func (c *Collection[R]) Get(ctx context.Context, key uint64) (R, bool, error) {
	var zero R
	st, unlock, err := c.lock(ctx, false)
	if err != nil {
		return zero, false, err
	}
	defer unlock()

	data, ok, err := c.store.records.Get(ctx, st.name, key)
	if err != nil || !ok {
		return zero, false, err
	}
	r, err := c.decode(data)
	if err != nil {
		c.store.logger.Warn("skipping undecodable record",
			zap.String("collection", c.name), zap.Uint64("key", key), zap.Error(err))
		return zero, false, nil
	}
	return r, true, nil
}

// GetBatch reads the found records in request order. Missing and undecodable records are omitted.
func (c *Collection[R]) GetBatch(ctx context.Context, keys []uint64) ([]R, error) {
	st, unlock, err := c.lock(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	byKey, err := c.load(ctx, st, keys)
	if err != nil {
		return nil, err
	}
	out := make([]R, 0, len(byKey))
	for _, k := range keys {
		if r, ok := byKey[k]; ok {
			out = append(out, r)
			delete(byKey, k)
		}
	}
	return out, nil
}

// load batch-reads and decodes keys. Caller holds st.mu.
func (c *Collection[R]) load(ctx context.Context, st *collectionState, keys []uint64) (map[uint64]R, error) {
	entries, err := c.store.records.GetBatch(ctx, st.name, keys)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]R, len(entries))
	for _, e := range entries {
		r, err := c.decode(e.Data)
		if err != nil {
			c.store.logger.Warn("skipping undecodable record",
				zap.String("collection", c.name), zap.Uint64("key", e.Key), zap.Error(err))
			continue
		}
		out[e.Key] = r
	}
	return out, nil
}

// Delete removes key from the index and the store. Deleting a missing key is not an error.
func (c *Collection[R]) Delete(ctx context.Context, key uint64) error {
	return c.DeleteBatch(ctx, []uint64{key})
}

// DeleteBatch removes keys from the index, then from the store in one transaction.
func (c *Collection[R]) DeleteBatch(ctx context.Context, keys []uint64) error {
	start := time.Now()
	err := c.deleteBatch(ctx, keys)
	c.store.metrics.RecordDelete(c.name, len(keys), time.Since(start), err)
	return err
}

func (c *Collection[R]) deleteBatch(ctx context.Context, keys []uint64) error {
	if len(keys) == 0 {
		return nil
	}
	st, unlock, err := c.lock(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	removed := make(map[uint64][]float32)
	for _, k := range keys {
		if old, ok := st.index.Get(k); ok && st.index.Remove(k) {
			removed[k] = old
		}
	}
	if err := c.store.records.DeleteBatch(ctx, st.name, keys); err != nil {
		for k, old := range removed {
			_ = st.index.Add(k, old)
		}
		return fmt.Errorf("delete records: %w", err)
	}
	if err := st.keywords.Delete(ctx, keys); err != nil {
		st.keywordsStale = true
		c.store.logger.Warn("failed to delete keywords", zap.String("collection", c.name), zap.Error(err))
	}
	return c.store.afterMutation(st)
}

// Count returns the number of stored records.
func (c *Collection[R]) Count(ctx context.Context) (int64, error) {
	st, unlock, err := c.lock(ctx, false)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return c.store.records.Count(ctx, st.name)
}
