// Package vectorstore binds vector indexes and a record store into named collections
// with batched mutation and hybrid search.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/hako/internal/keyword"
	"github.com/hyperjump/hako/internal/storage"
	"github.com/hyperjump/hako/internal/vector"
)

// SavePolicy controls when index files are written.
type SavePolicy string

const (
	// SavePolicySync saves a collection's index after every successful mutation, single or batch.
	SavePolicySync SavePolicy = "sync"
	// SavePolicyDeferred saves only on Flush and Close. Mutations since the last flush are
	// lost if the process dies.
	SavePolicyDeferred SavePolicy = "deferred"
)

// Keyword filter backends.
const (
	KeywordIndexMemory = "memory"
	KeywordIndexBleve  = "bleve"
)

// Config holds engine-wide settings shared by every collection.
type Config struct {
	// PersistDir holds one index file per collection. Relative paths resolve against BaseDir.
	PersistDir string
	// BaseDir anchors a relative PersistDir. Empty means the process working directory.
	BaseDir string

	Dimensions      int
	IndexType       vector.IndexType
	Metric          vector.Metric
	Quantization    vector.Quantization
	Connectivity    int
	ExpansionAdd    int
	ExpansionSearch int

	// Search over-fetches max(BaseFetchCount, (top+skip)*FetchMultiplier) ANN candidates.
	BaseFetchCount  int
	FetchMultiplier int

	SavePolicy   SavePolicy
	KeywordIndex string
}

// Validate checks the configuration; every failure wraps ErrInvalidConfig.
func (c Config) Validate() error {
	if c.PersistDir == "" {
		return configError("persist directory is required")
	}
	if c.Dimensions <= 0 {
		return configError("dimensions must be positive, got %d", c.Dimensions)
	}
	if c.FetchMultiplier <= 0 {
		return configError("fetch multiplier must be positive, got %d", c.FetchMultiplier)
	}
	if c.BaseFetchCount < 0 {
		return configError("base fetch count must not be negative, got %d", c.BaseFetchCount)
	}
	switch c.IndexType {
	case "", vector.IndexTypeHNSW, vector.IndexTypeFlat:
	default:
		return configError("unknown index type %q", c.IndexType)
	}
	switch c.SavePolicy {
	case "", SavePolicySync, SavePolicyDeferred:
	default:
		return configError("unknown save policy %q", c.SavePolicy)
	}
	switch c.KeywordIndex {
	case "", KeywordIndexMemory, KeywordIndexBleve:
	default:
		return configError("unknown keyword index %q", c.KeywordIndex)
	}
	if c.Connectivity != 0 && c.Connectivity < 2 {
		return configError("connectivity must be at least 2, got %d", c.Connectivity)
	}
	if err := c.indexOptions().Validate(); err != nil {
		return configError("%v", err)
	}
	return nil
}

func (c Config) indexOptions() vector.Options {
	return vector.Options{
		Dimensions:      c.Dimensions,
		Metric:          c.Metric,
		Quantization:    c.Quantization,
		Connectivity:    c.Connectivity,
		ExpansionAdd:    c.ExpansionAdd,
		ExpansionSearch: c.ExpansionSearch,
	}.WithDefaults()
}

// collectionState is the per-name state shared by every Collection handle opened on that name.
// mu is held for writing across mutations and for reading across searches and reads.
type collectionState struct {
	name      string
	mu        sync.RWMutex
	index     vector.Index
	keywords  keyword.Filter
	indexPath string
	bleveDir  string
	dirty     bool
	// keywordsSynced is set once a mirrored keyword index has been checked against the records.
	keywordsSynced bool
	// keywordsStale is set when a mirror write failed; searches match in memory until a rebuild.
	keywordsStale bool
	// released is set once the state is unregistered; handles waiting on mu re-resolve.
	released bool
}

// Store is the engine root: configuration, the record store and the registry of live collections.
type Store struct {
	cfg     Config
	records storage.Store
	codec   storage.Codec
	logger  *zap.Logger
	metrics MetricsCollector

	mu          sync.Mutex
	collections map[string]*collectionState
	closed      bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCodec sets the document codec. Defaults to JSON.
func WithCodec(c storage.Codec) Option {
	return func(s *Store) {
		if c != nil {
			s.codec = c
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New validates cfg and creates a Store over records. The caller keeps ownership of records.
func New(cfg Config, records storage.Store, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if records == nil {
		return nil, configError("record store is required")
	}
	if !filepath.IsAbs(cfg.PersistDir) && cfg.BaseDir != "" {
		cfg.PersistDir = filepath.Join(cfg.BaseDir, cfg.PersistDir)
	}
	abs, err := filepath.Abs(cfg.PersistDir)
	if err != nil {
		return nil, configError("resolve persist directory: %v", err)
	}
	cfg.PersistDir = abs
	if cfg.IndexType == "" {
		cfg.IndexType = vector.IndexTypeHNSW
	}
	if cfg.SavePolicy == "" {
		cfg.SavePolicy = SavePolicySync
	}
	if cfg.KeywordIndex == "" {
		cfg.KeywordIndex = KeywordIndexMemory
	}

	s := &Store{
		cfg:         cfg,
		records:     records,
		codec:       storage.JSONCodec{},
		logger:      zap.NewNop(),
		metrics:     NoopMetrics{},
		collections: make(map[string]*collectionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(cfg.PersistDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persist directory: %w", err)
	}
	return s, nil
}

// Config returns the resolved configuration.
func (s *Store) Config() Config { return s.cfg }

// Records returns the record store collections are persisted in.
func (s *Store) Records() storage.Store { return s.records }

// Codec returns the document codec.
func (s *Store) Codec() storage.Codec { return s.codec }

// IndexPath returns the index file path for a collection name.
func (s *Store) IndexPath(name string) string {
	return filepath.Join(s.cfg.PersistDir, SanitizeName(name)+vector.FileExtension(s.cfg.IndexType))
}

// ReservedPrefix marks record partitions that hold bookkeeping rather than a collection.
// They are hidden from ListCollections and cannot be opened as collections.
const ReservedPrefix = "__"

func sanitize(name string) (string, error) {
	n := SanitizeName(name)
	if n == "" || strings.HasPrefix(n, ReservedPrefix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

// CollectionExists reports whether the collection's record partition exists.
func (s *Store) CollectionExists(ctx context.Context, name string) (bool, error) {
	n, err := sanitize(name)
	if err != nil {
		return false, err
	}
	return s.records.Exists(ctx, n)
}

// CreateCollection ensures the partition exists and loads or builds the index.
func (s *Store) CreateCollection(ctx context.Context, name string) error {
	_, err := s.state(ctx, name)
	return err
}

// ListCollections returns the names of all collections in the record store.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	parts, err := s.records.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	names := parts[:0]
	for _, p := range parts {
		if !strings.HasPrefix(p, ReservedPrefix) {
			names = append(names, p)
		}
	}
	return names, nil
}

// state returns the registered state for name, creating it on first access.
func (s *Store) state(ctx context.Context, name string) (*collectionState, error) {
	n, err := sanitize(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if st, ok := s.collections[n]; ok {
		return st, nil
	}

	if err := s.records.EnsureCreated(ctx, n); err != nil {
		return nil, fmt.Errorf("create partition for %s: %w", n, err)
	}
	st := &collectionState{
		name:      n,
		indexPath: s.IndexPath(n),
		bleveDir:  filepath.Join(s.cfg.PersistDir, n+".bleve"),
	}
	if st.index, err = s.openIndex(ctx, st); err != nil {
		return nil, err
	}
	if st.keywords, err = s.openKeywords(st); err != nil {
		_ = st.index.Close()
		return nil, err
	}
	s.collections[n] = st
	return st, nil
}

func (s *Store) openIndex(ctx context.Context, st *collectionState) (vector.Index, error) {
	if _, err := os.Stat(st.indexPath); errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("creating index", zap.String("collection", st.name), zap.String("type", string(s.cfg.IndexType)))
		return vector.NewIndex(s.cfg.IndexType, s.cfg.indexOptions())
	}

	idx, err := vector.Load(st.indexPath)
	if err != nil {
		return nil, fmt.Errorf("load index for %s: %w", st.name, err)
	}
	if idx.Dimensions() != s.cfg.Dimensions {
		_ = idx.Close()
		return nil, fmt.Errorf("index %s has %d dimensions, store is configured for %d",
			st.indexPath, idx.Dimensions(), s.cfg.Dimensions)
	}
	if n, err := s.records.Count(ctx, st.name); err == nil && n != int64(idx.Size()) {
		s.logger.Warn("index out of sync with record store",
			zap.String("collection", st.name), zap.Int64("records", n), zap.Int("vectors", idx.Size()))
	}
	s.logger.Info("loaded index", zap.String("collection", st.name), zap.Int("vectors", idx.Size()))
	return idx, nil
}

func (s *Store) openKeywords(st *collectionState) (keyword.Filter, error) {
	if s.cfg.KeywordIndex != KeywordIndexBleve {
		return keyword.MemoryFilter{}, nil
	}
	f, err := keyword.NewBleveFilter(st.bleveDir)
	if err != nil {
		return nil, fmt.Errorf("open keyword index for %s: %w", st.name, err)
	}
	return f, nil
}

// resetKeywords swaps the mirrored keyword index for an empty one. Caller holds st.mu for
// writing. On failure the collection falls back to in-memory matching.
func (s *Store) resetKeywords(st *collectionState) error {
	if err := st.keywords.Close(); err != nil {
		s.logger.Warn("failed to close keyword index", zap.String("collection", st.name), zap.Error(err))
	}
	st.keywords = keyword.MemoryFilter{}
	if err := os.RemoveAll(st.bleveDir); err != nil {
		return fmt.Errorf("remove keyword index for %s: %w", st.name, err)
	}
	f, err := s.openKeywords(st)
	if err != nil {
		return err
	}
	st.keywords = f
	return nil
}

// afterMutation saves the index under the sync policy. Caller holds st.mu for writing.
func (s *Store) afterMutation(st *collectionState) error {
	st.dirty = true
	if s.cfg.SavePolicy != SavePolicySync {
		return nil
	}
	if err := st.index.Save(st.indexPath); err != nil {
		return fmt.Errorf("persist index for %s: %w", st.name, err)
	}
	st.dirty = false
	return nil
}

// DeleteCollection removes every key from the index and the record store, drops the
// partition, unregisters the collection and deletes its files.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	n, err := sanitize(name)
	if err != nil {
		return err
	}
	exists, err := s.records.Exists(ctx, n)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(s.IndexPath(n)); !exists && errors.Is(statErr, os.ErrNotExist) {
		s.mu.Lock()
		_, live := s.collections[n]
		s.mu.Unlock()
		if !live {
			return nil
		}
	}

	st, err := s.state(ctx, n)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.released {
		return nil
	}

	entries, err := s.records.GetAll(ctx, n)
	if err != nil {
		return fmt.Errorf("list %s: %w", n, err)
	}
	keys := make([]uint64, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
		st.index.Remove(e.Key)
	}
	if len(keys) > 0 {
		if err := s.records.DeleteBatch(ctx, n, keys); err != nil {
			return fmt.Errorf("delete records of %s: %w", n, err)
		}
	}
	if err := s.records.Drop(ctx, n); err != nil {
		return fmt.Errorf("drop partition %s: %w", n, err)
	}

	s.mu.Lock()
	delete(s.collections, n)
	s.mu.Unlock()
	st.released = true

	var errs []error
	errs = append(errs, st.index.Close(), st.keywords.Close())
	if err := os.Remove(st.indexPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(st.bleveDir); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("deleted collection", zap.String("collection", n), zap.Int("records", len(keys)))
	return errors.Join(errs...)
}

// Flush saves every index with unsaved changes.
func (s *Store) Flush(ctx context.Context) error {
	var errs []error
	for _, st := range s.live() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.save(st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) save(st *collectionState) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.dirty {
		return nil
	}
	if err := st.index.Save(st.indexPath); err != nil {
		return fmt.Errorf("save index for %s: %w", st.name, err)
	}
	st.dirty = false
	return nil
}

func (s *Store) release(st *collectionState) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	var errs []error
	if st.dirty {
		if err := st.index.Save(st.indexPath); err != nil {
			errs = append(errs, fmt.Errorf("save index for %s: %w", st.name, err))
		} else {
			st.dirty = false
		}
	}
	st.released = true
	errs = append(errs, st.keywords.Close(), st.index.Close())
	return errors.Join(errs...)
}

func (s *Store) live() []*collectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*collectionState, 0, len(s.collections))
	for _, st := range s.collections {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Close saves every live index and releases it. A failed save is logged and does not stop
// the remaining collections from being saved; all failures are returned joined.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, st := range s.live() {
		if err := s.release(st); err != nil {
			s.logger.Warn("failed to save index on close", zap.String("collection", st.name), zap.Error(err))
			errs = append(errs, err)
		}
	}
	s.mu.Lock()
	s.collections = make(map[string]*collectionState)
	s.mu.Unlock()
	return errors.Join(errs...)
}

// CollectionStats summarizes one collection.
type CollectionStats struct {
	Name       string `json:"name"`
	Records    int64  `json:"records"`
	Vectors    int    `json:"vectors"`
	IndexBytes int64  `json:"index_bytes"`
	Loaded     bool   `json:"loaded"`
}

// Stats reports every collection in the record store. Collections that have not been
// opened report Vectors as zero.
func (s *Store) Stats(ctx context.Context) ([]CollectionStats, error) {
	names, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CollectionStats, 0, len(names))
	for _, n := range names {
		cs := CollectionStats{Name: n}
		if cs.Records, err = s.records.Count(ctx, n); err != nil {
			return nil, err
		}
		s.mu.Lock()
		st, ok := s.collections[n]
		s.mu.Unlock()
		if ok {
			cs.Loaded = true
			cs.Vectors = st.index.Size()
		}
		cs.IndexBytes, _ = storage.DiskUsageBytes(s.IndexPath(n), filepath.Join(s.cfg.PersistDir, n+".bleve"))
		out = append(out, cs)
	}
	return out, nil
}
