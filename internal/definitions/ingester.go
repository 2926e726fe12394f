package definitions

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

	"github.com/hyperjump/hako/internal/embedding"
	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/vectorstore"
)

// sourcesPartition tracks, per ingested file, the keys it produced in each collection.
const sourcesPartition = vectorstore.ReservedPrefix + "sources"

type sourceEntry struct {
	Path    string              `json:"path"`
	ModTime int64               `json:"mtime"`
	Size    int64               `json:"size"`
	Keys    map[string][]uint64 `json:"keys"`
}

// Result reports what one IngestFile call did.
type Result struct {
	Path    string `json:"path"`
	Values  int    `json:"values"`
	Schema  int    `json:"schema"`
	Notes   int    `json:"notes"`
	Removed int    `json:"removed"`
	Skipped bool   `json:"skipped,omitempty"`
}

// embeddable is a record the Ingester can embed and attribute to a file.
type embeddable interface {
	vectorstore.Record
	EmbeddingText() string
	SourceFile() string
}

// Ingester loads definition files, embeds them and writes them to their collections.
// Ingests are serialized.
type Ingester struct {
	store      *vectorstore.Store
	embedder   embedding.Embedder
	chunker    *Chunker
	extensions []string
	logger     *zap.Logger

	mu sync.Mutex
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithLogger sets a logger for debug output (file ingested, source removed, etc.).
func WithLogger(l *zap.Logger) IngesterOption {
	return func(i *Ingester) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithExtensions restricts the files IngestFile and IngestDirectory accept.
func WithExtensions(exts []string) IngesterOption {
	return func(i *Ingester) {
		if len(exts) > 0 {
			i.extensions = exts
		}
	}
}

// NewIngester creates an ingester writing into store. chunker may be nil, in which case
// every document becomes a single note.
func NewIngester(store *vectorstore.Store, embedder embedding.Embedder, chunker *Chunker, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		store:      store,
		embedder:   embedder,
		chunker:    chunker,
		extensions: Extensions,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Accepts reports whether path has an extension the ingester loads.
func (i *Ingester) Accepts(path string) bool {
	ext := filepath.Ext(path)
	return extensionAllowed(ext, i.extensions) && Supported(ext)
}

// IngestFile loads path and upserts its records. Files already ingested with the same
// mtime and size are skipped. Records the previous version of the file produced and the
// new one does not are deleted.
func (i *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("absolute path: %w", err)
	}
	if !i.Accepts(abs) {
		return Result{Path: abs}, fmt.Errorf("%w: extension %q not allowed", ErrUnsupported, filepath.Ext(abs))
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ingest(ctx, abs, false)
}

// ingest does the work of IngestFile. A forced ingest ignores the unchanged-file check
// and does not reclaim keys it drops. Caller holds i.mu.
func (i *Ingester) ingest(ctx context.Context, abs string, force bool) (Result, error) {
	res := Result{Path: abs}
	info, err := os.Stat(abs)
	if err != nil {
		return res, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return res, fmt.Errorf("not a regular file: %s", abs)
	}

	prev, found, err := i.source(ctx, abs)
	if err != nil {
		return res, err
	}
	if !force && found && prev.ModTime == info.ModTime().UnixNano() && prev.Size == info.Size() {
		i.logger.Debug("ingest skipping unchanged file", zap.String("path", abs))
		res.Skipped = true
		return res, nil
	}

	set, err := LoadFile(abs, i.chunker)
	if err != nil {
		return res, err
	}
	entry := sourceEntry{
		Path:    abs,
		ModTime: info.ModTime().UnixNano(),
		Size:    info.Size(),
		Keys:    make(map[string][]uint64),
	}

	byColumn := make(map[string][]*models.ValueDefinition)
	for _, v := range set.Values {
		name := models.ValueCollectionName(v.Table, v.Column)
		byColumn[name] = append(byColumn[name], v)
	}
	for _, name := range sortedKeys(byColumn) {
		if err := upsertEmbedded(ctx, i, name, byColumn[name], entry.Keys); err != nil {
			return res, err
		}
	}
	if err := upsertEmbedded(ctx, i, models.SchemaCollection, set.Schema, entry.Keys); err != nil {
		return res, err
	}
	if err := upsertEmbedded(ctx, i, models.NotesCollection, set.Notes, entry.Keys); err != nil {
		return res, err
	}
	res.Values, res.Schema, res.Notes = len(set.Values), len(set.Schema), len(set.Notes)

	deleted := make(map[string][]uint64)
	if found {
		for name, keys := range prev.Keys {
			stale := difference(keys, entry.Keys[name])
			gone, err := i.remove(ctx, name, abs, stale)
			if err != nil {
				return res, err
			}
			if len(gone) > 0 {
				deleted[name] = gone
			}
			res.Removed += len(gone)
		}
	}
	if err := i.putSource(ctx, entry); err != nil {
		return res, err
	}
	if !force {
		if err := i.reclaim(ctx, abs, deleted); err != nil {
			return res, err
		}
	}
	i.logger.Debug("ingest file done",
		zap.String("path", abs),
		zap.Int("values", res.Values),
		zap.Int("schema", res.Schema),
		zap.Int("notes", res.Notes),
		zap.Int("removed", res.Removed))
	return res, nil
}

// IngestDirectory walks dir recursively and ingests every accepted regular file. Returns
// the per-file results and the first error encountered, if any.
func (i *Ingester) IngestDirectory(ctx context.Context, dir string) ([]Result, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var results []Result
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !i.Accepts(path) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		res, err := i.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		results = append(results, res)
		return nil
	})
	return results, err
}

// RemoveSource deletes every record path contributed that has not since been claimed by
// another file, and forgets the file. Unknown paths remove nothing.
func (i *Ingester) RemoveSource(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, found, err := i.source(ctx, abs)
	if err != nil || !found {
		return 0, err
	}
	removed := 0
	deleted := make(map[string][]uint64)
	for name, keys := range entry.Keys {
		gone, err := i.remove(ctx, name, abs, keys)
		if err != nil {
			return removed, err
		}
		if len(gone) > 0 {
			deleted[name] = gone
		}
		removed += len(gone)
	}
	if err := i.store.Records().Delete(ctx, sourcesPartition, sourceKey(abs)); err != nil {
		return removed, fmt.Errorf("forget source: %w", err)
	}
	if err := i.reclaim(ctx, abs, deleted); err != nil {
		return removed, err
	}
	i.logger.Debug("ingest source removed", zap.String("path", abs), zap.Int("records", removed))
	return removed, nil
}

// RemovePath removes every tracked source at or below path, so a deleted directory
// takes its files with it.
func (i *Ingester) RemovePath(ctx context.Context, path string) (int, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	sources, err := i.Sources(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, src := range sources {
		rel, err := filepath.Rel(abs, src)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		n, err := i.RemoveSource(ctx, src)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// Sources lists the tracked files in path order.
func (i *Ingester) Sources(ctx context.Context) ([]string, error) {
	entries, err := i.store.Records().GetAll(ctx, sourcesPartition)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		var se sourceEntry
		if err := i.store.Codec().Unmarshal(e.Data, &se); err != nil {
			i.logger.Warn("skipping unreadable source entry", zap.Uint64("key", e.Key), zap.Error(err))
			continue
		}
		paths = append(paths, se.Path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Prune removes the records of tracked files that no longer exist on disk.
func (i *Ingester) Prune(ctx context.Context) (int, error) {
	paths, err := i.Sources(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		n, err := i.RemoveSource(ctx, p)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

func sourceKey(abs string) uint64 {
	return KeyFor("source", filepath.Clean(abs))
}

func (i *Ingester) source(ctx context.Context, abs string) (sourceEntry, bool, error) {
	var se sourceEntry
	data, ok, err := i.store.Records().Get(ctx, sourcesPartition, sourceKey(abs))
	if err != nil || !ok {
		return se, false, err
	}
	if err := i.store.Codec().Unmarshal(data, &se); err != nil {
		i.logger.Warn("discarding unreadable source entry", zap.String("path", abs), zap.Error(err))
		return se, false, nil
	}
	return se, true, nil
}

func (i *Ingester) putSource(ctx context.Context, se sourceEntry) error {
	records := i.store.Records()
	if err := records.EnsureCreated(ctx, sourcesPartition); err != nil {
		return fmt.Errorf("track source: %w", err)
	}
	data, err := i.store.Codec().Marshal(se)
	if err != nil {
		return fmt.Errorf("encode source: %w", err)
	}
	if err := records.Upsert(ctx, sourcesPartition, sourceKey(se.Path), data); err != nil {
		return fmt.Errorf("track source: %w", err)
	}
	return nil
}

// reclaim re-ingests the other tracked files that also produced a deleted key, so a record
// two files define outlives the removal of the one that wrote it last. A file that fails
// to re-ingest is logged and left for the next sync or Prune. Caller holds i.mu.
func (i *Ingester) reclaim(ctx context.Context, abs string, deleted map[string][]uint64) error {
	if len(deleted) == 0 {
		return nil
	}
	entries, err := i.store.Records().GetAll(ctx, sourcesPartition)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	var claimants []string
	for _, e := range entries {
		var se sourceEntry
		if err := i.store.Codec().Unmarshal(e.Data, &se); err != nil || se.Path == abs {
			continue
		}
		if claimsAny(se, deleted) {
			claimants = append(claimants, se.Path)
		}
	}
	sort.Strings(claimants)
	for _, p := range claimants {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := i.ingest(ctx, p, true); err != nil {
			i.logger.Warn("failed to restore records defined by another file",
				zap.String("path", p), zap.String("removed", abs), zap.Error(err))
			continue
		}
		i.logger.Debug("ingest restored shared records", zap.String("path", p), zap.String("removed", abs))
	}
	return nil
}

// claimsAny reports whether se produced any of the keys in deleted.
func claimsAny(se sourceEntry, deleted map[string][]uint64) bool {
	for name, keys := range deleted {
		if len(difference(keys, se.Keys[name])) < len(keys) {
			return true
		}
	}
	return false
}

// remove deletes the keys of collection name that still belong to source and returns them.
func (i *Ingester) remove(ctx context.Context, name, source string, keys []uint64) ([]uint64, error) {
	switch {
	case models.IsValueCollection(name):
		return removeOwned[*models.ValueDefinition](ctx, i.store, name, source, keys)
	case name == models.SchemaCollection:
		return removeOwned[*models.SchemaDefinition](ctx, i.store, name, source, keys)
	case name == models.NotesCollection:
		return removeOwned[*models.Note](ctx, i.store, name, source, keys)
	default:
		i.logger.Warn("source references unknown collection", zap.String("collection", name))
		return nil, nil
	}
}

func upsertEmbedded[R embeddable](ctx context.Context, i *Ingester, name string, records []R, keys map[string][]uint64) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, len(records))
	for j, r := range records {
		texts[j] = r.EmbeddingText()
	}
	vecs, err := i.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s: %w", name, err)
	}
	for j, r := range records {
		r.SetVector(vecs[j])
	}
	c, err := vectorstore.Open[R](ctx, i.store, name)
	if err != nil {
		return err
	}
	written, err := c.UpsertBatch(ctx, records)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	keys[c.Name()] = append(keys[c.Name()], written...)
	return nil
}

func removeOwned[R embeddable](ctx context.Context, s *vectorstore.Store, name, source string, keys []uint64) ([]uint64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	c, err := vectorstore.OpenExisting[R](ctx, s, name)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	current, err := c.GetBatch(ctx, keys)
	if err != nil {
		return nil, err
	}
	owned := make([]uint64, 0, len(current))
	for _, r := range current {
		if r.SourceFile() == source {
			owned = append(owned, r.Key())
		}
	}
	if err := c.DeleteBatch(ctx, owned); err != nil {
		return nil, fmt.Errorf("delete from %s: %w", name, err)
	}
	return owned, nil
}

// difference returns the keys in a that are not in b.
func difference(a, b []uint64) []uint64 {
	keep := make(map[uint64]struct{}, len(b))
	for _, k := range b {
		keep[k] = struct{}{}
	}
	var out []uint64
	for _, k := range a {
		if _, ok := keep[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
