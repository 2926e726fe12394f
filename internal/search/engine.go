// Package search runs record operations and searches against hako collections, picking
// the record type from the collection name.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/hako/internal/embedding"
	"github.com/hyperjump/hako/internal/keyword"
	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/vectorstore"
)

var (
	// ErrUnsupportedCollection is returned for names that map to no record type.
	ErrUnsupportedCollection = errors.New("unsupported collection")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// Kind is the record type a collection holds.
type Kind string

const (
	KindValue  Kind = "value"
	KindSchema Kind = "schema"
	KindNote   Kind = "note"
)

// KindOf maps a collection name to its record type.
func KindOf(collection string) (Kind, error) {
	name := vectorstore.SanitizeName(collection)
	switch {
	case models.IsValueCollection(name):
		return KindValue, nil
	case name == models.SchemaCollection:
		return KindSchema, nil
	case name == models.NotesCollection:
		return KindNote, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedCollection, collection)
	}
}

// Engine runs typed collection operations for callers that only know a collection name.
type Engine struct {
	store      *vectorstore.Store
	embedder   embedding.Embedder
	defaultTop int
	maxTop     int
}

// NewEngine creates an engine. Requests without a top get defaultTop results, and no
// request gets more than maxTop.
func NewEngine(store *vectorstore.Store, embedder embedding.Embedder, defaultTop, maxTop int) *Engine {
	if defaultTop <= 0 {
		defaultTop = vectorstore.DefaultTop
	}
	if maxTop < defaultTop {
		maxTop = defaultTop
	}
	return &Engine{store: store, embedder: embedder, defaultTop: defaultTop, maxTop: maxTop}
}

// Store returns the underlying vector store.
func (e *Engine) Store() *vectorstore.Store { return e.store }

func (e *Engine) ops(collection string) (kindOps, error) {
	k, err := KindOf(collection)
	if err != nil {
		return kindOps{}, err
	}
	return opsByKind[k], nil
}

// Search embeds the query text when no vector is given and runs a hybrid search.
func (e *Engine) Search(ctx context.Context, collection string, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	ops, err := e.ops(collection)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(e.defaultTop, e.maxTop); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	query := req.Vector
	if len(query) == 0 {
		if query, err = e.embedder.Embed(ctx, req.Query); err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	hits, err := ops.search(ctx, e.store, collection, req, query)
	if err != nil {
		return nil, e.explain(ctx, collection, err)
	}
	if hits == nil {
		hits = []models.Hit{}
	}
	return &models.SearchResponse{
		Collection: vectorstore.SanitizeName(collection),
		Query:      req.Query,
		Hits:       hits,
		Total:      len(hits),
		QueryTime:  time.Since(start).Milliseconds(),
	}, nil
}

// Get returns one record of an existing collection.
func (e *Engine) Get(ctx context.Context, collection string, key uint64) (any, bool, error) {
	ops, err := e.ops(collection)
	if err != nil {
		return nil, false, err
	}
	rec, ok, err := ops.get(ctx, e.store, collection, key)
	if err != nil {
		return nil, false, e.explain(ctx, collection, err)
	}
	return rec, ok, nil
}

// Delete removes keys from an existing collection.
func (e *Engine) Delete(ctx context.Context, collection string, keys ...uint64) error {
	ops, err := e.ops(collection)
	if err != nil {
		return err
	}
	return e.explain(ctx, collection, ops.delete(ctx, e.store, collection, keys))
}

// explain names existing collections close to a missing one.
func (e *Engine) explain(ctx context.Context, collection string, err error) error {
	if !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return err
	}
	names, listErr := e.store.ListCollections(ctx)
	if listErr != nil {
		return err
	}
	if s := keyword.Suggest(vectorstore.SanitizeName(collection), names, 3); len(s) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(s, ", "))
	}
	return err
}

// Upsert decodes a batch of records with decode, which receives a pointer to a slice of
// the collection's record type. Records without a key get the key their content derives;
// records without a vector are embedded. The collection is created if needed.
func (e *Engine) Upsert(ctx context.Context, collection string, decode func(v any) error) ([]uint64, error) {
	ops, err := e.ops(collection)
	if err != nil {
		return nil, err
	}
	return ops.upsert(ctx, e, collection, decode)
}
