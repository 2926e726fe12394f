package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/hako/internal/definitions"
	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/vectorstore"
)

// record is what every collection kind stores.
type record interface {
	vectorstore.Record
	models.Summarizer
	EmbeddingText() string
}

type kindOps struct {
	search func(ctx context.Context, s *vectorstore.Store, name string, req *models.SearchRequest, query []float32) ([]models.Hit, error)
	get    func(ctx context.Context, s *vectorstore.Store, name string, key uint64) (any, bool, error)
	delete func(ctx context.Context, s *vectorstore.Store, name string, keys []uint64) error
	upsert func(ctx context.Context, e *Engine, name string, decode func(v any) error) ([]uint64, error)
}

var opsByKind = map[Kind]kindOps{
	KindValue:  opsFor(prepareValue, valueFilter),
	KindSchema: opsFor[*models.SchemaDefinition](prepareSchema, nil),
	KindNote:   opsFor[*models.Note](prepareNote, nil),
}

var errNullRecord = errors.New("record is null")

func prepareValue(v *models.ValueDefinition) error {
	if v == nil {
		return errNullRecord
	}
	if v.Table == "" || v.Column == "" || v.Value == "" {
		return errors.New("value definition needs table, column and value")
	}
	if v.ID == 0 {
		v.ID = definitions.ValueKey(v.Table, v.Column, v.Value)
	}
	return nil
}

func valueFilter(req *models.SearchRequest) func(*models.ValueDefinition) bool {
	if len(req.TagsAll) == 0 {
		return nil
	}
	tags := req.TagsAll
	return func(v *models.ValueDefinition) bool { return v.HasAllTags(tags) }
}

func prepareSchema(s *models.SchemaDefinition) error {
	if s == nil {
		return errNullRecord
	}
	if s.Table == "" || s.Column == "" {
		return errors.New("schema definition needs table and column")
	}
	if s.ID == 0 {
		s.ID = definitions.SchemaKey(s.Table, s.Column)
	}
	return nil
}

func prepareNote(n *models.Note) error {
	if n == nil {
		return errNullRecord
	}
	if n.Text == "" {
		return errors.New("note needs text")
	}
	if n.ID == 0 {
		if n.Source == "" {
			return errors.New("note needs an id or a source")
		}
		n.ID = definitions.NoteKey(n.Source, n.Chunk)
	}
	return nil
}

func opsFor[R record](prepare func(R) error, filter func(*models.SearchRequest) func(R) bool) kindOps {
	return kindOps{
		search: func(ctx context.Context, s *vectorstore.Store, name string, req *models.SearchRequest, query []float32) ([]models.Hit, error) {
			c, err := vectorstore.OpenExisting[R](ctx, s, name)
			if err != nil {
				return nil, err
			}
			opts := vectorstore.SearchOptions[R]{
				Top:            req.Top,
				Skip:           req.Skip,
				Keywords:       req.Keywords,
				ScoreFilter:    req.ScoreFilter(),
				IncludeVectors: req.IncludeVectors,
			}
			if filter != nil {
				opts.Filter = filter(req)
			}
			rs, err := c.Search(ctx, query, opts)
			if err != nil {
				return nil, err
			}
			var hits []models.Hit
			for r, err := range rs.All() {
				if err != nil {
					return nil, err
				}
				hits = append(hits, models.NewHit(r.Record.Key(), r.Score, r.Record))
			}
			return hits, nil
		},
		get: func(ctx context.Context, s *vectorstore.Store, name string, key uint64) (any, bool, error) {
			c, err := vectorstore.OpenExisting[R](ctx, s, name)
			if err != nil {
				return nil, false, err
			}
			r, ok, err := c.Get(ctx, key)
			if err != nil || !ok {
				return nil, ok, err
			}
			return r, true, nil
		},
		delete: func(ctx context.Context, s *vectorstore.Store, name string, keys []uint64) error {
			c, err := vectorstore.OpenExisting[R](ctx, s, name)
			if err != nil {
				return err
			}
			return c.DeleteBatch(ctx, keys)
		},
		upsert: func(ctx context.Context, e *Engine, name string, decode func(v any) error) ([]uint64, error) {
			var records []R
			if err := decode(&records); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			if len(records) == 0 {
				return nil, fmt.Errorf("%w: no records", ErrInvalidRequest)
			}
			var texts []string
			var missing []R
			for i, r := range records {
				if err := prepare(r); err != nil {
					return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidRequest, i, err)
				}
				if len(r.Vector()) == 0 {
					texts = append(texts, r.EmbeddingText())
					missing = append(missing, r)
				}
			}
			if len(missing) > 0 {
				vecs, err := e.embedder.EmbedBatch(ctx, texts)
				if err != nil {
					return nil, fmt.Errorf("embed records: %w", err)
				}
				for i, r := range missing {
					r.SetVector(vecs[i])
				}
			}
			c, err := vectorstore.Open[R](ctx, e.store, name)
			if err != nil {
				return nil, err
			}
			return c.UpsertBatch(ctx, records)
		},
	}
}
