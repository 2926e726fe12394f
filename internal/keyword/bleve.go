package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// keywordDoc is what Bleve stores per record. Values are lowercased at index time and
// mapped as single keyword terms, so list items match exactly and text matches by wildcard.
type keywordDoc struct {
	Text string   `json:"text"`
	Tags []string `json:"tags"`
}

// BleveFilter mirrors each record's keyword field in a Bleve index.
type BleveFilter struct {
	index bleve.Index
}

var _ Filter = (*BleveFilter)(nil)

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", bleve.NewKeywordFieldMapping())
	doc.AddFieldMappingsAt("tags", bleve.NewKeywordFieldMapping())
	im.DefaultMapping = doc
	return im
}

// NewBleveFilter creates or opens the Bleve index at path.
// Remove the directory after changing the mapping to force a rebuild.
func NewBleveFilter(path string) (*BleveFilter, error) {
	if _, err := os.Stat(path); err == nil {
		index, err := bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", err)
		}
		return &BleveFilter{index: index}, nil
	}
	index, err := bleve.New(path, newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveFilter{index: index}, nil
}

// NewMemBleveFilter creates a Bleve index that lives only in memory.
func NewMemBleveFilter() (*BleveFilter, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveFilter{index: index}, nil
}

// wildcardEscaper strips wildcard metacharacters so keywords match literally.
var wildcardEscaper = strings.NewReplacer("*", "", "?", "")

func docID(key uint64) string { return strconv.FormatUint(key, 10) }

// Index stores (or replaces) the keyword fields of the given keys.
func (b *BleveFilter) Index(ctx context.Context, values map[uint64]Value) error {
	batch := b.index.NewBatch()
	for k, v := range values {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := keywordDoc{Text: strings.ToLower(v.Text)}
		for _, item := range v.List {
			doc.Tags = append(doc.Tags, strings.ToLower(item))
		}
		if err := batch.Index(docID(k), doc); err != nil {
			return fmt.Errorf("index key %d: %w", k, err)
		}
	}
	return b.index.Batch(batch)
}

// Delete drops the given keys from the index.
func (b *BleveFilter) Delete(_ context.Context, keys []uint64) error {
	batch := b.index.NewBatch()
	for _, k := range keys {
		batch.Delete(docID(k))
	}
	return b.index.Batch(batch)
}

// Matching restricts the query to the candidate doc ids and ORs one clause per keyword.
func (b *BleveFilter) Matching(ctx context.Context, fields map[uint64]Value, keywords []string) (map[uint64]bool, error) {
	if len(fields) == 0 {
		return map[uint64]bool{}, nil
	}
	var clauses []blevequery.Query
	for _, kw := range Normalize(keywords) {
		kw = strings.ToLower(kw)
		tq := bleve.NewTermQuery(kw)
		tq.SetField("tags")
		clauses = append(clauses, tq)
		if lit := wildcardEscaper.Replace(kw); lit != "" {
			wq := bleve.NewWildcardQuery("*" + lit + "*")
			wq.SetField("text")
			clauses = append(clauses, wq)
		}
	}
	if len(clauses) == 0 {
		return map[uint64]bool{}, nil
	}

	ids := make([]string, 0, len(fields))
	for k := range fields {
		ids = append(ids, docID(k))
	}
	q := bleve.NewConjunctionQuery(bleve.NewDocIDQuery(ids), bleve.NewDisjunctionQuery(clauses...))
	req := bleve.NewSearchRequestOptions(q, len(ids), 0, false)
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make(map[uint64]bool, len(res.Hits))
	for _, hit := range res.Hits {
		k, err := strconv.ParseUint(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out[k] = true
	}
	return out, nil
}

// DocCount returns the number of indexed records.
func (b *BleveFilter) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveFilter) Close() error {
	return b.index.Close()
}
