// Package models defines the records stored in hako collections and the search request/response shapes.
package models

import (
	"strings"

	"github.com/hyperjump/hako/internal/keyword"
)

// Collection names used by the definition loaders.
const (
	SchemaCollection = "SchemaDefinitions"
	NotesCollection  = "Notes"
	valueSuffix      = "ValueDefinitions"
)

// ValueCollectionName names the collection holding the known values of one column.
func ValueCollectionName(table, column string) string {
	return table + "_" + column + "_" + valueSuffix
}

// IsValueCollection reports whether name was produced by ValueCollectionName.
func IsValueCollection(name string) bool {
	return strings.HasSuffix(name, "_"+valueSuffix)
}

// ValueDefinition describes one known value of a column, e.g. status "A" meaning "Active".
type ValueDefinition struct {
	ID          uint64    `json:"id"`
	Table       string    `json:"table"`
	Column      string    `json:"column"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Source      string    `json:"source,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func (v *ValueDefinition) Key() uint64             { return v.ID }
func (v *ValueDefinition) Vector() []float32       { return v.Embedding }
func (v *ValueDefinition) SetVector(e []float32)   { v.Embedding = e }
func (v *ValueDefinition) Keywords() keyword.Value { return keyword.ListValue(v.Tags...) }

// SourceFile is the definition file the record was loaded from.
func (v *ValueDefinition) SourceFile() string { return v.Source }

// EmbeddingText is the text fed to the embedder.
func (v *ValueDefinition) EmbeddingText() string {
	if v.Description == "" {
		return v.Value
	}
	return v.Value + ": " + v.Description
}

// Summary is a one-line rendering for listings.
func (v *ValueDefinition) Summary() string {
	return v.Table + "." + v.Column + " = " + v.EmbeddingText()
}

// HasAllTags reports whether every tag is present, ignoring case.
func (v *ValueDefinition) HasAllTags(tags []string) bool {
	for _, want := range tags {
		found := false
		for _, have := range v.Tags {
			if strings.EqualFold(want, have) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SchemaDefinition describes one column of a table.
type SchemaDefinition struct {
	ID          uint64    `json:"id"`
	Table       string    `json:"table"`
	Column      string    `json:"column"`
	DataType    string    `json:"data_type,omitempty"`
	Description string    `json:"description,omitempty"`
	Source      string    `json:"source,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

func (s *SchemaDefinition) Key() uint64             { return s.ID }
func (s *SchemaDefinition) Vector() []float32       { return s.Embedding }
func (s *SchemaDefinition) SetVector(e []float32)   { s.Embedding = e }
func (s *SchemaDefinition) Keywords() keyword.Value { return keyword.TextValue(s.Table) }

// SourceFile is the definition file the record was loaded from.
func (s *SchemaDefinition) SourceFile() string { return s.Source }

// EmbeddingText is the text fed to the embedder.
func (s *SchemaDefinition) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(s.Table + "." + s.Column)
	if s.DataType != "" {
		b.WriteString(" (" + s.DataType + ")")
	}
	if s.Description != "" {
		b.WriteString(": " + s.Description)
	}
	return b.String()
}

// Summary is a one-line rendering for listings.
func (s *SchemaDefinition) Summary() string { return s.EmbeddingText() }

// Note is one chunk of free text extracted from a document.
type Note struct {
	ID        uint64    `json:"id"`
	Source    string    `json:"source"`
	Chunk     int       `json:"chunk"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

func (n *Note) Key() uint64             { return n.ID }
func (n *Note) Vector() []float32       { return n.Embedding }
func (n *Note) SetVector(e []float32)   { n.Embedding = e }
func (n *Note) Keywords() keyword.Value { return keyword.TextValue(n.Text) }

// SourceFile is the document the chunk was cut from.
func (n *Note) SourceFile() string { return n.Source }

// EmbeddingText is the text fed to the embedder.
func (n *Note) EmbeddingText() string { return n.Text }

// Summary is a one-line rendering for listings.
func (n *Note) Summary() string { return n.Text }
