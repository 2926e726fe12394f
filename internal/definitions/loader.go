// Package definitions turns definition files and documents into hako records: column
// values, column schema and free-text notes.
package definitions

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/hako/internal/extract"
	"github.com/hyperjump/hako/internal/models"
)

// ErrUnsupported is returned by LoadFile for extensions with no loader.
var ErrUnsupported = errors.New("unsupported definition file")

// Set is everything loaded from one file. Vectors are left empty for the Ingester to fill.
type Set struct {
	Source string
	Values []*models.ValueDefinition
	Schema []*models.SchemaDefinition
	Notes  []*models.Note
}

// Len returns the number of records in the set.
func (s *Set) Len() int { return len(s.Values) + len(s.Schema) + len(s.Notes) }

// Extensions lists every extension LoadFile accepts.
var Extensions = []string{".yaml", ".yml", ".xlsx", ".csv", ".txt", ".md", ".rst", ".pdf", ".docx"}

// Supported reports whether LoadFile has a loader for ext.
func Supported(ext string) bool {
	return extensionAllowed(ext, Extensions)
}

type valueRow struct {
	Table       string   `yaml:"table"`
	Column      string   `yaml:"column"`
	Value       string   `yaml:"value"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

type schemaRow struct {
	Table       string `yaml:"table"`
	Column      string `yaml:"column"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

type yamlDocument struct {
	Values []valueRow  `yaml:"values"`
	Schema []schemaRow `yaml:"schema"`
}

// LoadFile reads path and dispatches on its extension. chunker cuts document text into
// notes; a nil chunker keeps each document as a single note.
func LoadFile(path string, chunker *Chunker) (*Set, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	set := &Set{Source: abs}
	ext := strings.ToLower(filepath.Ext(abs))
	switch ext {
	case ".yaml", ".yml":
		err = set.loadYAML(abs)
	case ".xlsx":
		err = set.loadXLSX(abs)
	case ".csv":
		err = set.loadCSV(abs)
	default:
		if !extract.Supported(ext) {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, abs)
		}
		err = set.loadNotes(abs, chunker)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", abs, err)
	}
	return set, nil
}

func (s *Set) addValue(r valueRow) error {
	r.Table, r.Column, r.Value = strings.TrimSpace(r.Table), strings.TrimSpace(r.Column), strings.TrimSpace(r.Value)
	if r.Table == "" || r.Column == "" || r.Value == "" {
		return fmt.Errorf("value definition needs table, column and value: %+v", r)
	}
	tags := make([]string, 0, len(r.Tags))
	for _, t := range r.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	s.Values = append(s.Values, &models.ValueDefinition{
		ID:          ValueKey(r.Table, r.Column, r.Value),
		Table:       r.Table,
		Column:      r.Column,
		Value:       r.Value,
		Description: strings.TrimSpace(r.Description),
		Tags:        tags,
		Source:      s.Source,
	})
	return nil
}

func (s *Set) addSchema(r schemaRow) error {
	r.Table, r.Column = strings.TrimSpace(r.Table), strings.TrimSpace(r.Column)
	if r.Table == "" || r.Column == "" {
		return fmt.Errorf("schema definition needs table and column: %+v", r)
	}
	s.Schema = append(s.Schema, &models.SchemaDefinition{
		ID:          SchemaKey(r.Table, r.Column),
		Table:       r.Table,
		Column:      r.Column,
		DataType:    strings.TrimSpace(r.Type),
		Description: strings.TrimSpace(r.Description),
		Source:      s.Source,
	})
	return nil
}

func (s *Set) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	for _, r := range doc.Values {
		if err := s.addValue(r); err != nil {
			return err
		}
	}
	for _, r := range doc.Schema {
		if err := s.addSchema(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Set) loadXLSX(path string) error {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		kind := strings.ToLower(strings.TrimSpace(sheet))
		if kind != "values" && kind != "schema" {
			continue
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
		if err := s.addRows(kind, rows); err != nil {
			return fmt.Errorf("sheet %s: %w", sheet, err)
		}
	}
	return nil
}

func (s *Set) loadCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("parse csv: %w", err)
		}
		rows = append(rows, rec)
	}
	if len(rows) == 0 {
		return nil
	}
	kind := "values"
	if h := header(rows[0]); h["value"] < 0 && h["type"] >= 0 {
		kind = "schema"
	}
	return s.addRows(kind, rows)
}

// headerIndex maps lowercased column names to their index. Absent names map to -1.
type headerIndex map[string]int

func (h headerIndex) get(row []string, name string) string {
	i, ok := h[name]
	if !ok || i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func header(row []string) headerIndex {
	h := headerIndex{"table": -1, "column": -1, "value": -1, "description": -1, "tags": -1, "type": -1}
	for i, name := range row {
		name = strings.ToLower(strings.TrimSpace(name))
		switch name {
		case "data_type", "datatype":
			name = "type"
		}
		if _, known := h[name]; known {
			h[name] = i
		}
	}
	return h
}

// addRows reads a header row followed by data rows. Blank rows are skipped.
func (s *Set) addRows(kind string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	h := header(rows[0])
	if h["table"] < 0 || h["column"] < 0 {
		return errors.New("header must name table and column")
	}
	for n, row := range rows[1:] {
		if blank(row) {
			continue
		}
		var err error
		if kind == "schema" {
			err = s.addSchema(schemaRow{
				Table:       h.get(row, "table"),
				Column:      h.get(row, "column"),
				Type:        h.get(row, "type"),
				Description: h.get(row, "description"),
			})
		} else {
			err = s.addValue(valueRow{
				Table:       h.get(row, "table"),
				Column:      h.get(row, "column"),
				Value:       h.get(row, "value"),
				Description: h.get(row, "description"),
				Tags:        splitTags(h.get(row, "tags")),
			})
		}
		if err != nil {
			return fmt.Errorf("row %d: %w", n+2, err)
		}
	}
	return nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func splitTags(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
}

func (s *Set) loadNotes(path string, chunker *Chunker) error {
	text, err := extract.Extract(path)
	if err != nil {
		return err
	}
	text = Preprocess(text)
	if text == "" {
		return nil
	}
	chunks := []string{text}
	if chunker != nil {
		chunks = chunker.Chunk(text)
	}
	for i, c := range chunks {
		s.Notes = append(s.Notes, &models.Note{
			ID:     NoteKey(path, i),
			Source: path,
			Chunk:  i,
			Text:   c,
		})
	}
	return nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
