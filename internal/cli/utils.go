// Package cli provides output formatting shared by the hako commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/hako/internal/models"
	"github.com/hyperjump/hako/internal/vectorstore"
	"github.com/hyperjump/hako/pkg/utils"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one line per hit.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, h := range response.Hits {
			fmt.Fprintf(w, "%.4f\t%d\t%s\n", h.Score, h.Key, Truncate(h.Summary, 120))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %s in %dms\n\n", response.Total, response.Collection, response.QueryTime)
	for i, h := range response.Hits {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.4f | Key: %d\n", i+1, h.Score, h.Key)
		if len(h.Tags) > 0 {
			fmt.Fprintf(w, "Tags: %s\n", strings.Join(h.Tags, ", "))
		}
		if h.Source != "" {
			fmt.Fprintf(w, "Source: %s\n", h.Source)
		}
		fmt.Fprintf(w, "\n%s\n", Truncate(h.Summary, 200))
		fmt.Fprintln(w)
	}
}

// WriteSearchResultsXLSX saves the hits as a workbook with one row per hit.
func WriteSearchResultsXLSX(path string, response *models.SearchResponse) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	rows := [][]any{{"rank", "key", "distance", "summary", "tags", "source"}}
	for i, h := range response.Hits {
		rows = append(rows, []any{i + 1, strconv.FormatUint(h.Key, 10), h.Score, h.Summary, strings.Join(h.Tags, ", "), h.Source})
	}
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// WriteStats writes collection statistics as a table, or as JSON.
func WriteStats(w io.Writer, stats []vectorstore.CollectionStats, format SearchOutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	if len(stats) == 0 {
		fmt.Fprintln(w, "No collections.")
		return nil
	}
	width := len("COLLECTION")
	for _, s := range stats {
		width = max(width, len(s.Name))
	}
	fmt.Fprintf(w, "%-*s  %8s  %8s  %10s\n", width, "COLLECTION", "RECORDS", "VECTORS", "INDEX")
	for _, s := range stats {
		vectors := "-"
		if s.Loaded {
			vectors = strconv.Itoa(s.Vectors)
		}
		fmt.Fprintf(w, "%-*s  %8d  %8s  %10s\n", width, s.Name, s.Records, vectors, FormatBytes(s.IndexBytes))
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}
