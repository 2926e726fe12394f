// Package extract pulls plain text out of note files for chunking.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned for extensions that are not note sources.
var ErrUnsupported = errors.New("unsupported note format")

// Extensions lists the note formats Extract understands.
var Extensions = []string{".txt", ".md", ".rst", ".pdf", ".docx"}

// Supported reports whether ext (with leading dot, any case) is a note format.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Extract reads the file at path and returns its text content.
func Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(ext) {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".txt", ".md", ".rst":
		return extractPlain(content)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
}
