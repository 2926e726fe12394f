package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	contentTypesPart = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// wtTag matches <w:t>text</w:t> with any attributes.
var wtTag = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// overrideTag matches one Override element of [Content_Types].xml; attributes may come in any order.
var (
	overrideTag = regexp.MustCompile(`<Override[^>]*>`)
	partNameAt  = regexp.MustCompile(`PartName="([^"]+)"`)
)

// zipPart returns the contents of the named member, or nil if absent.
func zipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// mainDocumentPart finds the main document part declared in [Content_Types].xml.
func mainDocumentPart(zr *zip.Reader) string {
	types, err := zipPart(zr, contentTypesPart)
	if err != nil || types == nil {
		return docxDefaultPart
	}
	for _, o := range overrideTag.FindAllString(string(types), -1) {
		if !strings.Contains(o, `ContentType="`+docxMainType+`"`) {
			continue
		}
		if m := partNameAt.FindStringSubmatch(o); m != nil {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultPart
}

// extractDOCX joins the text runs of the main document part with spaces.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := mainDocumentPart(zr)
	doc, err := zipPart(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	if doc == nil {
		return "", fmt.Errorf("extract DOCX: %s not found", part)
	}

	var words []string
	for _, m := range wtTag.FindAllStringSubmatch(string(doc), -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			words = append(words, t)
		}
	}
	return strings.Join(words, " "), nil
}
