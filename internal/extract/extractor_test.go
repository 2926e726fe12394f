package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractBytes_plain(t *testing.T) {
	got, err := ExtractBytes([]byte("Hello world\nLine 2"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	got, err := ExtractBytes([]byte("hello\x80world"), ".RST")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello\uFFFDworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainBOMAndCRLF(t *testing.T) {
	got, err := ExtractBytes([]byte("\xef\xbb\xbftable: orders\r\nstatus A\r\n"), ".md")
	if err != nil {
		t.Fatal(err)
	}
	if got != "table: orders\nstatus A\n" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte("# Orders\nstatus A means active"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := Extract(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "# Orders\nstatus A means active" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_unsupported(t *testing.T) {
	if _, err := Extract("/tmp/sheet.xlsx"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if _, err := ExtractBytes([]byte("x"), ".xyz"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
	if _, err := Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
	if !Supported(".PDF") || Supported(".pptx") {
		t.Error("Supported mismatch")
	}
}

const docxBody = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">%s</w:t></w:r><w:r><w:t>tail</w:t></w:r></w:p></w:body></w:document>`

func buildDocx(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(body))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func body(text string) string {
	return fmt.Sprintf(docxBody, text)
}

func TestExtractBytes_docx(t *testing.T) {
	const mainType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	tests := []struct {
		name  string
		files map[string]string
		want  string
	}{
		{
			"default part",
			map[string]string{"word/document.xml": body("Searchable docx content")},
			"Searchable docx content tail",
		},
		{
			"content types override",
			map[string]string{
				"[Content_Types].xml": `<Types><Override PartName="/word/document2.xml" ContentType="` + mainType + `"/></Types>`,
				"word/document2.xml":  body("from document2"),
			},
			"from document2 tail",
		},
		{
			"attributes reversed",
			map[string]string{
				"[Content_Types].xml": `<Types><Override ContentType="` + mainType + `" PartName="/word/document3.xml"/></Types>`,
				"word/document3.xml":  body("reversed"),
			},
			"reversed tail",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractBytes(buildDocx(t, tt.files), ".docx")
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractBytes_docxErrors(t *testing.T) {
	if _, err := ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for non-zip content")
	}
	if _, err := ExtractBytes(buildDocx(t, map[string]string{"other.xml": "x"}), ".docx"); err == nil {
		t.Error("expected error when the document part is missing")
	}
}

func TestExtractBytes_pdfInvalid(t *testing.T) {
	if _, err := ExtractBytes([]byte("%PDF-garbage"), ".pdf"); err == nil {
		t.Error("expected error for malformed PDF")
	}
}
