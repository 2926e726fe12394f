package extract

import (
	"bytes"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// extractPlain decodes a text note. A leading byte order mark is dropped, CRLF line endings
// become "\n" and invalid UTF-8 sequences become U+FFFD.
func extractPlain(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	text := strings.ToValidUTF8(string(content), "\uFFFD")
	return strings.ReplaceAll(text, "\r\n", "\n"), nil
}
