package definitions

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var keySpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("hako:definitions"))

// KeyFor derives a stable record key from its identifying parts. The same parts always
// yield the same key, so reloading a file updates records in place.
func KeyFor(parts ...string) uint64 {
	id := uuid.NewSHA1(keySpace, []byte(strings.Join(parts, "\x1f")))
	return binary.BigEndian.Uint64(id[:8])
}

// ValueKey identifies a known value of a column.
func ValueKey(table, column, value string) uint64 {
	return KeyFor("value", strings.ToLower(table), strings.ToLower(column), value)
}

// SchemaKey identifies a column definition.
func SchemaKey(table, column string) uint64 {
	return KeyFor("schema", strings.ToLower(table), strings.ToLower(column))
}

// NoteKey identifies one chunk of a document.
func NoteKey(path string, chunk int) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(chunk))
	return KeyFor("note", filepath.Clean(path), string(buf[:]))
}
