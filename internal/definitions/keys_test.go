package definitions

import "testing"

func TestKeyFor(t *testing.T) {
	if KeyFor("a", "b") != KeyFor("a", "b") {
		t.Error("KeyFor is not deterministic")
	}
	if KeyFor("a", "b") == KeyFor("ab") {
		t.Error("part boundaries should matter")
	}
	if ValueKey("Orders", "Status", "A") != ValueKey("orders", "status", "A") {
		t.Error("table and column should be case-insensitive")
	}
	if ValueKey("orders", "status", "A") == ValueKey("orders", "status", "a") {
		t.Error("values should be case-sensitive")
	}
	if NoteKey("/x/doc.md", 0) == NoteKey("/x/doc.md", 1) {
		t.Error("chunks of one document need distinct keys")
	}
	if NoteKey("/x/./doc.md", 2) != NoteKey("/x/doc.md", 2) {
		t.Error("note keys should use the cleaned path")
	}
}
