package keyword

import (
	"reflect"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"identical empty", "", "", 0},
		{"identical word", "hello", "hello", 0},
		{"identical unicode", "こんにちは", "こんにちは", 0},
		{"empty a", "", "hello", 5},
		{"empty b", "hello", "", 5},
		{"one substitution", "cat", "bat", 1},
		{"one insertion", "cat", "cart", 1},
		{"one deletion", "cart", "cat", 1},
		{"kitten to sitting", "kitten", "sitting", 3},
		{"saturday to sunday", "saturday", "sunday", 3},
		{"transposition", "teh", "the", 1},
		{"transposition inside", "ordres", "orders", 1},
		{"unicode substitution", "café", "cafe", 1},
		{"case sensitive", "Notes", "notes", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Distance(tt.a, tt.b); got != tt.want {
				t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := Distance(tt.b, tt.a); got != tt.want {
				t.Errorf("Distance(%q, %q) = %d, want %d (symmetry)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}

func TestSuggest(t *testing.T) {
	names := []string{
		"orders_status_ValueDefinitions",
		"orders_type_ValueDefinitions",
		"SchemaDefinitions",
		"Notes",
	}
	tests := []struct {
		name  string
		term  string
		limit int
		want  []string
	}{
		{"typo", "Ntoes", 3, []string{"Notes"}},
		{"case only is not a suggestion", "notes", 3, []string{}},
		{"close value collection", "orders_stauts_ValueDefinitions", 1, []string{"orders_status_ValueDefinitions"}},
		{"substring", "schema", 3, []string{"SchemaDefinitions"}},
		{"nearest first", "orders_typo_ValueDefinitions", 2, []string{"orders_type_ValueDefinitions", "orders_status_ValueDefinitions"}},
		{"shorter container first", "orders", 1, []string{"orders_type_ValueDefinitions"}},
		{"nothing close", "customers", 3, []string{}},
		{"blank", "  ", 3, nil},
		{"zero limit", "Notes", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Suggest(tt.term, names, tt.limit); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Suggest(%q) = %v, want %v", tt.term, got, tt.want)
			}
		})
	}
}
