package keyword

import (
	"context"
	"path/filepath"
	"testing"
)

func seedFilter(t *testing.T, f Filter) map[uint64]Value {
	t.Helper()
	fields := map[uint64]Value{
		1: ListValue("blue"),
		2: ListValue("Red", "green"),
		3: TextValue("Monthly revenue report for the North region"),
		4: TextValue("headcount by department"),
	}
	if err := f.Index(context.Background(), fields); err != nil {
		t.Fatalf("Index: %v", err)
	}
	return fields
}

func runFilterCases(t *testing.T, f Filter) {
	fields := seedFilter(t, f)
	ctx := context.Background()

	tests := []struct {
		name     string
		keywords []string
		want     []uint64
	}{
		{"list exact membership", []string{"red"}, []uint64{2}},
		{"list needs whole item", []string{"re"}, []uint64{3}},
		{"text substring", []string{"NORTH"}, []uint64{3}},
		{"any keyword", []string{"blue", "department"}, []uint64{1, 4}},
		{"no match", []string{"purple"}, nil},
		{"blank keywords", []string{" ", ""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.Matching(ctx, fields, tt.keywords)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Matching(%v)=%v, want %v", tt.keywords, got, tt.want)
			}
			for _, k := range tt.want {
				if !got[k] {
					t.Errorf("Matching(%v) missing key %d", tt.keywords, k)
				}
			}
		})
	}

	t.Run("restricted to candidates", func(t *testing.T) {
		got, err := f.Matching(ctx, map[uint64]Value{1: fields[1]}, []string{"red"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("got %v, want none", got)
		}
	})
}

func TestMemoryFilter(t *testing.T) {
	runFilterCases(t, MemoryFilter{})
}

func TestBleveFilter_InMemory(t *testing.T) {
	f, err := NewMemBleveFilter()
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	runFilterCases(t, f)
}

func TestBleveFilter_DeleteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kw.bleve")
	ctx := context.Background()

	f, err := NewBleveFilter(path)
	if err != nil {
		t.Fatal(err)
	}
	fields := seedFilter(t, f)
	if err := f.Delete(ctx, []uint64{2}); err != nil {
		t.Fatal(err)
	}
	if n, _ := f.DocCount(); n != 3 {
		t.Errorf("DocCount=%d, want 3", n)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	f, err = NewBleveFilter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := f.Matching(ctx, fields, []string{"red", "blue"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[1] {
		t.Errorf("after delete+reopen got %v, want only key 1", got)
	}
}
