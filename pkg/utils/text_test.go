package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("ステータス", 3); got != "ステー..." {
		t.Errorf("multi-byte: got %s", got)
	}
	if got := Truncate("ステ", 2); got != "ステ" {
		t.Errorf("multi-byte exact: got %s", got)
	}
}
