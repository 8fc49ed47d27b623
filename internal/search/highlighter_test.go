package search

import (
	"strings"
	"testing"
)

func TestHighlight(t *testing.T) {
	if Highlight("short", "", 10) != "short" {
		t.Error("short string should be unchanged")
	}
	if got := Highlight("long text here", "", 4); got != "long..." {
		t.Errorf("got %s", got)
	}
	if Highlight("x", "", 0) != "x" {
		t.Error("maxLen 0 should return as-is")
	}
}

func TestHighlight_centersOnTerm(t *testing.T) {
	content := strings.Repeat("filler ", 20) + "needle in the haystack " + strings.Repeat("tail ", 20)
	got := Highlight(content, "find the Needle", 40)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "...") {
		t.Errorf("expected elision on both sides, got %q", got)
	}
	if !strings.Contains(got, "needle") {
		t.Errorf("snippet should contain the matched term, got %q", got)
	}
}

func TestHighlight_multibyte(t *testing.T) {
	content := strings.Repeat("日本語", 10)
	got := Highlight(content, "", 5)
	if got != "日本語日本..." {
		t.Errorf("got %q", got)
	}
}
