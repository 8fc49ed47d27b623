package search

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/embedstore/pkg/utils"
)

// Highlight returns at most maxLen runes of content. When a query term occurs
// in content the window starts a little before its first occurrence; elided
// text on either side is marked with "...". maxLen <= 0 returns content as is.
func Highlight(content, query string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(content) <= maxLen {
		return content
	}
	start := firstTermOffset(content, query)
	// Keep some leading context.
	lead := maxLen / 4
	runeStart := max(utf8.RuneCountInString(content[:start])-lead, 0)

	rest := content
	for i := 0; i < runeStart; i++ {
		_, size := utf8.DecodeRuneInString(rest)
		rest = rest[size:]
	}
	body := utils.Preview(rest, maxLen)
	snippet := body
	if runeStart > 0 {
		snippet = "..." + snippet
	}
	if len(body) < len(rest) {
		snippet += "..."
	}
	return snippet
}

// firstTermOffset returns the byte offset of the earliest query term found in
// content, ignoring case, or 0.
func firstTermOffset(content, query string) int {
	lower := strings.ToLower(content)
	best := -1
	for _, term := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(term) < 3 {
			continue
		}
		if i := strings.Index(lower, term); i >= 0 && (best < 0 || i < best) {
			best = i
		}
	}
	if best < 0 || len(lower) != len(content) {
		// Lowercasing changed byte offsets; fall back to the start.
		return 0
	}
	return best
}
