package indexer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Preprocess normalizes text for embedding (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// sanitizeUTF8 replaces invalid UTF-8 sequences with the replacement character.
func sanitizeUTF8(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}

var languages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".java": "java",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".md":   "markdown",
	".rst":  "restructuredtext",
	".txt":  "text",
}

// languageFor guesses a language tag from a file extension.
func languageFor(ext string) string {
	return languages[strings.ToLower(ext)]
}
