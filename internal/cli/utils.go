// Package cli provides output helpers for the embedstore command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/embedstore/internal/models"
	"github.com/hyperjump/embedstore/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to a format; anything but "json" is text.
func ParseOutputFormat(s string) OutputFormat {
	if strings.EqualFold(s, string(OutputJSON)) {
		return OutputJSON
	}
	return OutputText
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
	return nil
}

func writeOneResult(w io.Writer, result *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Similarity: %.4f | Namespace: %s\n", result.Rank, result.SimilarityScore, result.Namespace)
	fmt.Fprintf(w, "ID: %s\n", result.ID)
	if m := result.Metadata; m != nil && m.FilePath != "" {
		if m.StartLine != nil && m.EndLine != nil {
			fmt.Fprintf(w, "File: %s:%d-%d\n", m.FilePath, *m.StartLine, *m.EndLine)
		} else {
			fmt.Fprintf(w, "File: %s\n", m.FilePath)
		}
	}
	if result.Snippet != "" {
		fmt.Fprintf(w, "\n%s\n", result.Snippet)
	}
	fmt.Fprintln(w)
}

// WriteStats writes per-namespace statistics to w in the given format.
func WriteStats(w io.Writer, stats []models.NamespaceStats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	if len(stats) == 0 {
		fmt.Fprintln(w, "No namespaces.")
		return nil
	}
	fmt.Fprintf(w, "%-24s %9s %10s %10s %12s\n", "NAMESPACE", "DIMENSION", "VECTORS", "METADATA", "DISK")
	var vectors int
	var disk int64
	for _, s := range stats {
		fmt.Fprintf(w, "%-24s %9d %10d %10d %12s\n",
			utils.Truncate(s.Name, 21), s.Dimension, s.IndexSize, s.CatalogSize, FormatBytes(s.DiskBytes))
		vectors += s.IndexSize
		disk += s.DiskBytes
	}
	fmt.Fprintf(w, "\n%d namespaces, %d vectors, %s on disk\n", len(stats), vectors, FormatBytes(disk))
	return nil
}

// WriteFailures writes the embedding failure log to w in the given format.
func WriteFailures(w io.Writer, failures []models.EmbeddingFailure, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, failures)
	}
	if len(failures) == 0 {
		fmt.Fprintln(w, "No recorded embedding failures.")
		return nil
	}
	for _, f := range failures {
		fmt.Fprintf(w, "%s  x%d  %s\n  %q\n  %s\n",
			f.TextHash[:min(12, len(f.TextHash))], f.FailureCount,
			f.LastFailureTime.Format("2006-01-02 15:04:05"), f.TextPreview, f.LastErrorMessage)
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
