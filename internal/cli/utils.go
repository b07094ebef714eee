// Package cli formats command output for contextrag.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/contextrag/internal/models"
	"github.com/hyperjump/contextrag/internal/storage"
	"github.com/hyperjump/contextrag/internal/vector"
	"github.com/hyperjump/contextrag/pkg/utils"
)

// OutputFormat selects human-readable or JSON output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json" (empty means text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

const rule = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes retrieved chunks to w in the given format.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d chunks in %dms\n\n", response.Total, response.QueryTime)
	for _, r := range response.Results {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "Rank: %d | Score: %.4f | Document: %s | Chunk: %s\n", r.Rank, r.Score, r.DocumentID, r.ChunkID)
		fmt.Fprintf(w, "\n%s\n\n", Truncate(r.Text, 200))
	}
	return nil
}

// WriteAnswer writes a generated answer with its evidence and metrics.
func WriteAnswer(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\n%s\n\n", resp.Response)
	if len(resp.Evidence) > 0 {
		fmt.Fprintln(w, "Evidence:")
		for i, e := range resp.Evidence {
			fmt.Fprintf(w, "  [%d] %s (score %.4f)\n      %s\n", i+1, e.ChunkID, e.Score, TruncateWords(e.Text, 25))
		}
		fmt.Fprintln(w)
	}
	m := resp.Metrics
	fmt.Fprintf(w, "Model: %s | Tokens: %d in / %d out | Cost: $%.5f | Latency: %dms\n",
		resp.Model, m.TokensInput, m.TokensOutput, m.Cost, m.LatencyMS)
	return nil
}

// Stats is the summary printed by the stats command.
type Stats struct {
	Index     vector.Stats       `json:"index"`
	Documents int64              `json:"documents"`
	Chunks    int64              `json:"chunks"`
	DiskUsage *storage.DiskUsage `json:"disk_usage,omitempty"`
}

// WriteStats writes index and storage statistics.
func WriteStats(w io.Writer, st Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Documents:\t%d\n", st.Documents)
	fmt.Fprintf(tw, "Chunks:\t%d\n", st.Chunks)
	fmt.Fprintf(tw, "Vectors:\t%d\n", st.Index.TotalVectors)
	fmt.Fprintf(tw, "Indexed documents:\t%d\n", st.Index.Documents)
	fmt.Fprintf(tw, "Dimension:\t%d\n", st.Index.Dimension)
	fmt.Fprintf(tw, "Index type:\t%s\n", st.Index.IndexType)
	if st.Index.ZeroNormVectors > 0 {
		fmt.Fprintf(tw, "Zero-norm vectors:\t%d\n", st.Index.ZeroNormVectors)
	}
	if st.DiskUsage != nil {
		fmt.Fprintf(tw, "Disk usage:\t%s\n", FormatBytes(st.DiskUsage.TotalBytes))
	}
	return tw.Flush()
}

// WriteDocuments writes a document listing.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILENAME\tTYPE\tSTATUS\tCHUNKS\tUPLOADED")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			d.ID, d.Filename, d.DocumentType, d.Status, d.ChunkCount, d.UploadDate.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Truncate shortens s to at most maxLen bytes without splitting a rune, appending "..." if cut.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
