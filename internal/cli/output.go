package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/quarrydb/quarry/internal/models"
	"github.com/quarrydb/quarry/internal/search"
	"github.com/quarrydb/quarry/pkg/utils"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates an output format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteHits writes search hits to w in the given format.
func WriteHits(w io.Writer, resp *SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintf(w, "\nFound %d result(s)\n\n", resp.Count)
	for i, hit := range resp.Hits {
		writeOneHit(w, i+1, hit)
	}
	return nil
}

func writeOneHit(w io.Writer, rank int, hit models.Hit) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Rank: %d | Score: %.4f | Chunk: %d\n", rank, hit.Score, hit.ChunkID)
	fmt.Fprintf(w, "Doc: %s", hit.DocID)
	if hit.Source != "" {
		fmt.Fprintf(w, " | Source: %s", hit.Source)
	}
	if hit.Timestamp != nil {
		fmt.Fprintf(w, " | %s", hit.Timestamp.Format("2006-01-02"))
	}
	fmt.Fprintf(w, "\n\n%s\n\n", utils.Truncate(hit.Text, 200))
}

// WriteAnswer writes an extractive answer and its citations to w.
func WriteAnswer(w io.Writer, a *search.Answer, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	fmt.Fprintf(w, "\n%s\n", a.Text)
	if len(a.Citations) > 0 {
		fmt.Fprintf(w, "\nSources:\n")
		for _, c := range a.Citations {
			fmt.Fprintf(w, "  [%d] %s", c.ChunkID, c.DocID)
			if c.Source != "" {
				fmt.Fprintf(w, " (%s)", c.Source)
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}
