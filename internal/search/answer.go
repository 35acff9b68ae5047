package search

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/quarrydb/quarry/internal/models"
)

// DefaultAnswerMaxChars caps the assembled answer text when the caller does
// not choose a limit.
const DefaultAnswerMaxChars = 600

// Answer is an extractive answer assembled from retrieved chunks.
type Answer struct {
	Text      string       `json:"text"`
	Citations []models.Hit `json:"citations"`
}

// BuildAnswer concatenates the hit texts in rank order, deduplicating exact
// repeats, and truncates the result at a whitespace boundary so no word is
// cut in half. With includeScores each passage is prefixed with its fused
// score. The hits used become the citations, in the same order.
func BuildAnswer(hits []models.Hit, maxChars int, includeScores bool) Answer {
	if maxChars <= 0 {
		maxChars = DefaultAnswerMaxChars
	}
	if len(hits) == 0 {
		return Answer{Citations: []models.Hit{}}
	}

	seen := make(map[string]bool, len(hits))
	var (
		parts     []string
		citations []models.Hit
	)
	for _, h := range hits {
		text := strings.TrimSpace(h.Text)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		if includeScores {
			text = fmt.Sprintf("[%.4f] %s", h.Score, text)
		}
		parts = append(parts, text)
		citations = append(citations, h)
	}
	joined := strings.Join(parts, "\n\n")
	return Answer{
		Text:      truncateAtBoundary(joined, maxChars),
		Citations: citations,
	}
}

// truncateAtBoundary cuts s to at most max runes, backing up to the last
// whitespace so the cut never lands mid-word.
func truncateAtBoundary(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := max
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	if cut == 0 {
		// Single unbroken token longer than the limit: hard cut.
		cut = max
	}
	return strings.TrimRight(string(runes[:cut]), " \t\n\r")
}
