// Package chunker splits raw document text into ordered, paragraph-sized passages.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the default passage size cap in characters.
const DefaultMaxChars = 500

// Chunker splits text on blank-line boundaries and caps passage length.
type Chunker struct {
	maxChars int
}

// New creates a chunker with the given passage cap in characters.
// A non-positive cap uses DefaultMaxChars.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{maxChars: maxChars}
}

// MaxChars returns the configured passage cap.
func (c *Chunker) MaxChars() int {
	return c.maxChars
}

// Split splits text into ordered passages. Paragraphs are delimited by blank
// lines; a paragraph longer than the cap is further split at sentence-like
// boundaries so no passage exceeds the cap. Empty or whitespace-only input
// yields zero passages, which is not an error.
func (c *Chunker) Split(text string) []string {
	text = strings.ReplaceAll(text, "\r", "")
	var chunks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= c.maxChars {
			chunks = append(chunks, para)
			continue
		}
		chunks = append(chunks, c.splitLong(para)...)
	}
	return chunks
}

// splitLong packs sentences of an over-long paragraph into passages of at
// most maxChars. A single sentence longer than the cap is hard-cut at the cap.
func (c *Chunker) splitLong(para string) []string {
	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
		curLen = 0
	}
	for _, sent := range splitSentences(para) {
		n := utf8.RuneCountInString(sent)
		if n > c.maxChars {
			flush()
			out = append(out, hardCut(sent, c.maxChars)...)
			continue
		}
		// +1 for the joining space
		if curLen > 0 && curLen+1+n > c.maxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(sent)
		curLen += n
	}
	flush()
	return out
}

// splitSentences splits a paragraph at sentence-like boundaries: a '.', '!',
// '?' or ';' followed by whitespace or end of text.
func splitSentences(s string) []string {
	var sents []string
	runes := []rune(s)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?', ';':
			if i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				sent := strings.TrimSpace(string(runes[start : i+1]))
				if sent != "" {
					sents = append(sents, sent)
				}
				start = i + 1
			}
		}
	}
	if start < len(runes) {
		if sent := strings.TrimSpace(string(runes[start:])); sent != "" {
			sents = append(sents, sent)
		}
	}
	return sents
}

// hardCut cuts s into windows of at most maxChars runes.
func hardCut(s string, maxChars int) []string {
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}
