// Package chunker splits raw text into chunks sized for the extraction
// agents. The reference splitter packs whole paragraphs up to a rune
// budget, falls back to sentence packing for oversized paragraphs, and
// carries a trailing overlap between adjacent chunks so references that
// straddle a boundary survive extraction.
package chunker

import (
	"strings"
	"unicode"

	"brain/internal/types"
)

// Splitter is the reference implementation of types.Chunker.
type Splitter struct {
	// MaxRunes bounds a single chunk. Defaults to 2000.
	MaxRunes int
	// Overlap is the number of trailing runes from one chunk repeated at
	// the start of the next. Defaults to 200, always less than MaxRunes.
	Overlap int
}

// New returns a Splitter with the given budget and overlap. Non-positive
// values fall back to the defaults.
func New(maxRunes, overlap int) *Splitter {
	s := &Splitter{MaxRunes: maxRunes, Overlap: overlap}
	if s.MaxRunes <= 0 {
		s.MaxRunes = 2000
	}
	if s.Overlap < 0 || s.Overlap >= s.MaxRunes {
		s.Overlap = s.MaxRunes / 10
	}
	return s
}

var _ types.Chunker = (*Splitter)(nil)

// Chunk splits text into chunks of at most MaxRunes runes. Paragraph
// boundaries are preferred, then sentence boundaries; a single sentence
// longer than the budget is hard-split. Whitespace-only input yields nil.
func (s *Splitter) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= s.MaxRunes {
		return []string{text}
	}

	var chunks []string
	var buf []rune

	flush := func() {
		trimmed := strings.TrimSpace(string(buf))
		if trimmed != "" {
			chunks = append(chunks, trimmed)
		}
		// Seed the next chunk with the tail of this one.
		if s.Overlap > 0 && len(buf) > s.Overlap {
			tail := make([]rune, s.Overlap)
			copy(tail, buf[len(buf)-s.Overlap:])
			buf = tail
		} else {
			buf = buf[:0]
		}
	}

	for _, para := range splitParagraphs(text) {
		for _, piece := range s.splitOversized(para) {
			runes := []rune(piece)
			if len(buf) > 0 && len(buf)+len(runes)+2 > s.MaxRunes {
				flush()
			}
			if len(buf) > 0 {
				buf = append(buf, '\n', '\n')
			}
			buf = append(buf, runes...)
		}
	}
	if trimmed := strings.TrimSpace(string(buf)); trimmed != "" {
		chunks = append(chunks, trimmed)
	}
	return chunks
}

// splitOversized returns para unchanged when it fits the budget, otherwise
// packs its sentences into budget-sized pieces, hard-splitting any single
// sentence that still exceeds the budget.
func (s *Splitter) splitOversized(para string) []string {
	if len([]rune(para)) <= s.MaxRunes {
		return []string{para}
	}

	var pieces []string
	var buf []rune
	for _, sent := range splitSentences(para) {
		runes := []rune(sent)
		if len(runes) > s.MaxRunes {
			if len(buf) > 0 {
				pieces = append(pieces, strings.TrimSpace(string(buf)))
				buf = buf[:0]
			}
			for i := 0; i < len(runes); i += s.MaxRunes {
				end := i + s.MaxRunes
				if end > len(runes) {
					end = len(runes)
				}
				pieces = append(pieces, string(runes[i:end]))
			}
			continue
		}
		if len(buf)+len(runes)+1 > s.MaxRunes {
			pieces = append(pieces, strings.TrimSpace(string(buf)))
			buf = buf[:0]
		}
		if len(buf) > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, runes...)
	}
	if trimmed := strings.TrimSpace(string(buf)); trimmed != "" {
		pieces = append(pieces, trimmed)
	}
	return pieces
}

// splitParagraphs splits on blank lines, dropping empty paragraphs.
func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// splitSentences performs a naive sentence split on terminal punctuation
// followed by whitespace. Good enough for chunk packing; the agents see
// overlapping context anyway.
func splitSentences(text string) []string {
	var sents []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sent := strings.TrimSpace(string(runes[start : i+1]))
				if sent != "" {
					sents = append(sents, sent)
				}
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sents = append(sents, tail)
	}
	return sents
}
