package ingest

import "strings"

// textSplitter splits long text into bounded pieces with a trailing-character
// overlap carried between consecutive pieces. Splits prefer paragraph
// boundaries, then word boundaries.
type textSplitter struct {
	maxChars int
	overlap  int
}

// split returns the text cut into pieces of at most maxChars characters.
// Short text passes through as a single piece.
func (s textSplitter) split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.maxChars {
		return []string{text}
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		piece := strings.TrimSpace(current.String())
		current.Reset()
		if piece == "" {
			return
		}
		pieces = append(pieces, piece)
		if s.overlap > 0 {
			current.WriteString(tailWords(piece, s.overlap))
			current.WriteString(" ")
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para)+2 > s.maxChars && current.Len() > 0 {
			flush()
		}

		if len(para) <= s.maxChars {
			if current.Len() > 0 {
				current.WriteString("\n\n")
			}
			current.WriteString(para)
			continue
		}

		// Paragraph alone exceeds the budget: fill word by word.
		for _, word := range strings.Fields(para) {
			if current.Len()+len(word)+1 > s.maxChars && current.Len() > 0 {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(word)
		}
	}

	if piece := strings.TrimSpace(current.String()); piece != "" {
		pieces = append(pieces, piece)
	}
	return pieces
}

// tailWords returns the last word-aligned run of up to n characters.
func tailWords(text string, n int) string {
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexAny(tail, " \t\n"); idx >= 0 {
		tail = tail[idx+1:]
	}
	return strings.TrimSpace(tail)
}
