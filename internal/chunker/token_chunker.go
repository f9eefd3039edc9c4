// Package chunker splits page text into overlapping token windows built from
// whole sentences.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// minText is the shortest trimmed text that is chunked at all.
const minText = 10

// EstimateTokens approximates the token count as one token per four
// characters, rounded up.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TruncateTokens cuts text to roughly maxTokens tokens.
func TruncateTokens(text string, maxTokens int) string {
	if r := []rune(text); len(r) > maxTokens*4 {
		return string(r[:maxTokens*4])
	}
	return text
}

// Piece is one chunk of text.
type Piece struct {
	Text   string
	Tokens int
}

// TokenChunker is a sentence-based sliding window.
type TokenChunker struct {
	size    int
	overlap int
	minSize int
}

// NewTokenChunker creates a chunker. Windows hold at most size tokens unless
// a single sentence is longer; the next window repeats trailing sentences
// worth at most overlap tokens; windows under minSize tokens are dropped.
func NewTokenChunker(size, overlap, minSize int) *TokenChunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &TokenChunker{size: size, overlap: overlap, minSize: minSize}
}

// Chunk splits text into pieces.
func (c *TokenChunker) Chunk(text string) []Piece {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minText {
		return nil
	}

	var pieces []Piece
	emit := func(sentences []string) {
		joined := strings.Join(sentences, " ")
		if n := EstimateTokens(joined); n >= c.minSize {
			pieces = append(pieces, Piece{Text: joined, Tokens: n})
		}
	}

	var window []string
	tokens := 0
	for _, s := range SplitSentences(text) {
		n := EstimateTokens(s)
		if tokens+n > c.size && len(window) > 0 {
			emit(window)
			window, tokens = c.tail(window)
		}
		window = append(window, s)
		tokens += n
	}
	if len(window) > 0 {
		emit(window)
	}
	return pieces
}

// tail returns the trailing sentences that fit in the overlap budget.
func (c *TokenChunker) tail(window []string) ([]string, int) {
	start, tokens := len(window), 0
	for i := len(window) - 1; i >= 0; i-- {
		n := EstimateTokens(window[i])
		if tokens+n > c.overlap {
			break
		}
		tokens += n
		start = i
	}
	return append([]string(nil), window[start:]...), tokens
}

// SplitSentences splits after ., ! or ? followed by whitespace.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start : m[0]+1]); s != "" {
			out = append(out, s)
		}
		start = m[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
