// Package summarizer builds extractive page summaries by ranking sentences.
package summarizer

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"archivist/internal/audit"
	"archivist/internal/config"
)

var (
	sentenceBreak = regexp.MustCompile(`([.!?])\s+|\n{2,}`)
	wordPattern   = regexp.MustCompile(`[A-Za-zА-Яа-я0-9]{3,}`)
	spaces        = regexp.MustCompile(`\s+`)
)

const minSentenceChars = 20

// Extractive scores sentences by normalised word frequency plus position,
// length, digit and colon features.
type Extractive struct {
	minText      int
	l1Sentences  int
	l1Chars      int
	l2Sentences  int
	l2Chars      int
	positionW    float64
	lengthW      float64
	numericBonus float64
	colonBonus   float64
}

// NewExtractive creates a summarizer from the summarize settings.
func NewExtractive(cfg config.SummarizeConfig) *Extractive {
	return &Extractive{
		minText:      cfg.MinTextLength,
		l1Sentences:  cfg.L1MaxSentences,
		l1Chars:      cfg.L1MaxChars,
		l2Sentences:  cfg.L2MaxSentences,
		l2Chars:      cfg.L2MaxChars,
		positionW:    cfg.PositionWeight,
		lengthW:      cfg.LengthWeight,
		numericBonus: cfg.NumericBonus,
		colonBonus:   cfg.ColonBonus,
	}
}

// L1 is the brief summary.
func (e *Extractive) L1(text string) string {
	return e.Summarize(text, e.l1Sentences, e.l1Chars)
}

// L2 is the detailed summary.
func (e *Extractive) L2(text string) string {
	return e.Summarize(text, e.l2Sentences, e.l2Chars)
}

// Summarize picks the best maxSentences sentences in their original order
// and cuts the result at a word boundary to at most maxChars characters plus
// an ellipsis. Text shorter than the minimum length yields "".
func (e *Extractive) Summarize(text string, maxSentences, maxChars int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < e.minText || text == "" {
		return ""
	}

	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return truncate(spaces.ReplaceAllString(text, " "), maxChars)
	}

	freq := frequencies(text)
	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored
	for i, s := range sentences {
		words := contentWords(s)
		if len(words) == 0 {
			continue
		}
		var wordScore float64
		for _, w := range words {
			wordScore += freq[w]
		}
		wordScore /= float64(len(words))

		position := float64(len(sentences)-i) / float64(len(sentences)) * e.positionW
		length := min(1.0, 100/float64(utf8.RuneCountInString(s)+1)) * e.lengthW
		score := wordScore + position + length
		if strings.IndexFunc(s, unicode.IsDigit) >= 0 {
			score += e.numericBonus
		}
		if strings.Contains(s, ":") {
			score += e.colonBonus
		}
		ranked = append(ranked, scored{i, score})
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > maxSentences {
		ranked = ranked[:maxSentences]
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].idx < ranked[j].idx })

	parts := make([]string, len(ranked))
	for i, r := range ranked {
		parts[i] = sentences[r.idx]
	}
	return truncate(strings.Join(parts, " "), maxChars)
}

// SplitSentences splits after sentence punctuation followed by whitespace
// and at blank lines. Whitespace inside a sentence is collapsed and
// sentences of 20 characters or fewer are dropped.
func SplitSentences(text string) []string {
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
		if utf8.RuneCountInString(s) > minSentenceChars {
			out = append(out, s)
		}
	}

	start := 0
	for _, m := range sentenceBreak.FindAllStringSubmatchIndex(text, -1) {
		end := m[0]
		if m[2] >= 0 {
			end = m[3]
		}
		add(text[start:end])
		start = m[1]
	}
	add(text[start:])
	return out
}

func contentWords(text string) []string {
	words := wordPattern.FindAllString(text, -1)
	out := words[:0]
	for _, w := range words {
		w = strings.ToLower(w)
		if _, stop := audit.StopWords[w]; !stop {
			out = append(out, w)
		}
	}
	return out
}

// frequencies counts content words and divides by the top count.
func frequencies(text string) map[string]float64 {
	freq := make(map[string]float64)
	var top float64
	for _, w := range contentWords(text) {
		freq[w]++
		top = max(top, freq[w])
	}
	for w, c := range freq {
		freq[w] = c / top
	}
	return freq
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	cut := string([]rune(s)[:maxChars])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, ".,;:-") + "..."
}
