// Package enrich extracts extended page fields: cheap text heuristics that
// always run, optionally overlaid with fields from an OpenAI chat model.
package enrich

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"archivist/internal/audit"
)

var (
	codeIndicators  = []string{"```", "def ", "class ", "function ", "import ", "const ", "var ", "let ", "=>", "public class", "private "}
	mathSymbols     = []string{"=", "∑", "∫", "√", "±", "×", "÷", "∂", "∆", "≈", "≤", "≥"}
	diagramKeywords = []string{"Figure", "Fig.", "Diagram", "Chart", "Graph", "Illustration"}

	formulaPattern  = regexp.MustCompile(`[a-zA-Z]\s*[=+*/^]\s*[a-zA-Z0-9]|[a-zA-Z]\s+-\s+[a-zA-Z0-9]|[a-zA-Z][²³⁴]`)
	numberedPattern = regexp.MustCompile(`(?m)^\s*\d+\.`)

	citationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[\d+\]`),
		regexp.MustCompile(`\([A-Z][a-z]+\s+\d{4}\)`),
		regexp.MustCompile(`\[[A-Z][a-z]+\d{4}\]`),
	}
)

const (
	maxKeyTerms   = 10
	minKeyTermLen = 4
)

// Heuristics returns the heuristic fields of a page.
func Heuristics(text string) map[string]any {
	return map[string]any{
		"has_code":      HasCode(text),
		"has_formulas":  HasFormulas(text),
		"has_diagram":   containsAny(text, diagramKeywords),
		"has_list":      HasList(text),
		"has_citations": HasCitations(text),
		"key_terms":     KeyTerms(text),
	}
}

func HasCode(text string) bool {
	return containsAny(text, codeIndicators)
}

func HasFormulas(text string) bool {
	return containsAny(text, mathSymbols) || formulaPattern.MatchString(text)
}

// HasList reports more than two bullets or more than two numbered lines.
func HasList(text string) bool {
	bullets := strings.Count(text, "•") + strings.Count(text, "*") + strings.Count(text, "–")
	return bullets > 2 || len(numberedPattern.FindAllStringIndex(text, -1)) > 2
}

func HasCitations(text string) bool {
	for _, re := range citationPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// KeyTerms returns up to ten words of four or more characters that occur
// more than once, most frequent first. Ties keep first-seen order.
func KeyTerms(text string) []string {
	counts := make(map[string]int)
	var order []string
	for _, tok := range audit.Tokenize(text) {
		if utf8.RuneCountInString(tok) < minKeyTermLen {
			continue
		}
		if counts[tok] == 0 {
			order = append(order, tok)
		}
		counts[tok]++
	}
	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })

	terms := []string{}
	for _, tok := range order {
		if len(terms) == maxKeyTerms || counts[tok] < 2 {
			break
		}
		terms = append(terms, tok)
	}
	return terms
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
