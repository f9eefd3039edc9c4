package extract

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	artifactReplacer = strings.NewReplacer(
		"\u0000", "",
		"\ufeff", "",
		"\u00ad", "",
		"\u200b", "",
		"\u200c", "",
		"\u200d", "",

		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬅ", "ft",
		"ﬆ", "st",

		"“", `"`,
		"”", `"`,
		"„", `"`,
		"‘", "'",
		"’", "'",
		"«", `"`,
		"»", `"`,
		"‹", "'",
		"›", "'",

		"–", "--",
		"—", "---",
		"−", "-",
		"‐", "-",
		"‑", "-",

		"…", "...",
		"№", "No.",
	)

	hyphenBreakRe  = regexp.MustCompile(`([\p{L}\p{N}_])-\s*\n\s*([\p{L}\p{N}_])`)
	multiSpaceRe   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
	bulletRe       = regexp.MustCompile(`(?m)^\s*[•·∙○●]\s+`)

	watermarkRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)[ \t]*oceanofpdf\.com[ \t]*`),
		regexp.MustCompile(`(?i)[ \t]*generated[ \t]+by[ \t]+`),
		regexp.MustCompile(`(?i)[ \t]*downloaded[ \t]+from[ \t]+`),
		regexp.MustCompile(`(?i)[ \t]*www\.[a-z0-9\-]+\.(com|org|net)[ \t]*`),
	}
)

// Normalizer cleans extracted page text.
type Normalizer struct {
	// Aggressive also unifies list bullets to "- ".
	Aggressive bool
	// StripWatermarks removes common download-site watermarks.
	StripWatermarks bool
}

// DefaultNormalizer strips watermarks and keeps bullets.
func DefaultNormalizer() *Normalizer {
	return &Normalizer{StripWatermarks: true}
}

// Normalize applies NFKC, artefact and ligature replacement, hyphenation
// repair and whitespace collapsing, then strips watermarks.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = norm.NFKC.String(text)
	text = artifactReplacer.Replace(text)
	text = hyphenBreakRe.ReplaceAllString(text, "$1$2")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	if n.Aggressive {
		text = bulletRe.ReplaceAllString(text, "- ")
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	text = strings.TrimSpace(strings.Join(lines, "\n"))

	if n.StripWatermarks {
		text = RemoveWatermarks(text)
	}
	return text
}

// RemoveWatermarks drops common watermark fragments and collapses the blank
// lines they leave behind.
func RemoveWatermarks(text string) string {
	for _, re := range watermarkRes {
		text = re.ReplaceAllString(text, "")
	}
	text = multiNewlineRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
