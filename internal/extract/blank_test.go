package extract

import (
	"strings"
	"testing"
)

func TestBlankClassifier(t *testing.T) {
	b := DefaultBlankClassifier()
	tests := []struct {
		name string
		text string
		page int
		want Verdict
	}{
		{"empty", "", 10, Blank},
		{"whitespace", " \n\t ", 10, Blank},
		{"short front matter", "ISBN 978-5", 3, FrontMatter},
		{"front matter limit is exclusive", strings.Repeat("x", 20), 3, NeedsOCR},
		{"short page after front matter", "ISBN 978-5", 6, NeedsOCR},
		{"just under OCR threshold", strings.Repeat("я", 49), 10, NeedsOCR},
		{"at OCR threshold", strings.Repeat("я", 50), 10, Content},
		{"trimmed before counting", "  " + strings.Repeat("a", 49) + "  \n", 10, NeedsOCR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Classify(tt.text, tt.page); got != tt.want {
				t.Errorf("Classify(%q, %d) = %s, want %s", tt.text, tt.page, got, tt.want)
			}
		})
	}
}

func TestBlankClassifierWithoutFrontMatter(t *testing.T) {
	b := DefaultBlankClassifier()
	b.SkipFrontMatter = false
	if got := b.Classify("Title", 1); got != NeedsOCR {
		t.Errorf("Classify = %s, want needs_ocr", got)
	}
	if !b.IsBlank("", 1) || b.IsBlank("Title", 1) {
		t.Error("IsBlank mismatch")
	}
}

func TestNormalize(t *testing.T) {
	n := DefaultNormalizer()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"ligatures", "ﬁnal ﬂow", "final flow"},
		{"hyphenation", "infor-\nmation", "information"},
		{"cyrillic hyphenation", "инфор-\n  мация", "информация"},
		{"spaces", "a  \t b", "a b"},
		{"newlines", "a\n\n\n\n\nb", "a\n\nb"},
		{"invisible characters", "a\u200bb\u00adc\ufeff", "abc"},
		{"quotes", "«Война» и “мир”", `"Война" и "мир"`},
		{"trailing line space", "line one   \nline two", "line one\nline two"},
		{"watermark", "Text body\nOceanofPDF.com\nMore text", "Text body\n\nMore text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeAggressiveBullets(t *testing.T) {
	n := &Normalizer{Aggressive: true}
	if got := n.Normalize("• first\n● second"); got != "- first\n- second" {
		t.Errorf("got %q", got)
	}
}

func TestOutcomeConstructors(t *testing.T) {
	if o := Text("  \n"); o.Kind != KindEmpty {
		t.Errorf("whitespace text kind = %s", o.Kind)
	}
	if o := TextWithConfidence("", 0.5); o.Confidence != nil {
		t.Error("empty outcome carries confidence")
	}
	if o := TextWithConfidence("word", 0.5); o.Kind != KindText || *o.Confidence != 0.5 {
		t.Errorf("outcome = %+v", o)
	}
}
