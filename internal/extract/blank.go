package extract

import (
	"strings"
	"unicode/utf8"

	"archivist/internal/config"
)

// Verdict is the blank page classification of a preview.
type Verdict int

const (
	// Content means the preview is long enough to accept.
	Content Verdict = iota
	// Blank means the page has no characters at all.
	Blank
	// FrontMatter means a short page near the start of the book, treated as blank.
	FrontMatter
	// NeedsOCR means the page has some text but too little to trust.
	NeedsOCR
)

func (v Verdict) String() string {
	switch v {
	case Content:
		return "content"
	case Blank:
		return "blank"
	case FrontMatter:
		return "front_matter"
	case NeedsOCR:
		return "needs_ocr"
	}
	return "unknown"
}

// BlankClassifier decides whether a page preview is blank, skippable front
// matter, or a candidate for OCR.
type BlankClassifier struct {
	MinCharsOCR      int
	SkipFrontMatter  bool
	FrontMatterPages int
	FrontMatterChars int
}

// DefaultBlankClassifier: pages 1-5 under 20 characters are front matter,
// anything else under 50 characters needs OCR.
func DefaultBlankClassifier() BlankClassifier {
	return BlankClassifier{
		MinCharsOCR:      50,
		SkipFrontMatter:  true,
		FrontMatterPages: 5,
		FrontMatterChars: 20,
	}
}

// BlankClassifierFromConfig builds a classifier from the pipeline config.
func BlankClassifierFromConfig(c config.BlankConfig) BlankClassifier {
	return BlankClassifier{
		MinCharsOCR:      c.MinCharsOCR,
		SkipFrontMatter:  c.SkipFrontMatter,
		FrontMatterPages: c.FrontMatterPages,
		FrontMatterChars: c.FrontMatterChars,
	}
}

// Classify inspects the trimmed preview of the 1-based page.
func (b BlankClassifier) Classify(text string, page int) Verdict {
	n := utf8.RuneCountInString(strings.TrimSpace(text))
	switch {
	case n == 0:
		return Blank
	case b.SkipFrontMatter && page <= b.FrontMatterPages && n < b.FrontMatterChars:
		return FrontMatter
	case n < b.MinCharsOCR:
		return NeedsOCR
	}
	return Content
}

// NeedsOCR reports whether the preview should be escalated to OCR.
func (b BlankClassifier) NeedsOCR(text string, page int) bool {
	return b.Classify(text, page) == NeedsOCR
}

// IsBlank reports whether the page is blank or skippable front matter.
func (b BlankClassifier) IsBlank(text string, page int) bool {
	v := b.Classify(text, page)
	return v == Blank || v == FrontMatter
}
