package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"archivist/internal/logger"
	"archivist/internal/retry"
)

// Attempt records one strategy call for diagnostics.
type Attempt struct {
	Strategy string `json:"strategy"`
	Try      int    `json:"try"`
	Outcome  string `json:"outcome"`
	Chars    int    `json:"chars,omitempty"`
	Error    string `json:"error,omitempty"`
}

// PageResult is the text chain result for one page.
type PageResult struct {
	Page       int       `json:"page"`
	Text       string    `json:"text"`
	Method     string    `json:"method"`
	OCRUsed    bool      `json:"ocr_used"`
	Confidence *float64  `json:"confidence,omitempty"`
	Verdict    string    `json:"verdict"`
	Error      bool      `json:"error"`
	Attempts   []Attempt `json:"attempts"`
}

// Chain is the ordered text extraction fallback chain.
type Chain struct {
	strategies    []Strategy
	classifier    BlankClassifier
	normalizer    *Normalizer
	retry         retry.Policy
	minValidChars int
	log           zerolog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithClassifier replaces the blank page classifier.
func WithClassifier(b BlankClassifier) ChainOption {
	return func(c *Chain) { c.classifier = b }
}

// WithRetry replaces the retry policy.
func WithRetry(p retry.Policy) ChainOption {
	return func(c *Chain) { c.retry = p }
}

// WithNormalizer replaces the text normalizer.
func WithNormalizer(n *Normalizer) ChainOption {
	return func(c *Chain) { c.normalizer = n }
}

// WithMinValidChars sets the accepted text length after normalization.
func WithMinValidChars(n int) ChainOption {
	return func(c *Chain) { c.minValidChars = n }
}

// NewChain builds a chain over strategies in the given order.
func NewChain(strategies []Strategy, opts ...ChainOption) (*Chain, error) {
	if len(strategies) == 0 {
		return nil, NewExtractError("NewChain", ErrNoStrategies, "")
	}
	c := &Chain{
		strategies:    strategies,
		classifier:    DefaultBlankClassifier(),
		normalizer:    DefaultNormalizer(),
		retry:         retry.DefaultPolicy(),
		minValidChars: 10,
		log:           logger.WithComponent("extract"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Names lists the strategies in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// ExtractPage runs the preview-then-escalate policy for the 1-based page.
//
// The first native strategy that does not fail provides a preview. When the
// classifier says the preview is content or blank, it is accepted and no OCR
// engine runs. Otherwise every strategy is walked in order with retries. A
// native result is only accepted during escalation if it would not itself
// need OCR; a shorter native result is kept as a last resort for when OCR
// finds nothing. Page failures never return an error: they yield a result
// with Error set and Method "none". Only context cancellation is returned.
func (c *Chain) ExtractPage(ctx context.Context, doc *Document, page int) (*PageResult, error) {
	res := &PageResult{Page: page}

	preview, previewIdx := c.preview(ctx, doc, page, res)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if previewIdx >= 0 {
		previewFrom := c.strategies[previewIdx].Name()
		verdict := c.classifier.Classify(preview.Text, page)
		res.Verdict = verdict.String()
		if verdict != NeedsOCR {
			res.Text = c.normalizer.Normalize(preview.Text)
			res.Method = previewFrom
			c.log.Debug().
				Str("file", doc.Name).
				Int("page", page).
				Str("method", previewFrom).
				Str("verdict", res.Verdict).
				Msg("Preview accepted")
			return res, nil
		}
	} else {
		res.Verdict = NeedsOCR.String()
	}

	var fallback *PageResult
	for i, s := range c.strategies {
		out := preview
		if i != previewIdx {
			var err error
			if out, err = c.attempt(ctx, doc, page, s, res); err != nil {
				return nil, err
			}
		}
		if out.Kind != KindText {
			continue
		}
		text := c.normalizer.Normalize(out.Text)
		if utf8.RuneCountInString(text) < c.minValidChars {
			continue
		}
		if !s.OCR() && c.classifier.NeedsOCR(text, page) {
			if fallback == nil {
				fallback = &PageResult{Text: text, Method: s.Name()}
			}
			continue
		}
		return c.accept(res, doc, s.Name(), s.OCR(), text, out.Confidence), nil
	}

	if fallback != nil {
		return c.accept(res, doc, fallback.Method, false, fallback.Text, nil), nil
	}

	res.Error = true
	res.Method = MethodNone
	res.Text = ""
	c.log.Error().
		Str("file", doc.Name).
		Int("page", page).
		Strs("chain", c.Names()).
		Msg("All extractors failed")
	return res, nil
}

func (c *Chain) accept(res *PageResult, doc *Document, method string, ocr bool, text string, conf *float64) *PageResult {
	res.Text = text
	res.Method = method
	res.OCRUsed = ocr
	if ocr && conf != nil {
		v := *conf
		res.Confidence = &v
	}
	c.log.Debug().
		Str("file", doc.Name).
		Int("page", res.Page).
		Str("method", method).
		Int("chars", utf8.RuneCountInString(text)).
		Msg("Page extracted")
	return res
}

// preview asks each native strategy once and returns the first outcome that
// did not fail with the strategy's index, or -1 when every native strategy
// failed.
func (c *Chain) preview(ctx context.Context, doc *Document, page int, res *PageResult) (Outcome, int) {
	for i, s := range c.strategies {
		if s.OCR() {
			continue
		}
		if ctx.Err() != nil {
			return Outcome{}, -1
		}
		out := s.Extract(ctx, doc, page)
		res.Attempts = append(res.Attempts, record(s.Name(), 0, out))
		if out.Kind == KindFailed {
			continue
		}
		return out, i
	}
	return Outcome{}, -1
}

// attempt runs one strategy under the retry policy. Empty and text outcomes
// end the loop; only failures are retried.
func (c *Chain) attempt(ctx context.Context, doc *Document, page int, s Strategy, res *PageResult) (Outcome, error) {
	var last Outcome
	err := c.retry.Do(ctx, func(try int) error {
		last = s.Extract(ctx, doc, page)
		res.Attempts = append(res.Attempts, record(s.Name(), try+1, last))
		if last.Kind == KindFailed {
			if last.Err == nil {
				last.Err = errors.New("strategy failed")
			}
			c.log.Warn().
				Str("file", doc.Name).
				Int("page", page).
				Str("strategy", s.Name()).
				Int("attempt", try+1).
				Err(last.Err).
				Msg("Extraction attempt failed")
			return last.Err
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		c.log.Error().
			Str("file", doc.Name).
			Int("page", page).
			Str("strategy", s.Name()).
			Err(err).
			Msg("Strategy exhausted")
		return Failed(err), nil
	}
	return last, nil
}

func record(name string, try int, out Outcome) Attempt {
	a := Attempt{Strategy: name, Try: try, Outcome: out.Kind.String()}
	if out.Kind == KindText {
		a.Chars = utf8.RuneCountInString(out.Text)
	}
	if out.Err != nil {
		a.Error = out.Err.Error()
	}
	return a
}

// Describe renders the chain for logs, e.g. "pdftext -> pdfcpu -> tesseract*".
func (c *Chain) Describe() string {
	parts := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		parts[i] = s.Name()
		if s.OCR() {
			parts[i] += "*"
		}
	}
	return fmt.Sprintf("%s (* = OCR)", strings.Join(parts, " -> "))
}
