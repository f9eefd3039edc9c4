package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archivist/internal/logger"
	"archivist/internal/retry"
)

func init() {
	logger.Discard()
}

// fakeStrategy replays outcomes in order, repeating the last one.
type fakeStrategy struct {
	name     string
	ocr      bool
	outcomes []Outcome
	calls    int
}

func (f *fakeStrategy) Name() string { return f.name }
func (f *fakeStrategy) OCR() bool    { return f.ocr }

func (f *fakeStrategy) Extract(ctx context.Context, doc *Document, page int) Outcome {
	i := f.calls
	f.calls++
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	return f.outcomes[i]
}

func noSleep(context.Context, time.Duration) error { return nil }

func testPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = noSleep
	return p
}

func testDoc() *Document {
	return &Document{Name: "book.pdf", resources: map[string]any{}}
}

func newTestChain(t *testing.T, strategies ...Strategy) *Chain {
	t.Helper()
	c, err := NewChain(strategies, WithRetry(testPolicy()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

var (
	longText  = strings.Repeat("The quick brown fox jumps over the lazy dog. ", 5)
	shortText = "Page twelve, mostly an image"
)

func TestLongPreviewNeverInvokesOCR(t *testing.T) {
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Text(longText)}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Text("ocr text that should not appear")}}

	res, err := newTestChain(t, native, tess).ExtractPage(context.Background(), testDoc(), 12)
	if err != nil {
		t.Fatal(err)
	}
	if tess.calls != 0 {
		t.Errorf("OCR called %d times", tess.calls)
	}
	if native.calls != 1 {
		t.Errorf("native called %d times, want 1", native.calls)
	}
	if res.Method != "pdftext" || res.OCRUsed || res.Error {
		t.Errorf("result = %+v", res)
	}
	if res.Verdict != "content" {
		t.Errorf("verdict = %s", res.Verdict)
	}
	if res.Text != strings.TrimSpace(longText) {
		t.Errorf("text = %q", res.Text)
	}
}

func TestShortPreviewEscalatesToOCR(t *testing.T) {
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Text(shortText)}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{TextWithConfidence(longText, 0.91234)}}

	res, err := newTestChain(t, native, tess).ExtractPage(context.Background(), testDoc(), 12)
	if err != nil {
		t.Fatal(err)
	}
	if tess.calls != 1 {
		t.Errorf("OCR called %d times, want 1", tess.calls)
	}
	if res.Method != "tesseract" || !res.OCRUsed {
		t.Errorf("method = %s ocr = %v", res.Method, res.OCRUsed)
	}
	if res.Confidence == nil || *res.Confidence != 0.91234 {
		t.Errorf("confidence = %v", res.Confidence)
	}
	if res.Verdict != "needs_ocr" {
		t.Errorf("verdict = %s", res.Verdict)
	}
}

func TestShortNativeTextIsFallbackWhenOCRFindsNothing(t *testing.T) {
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Text(shortText)}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Empty()}}

	res, err := newTestChain(t, native, tess).ExtractPage(context.Background(), testDoc(), 12)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error {
		t.Fatal("page marked as error")
	}
	if res.Method != "pdftext" || res.OCRUsed || res.Text != shortText {
		t.Errorf("result = %+v", res)
	}
	if tess.calls != 1 {
		t.Errorf("empty OCR outcome retried: %d calls", tess.calls)
	}
	if native.calls != 1 {
		t.Errorf("native called %d times, want only the preview", native.calls)
	}
}

func TestAllStrategiesFailing(t *testing.T) {
	boom := errors.New("boom")
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Failed(boom)}}
	alt := &fakeStrategy{name: "pdfcpu", outcomes: []Outcome{Failed(boom)}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Failed(boom)}}

	res, err := newTestChain(t, native, alt, tess).ExtractPage(context.Background(), testDoc(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Error || res.Method != MethodNone || res.Text != "" {
		t.Errorf("result = %+v", res)
	}
	// one preview call per native strategy plus three retried attempts each
	if native.calls != 4 || alt.calls != 4 {
		t.Errorf("native calls = %d, %d; want 4, 4", native.calls, alt.calls)
	}
	if tess.calls != 3 {
		t.Errorf("OCR calls = %d, want 3", tess.calls)
	}
	if len(res.Attempts) != 11 {
		t.Errorf("attempts recorded = %d, want 11", len(res.Attempts))
	}
}

func TestRetriesAreBoundedAndRecover(t *testing.T) {
	boom := errors.New("flaky")
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Text(shortText)}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Failed(boom), Failed(boom), Text(longText)}}

	res, err := newTestChain(t, native, tess).ExtractPage(context.Background(), testDoc(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if tess.calls != 3 {
		t.Errorf("OCR calls = %d, want 3", tess.calls)
	}
	if res.Method != "tesseract" || res.Error {
		t.Errorf("result = %+v", res)
	}
}

func TestBlankPageKeepsPreviewProvenance(t *testing.T) {
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Empty()}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Text(longText)}}

	res, err := newTestChain(t, native, tess).ExtractPage(context.Background(), testDoc(), 40)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != "blank" || res.Error || res.Method != "pdftext" || res.Text != "" {
		t.Errorf("result = %+v", res)
	}
	if tess.calls != 0 {
		t.Errorf("OCR called on blank page")
	}
}

func TestFrontMatterIsNotEscalated(t *testing.T) {
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Text("Copyright 2020")}}
	tess := &fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Text(longText)}}

	res, err := newTestChain(t, native, tess).ExtractPage(context.Background(), testDoc(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if res.Verdict != "front_matter" || tess.calls != 0 || res.Text != "Copyright 2020" {
		t.Errorf("result = %+v, ocr calls = %d", res, tess.calls)
	}
}

func TestFailedPreviewFallsThroughToNextNative(t *testing.T) {
	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Failed(errors.New("bad xref"))}}
	alt := &fakeStrategy{name: "pdfcpu", outcomes: []Outcome{Text(longText)}}

	res, err := newTestChain(t, native, alt).ExtractPage(context.Background(), testDoc(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if res.Method != "pdfcpu" || native.calls != 1 {
		t.Errorf("method = %s, pdftext calls = %d", res.Method, native.calls)
	}
}

func TestExtractPageCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	native := &fakeStrategy{name: "pdftext", outcomes: []Outcome{Text(longText)}}
	_, err := newTestChain(t, native).ExtractPage(ctx, testDoc(), 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNewChainRequiresStrategies(t *testing.T) {
	if _, err := NewChain(nil); !errors.Is(err, ErrNoStrategies) {
		t.Fatalf("err = %v, want ErrNoStrategies", err)
	}
}

func TestDescribe(t *testing.T) {
	c := newTestChain(t,
		&fakeStrategy{name: "pdftext", outcomes: []Outcome{Empty()}},
		&fakeStrategy{name: "tesseract", ocr: true, outcomes: []Outcome{Empty()}},
	)
	if got := c.Describe(); got != "pdftext -> tesseract* (* = OCR)" {
		t.Errorf("Describe() = %q", got)
	}
}

func TestNativeStrategiesFailOnGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := OpenDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()

	for _, s := range []Strategy{NewPdftextStrategy(), NewPdfcpuStrategy()} {
		if out := s.Extract(context.Background(), doc, 1); out.Kind != KindFailed {
			t.Errorf("%s: kind = %s, want failed", s.Name(), out.Kind)
		}
	}

	c, err := NewChain([]Strategy{NewPdftextStrategy(), NewPdfcpuStrategy()}, WithRetry(testPolicy()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.ExtractPage(context.Background(), doc, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Error || res.Method != MethodNone {
		t.Errorf("result = %+v", res)
	}
}

func TestOpenDocumentMissing(t *testing.T) {
	_, err := OpenDocument(filepath.Join(t.TempDir(), "missing.pdf"))
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("err = %v, want ErrDocumentNotFound", err)
	}
}
