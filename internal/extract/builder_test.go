package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"archivist/internal/config"
	"archivist/internal/ocr"
)

type fakeRecognizer struct {
	name   string
	text   string
	err    error
	closed bool
	pages  []int
}

func (f *fakeRecognizer) Name() string { return f.name }

func (f *fakeRecognizer) RecognizePage(ctx context.Context, pdf []byte, page int) (*ocr.PageText, error) {
	f.pages = append(f.pages, page)
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.PageText{Text: f.text, Confidence: 0.8}, nil
}

func (f *fakeRecognizer) Close() error {
	f.closed = true
	return nil
}

func TestNewExtractorsOrder(t *testing.T) {
	cfg := config.DefaultPipeline().Structural
	vision := &fakeRecognizer{name: "vision"}

	ex, err := NewExtractors(context.Background(), cfg, BuildOptions{
		Runner:      &fakeRunner{},
		Recognizers: map[string]ocr.PageRecognizer{"vision": vision},
	})
	if err != nil {
		t.Fatal(err)
	}

	// docai has no credentials and is skipped
	want := []string{"pdftext", "pdfcpu", "tesseract", "vision"}
	if got := ex.Text.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}
	if ex.Tables == nil {
		t.Fatal("no table chain")
	}

	if err := ex.Close(); err != nil {
		t.Fatal(err)
	}
	if !vision.closed {
		t.Error("cloud backend not closed")
	}
}

func TestNewExtractorsOCRDisabled(t *testing.T) {
	cfg := config.DefaultPipeline().Structural
	cfg.Text.OCR.Enabled = false

	ex, err := NewExtractors(context.Background(), cfg, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got := ex.Text.Names(); !reflect.DeepEqual(got, []string{"pdftext", "pdfcpu"}) {
		t.Errorf("chain = %v", got)
	}
}

func TestNewExtractorsUnknownNative(t *testing.T) {
	cfg := config.DefaultPipeline().Structural
	cfg.Text.Native = []string{"pdftext", "pdfminer"}

	if _, err := NewExtractors(context.Background(), cfg, BuildOptions{}); err == nil {
		t.Fatal("unknown strategy accepted")
	}
}

func TestNewExtractorsNothingUsable(t *testing.T) {
	cfg := config.DefaultPipeline().Structural
	cfg.Text.Native = nil
	cfg.Text.OCR.Engines = []string{"vision"}

	_, err := NewExtractors(context.Background(), cfg, BuildOptions{})
	if !errors.Is(err, ErrNoStrategies) {
		t.Fatalf("err = %v, want ErrNoStrategies", err)
	}
}

func TestCloudStrategy(t *testing.T) {
	doc := &Document{Name: "scan.pdf", data: []byte("%PDF-1.4"), resources: map[string]any{}}

	rec := &fakeRecognizer{name: "docai", text: "recognised page text"}
	out := NewCloudStrategy(rec).Extract(context.Background(), doc, 5)
	if out.Kind != KindText || *out.Confidence != 0.8 {
		t.Errorf("outcome = %+v", out)
	}
	if !reflect.DeepEqual(rec.pages, []int{5}) {
		t.Errorf("pages = %v", rec.pages)
	}

	empty := &fakeRecognizer{name: "docai", err: ocr.WrapOCRError("RecognizePage", ocr.ErrEmptyPage, "")}
	if out := NewCloudStrategy(empty).Extract(context.Background(), doc, 5); out.Kind != KindEmpty {
		t.Errorf("empty page kind = %s", out.Kind)
	}

	failing := &fakeRecognizer{name: "docai", err: ocr.ErrQuotaExceeded}
	if out := NewCloudStrategy(failing).Extract(context.Background(), doc, 5); out.Kind != KindFailed {
		t.Errorf("failing kind = %s", out.Kind)
	}
}
