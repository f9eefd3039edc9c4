package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t100\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t0\t0\t10\t10\t90\tHello\n" +
	"5\t1\t1\t1\t1\t2\t0\t0\t10\t10\t80\tworld\n" +
	"5\t1\t1\t1\t2\t1\t0\t0\t10\t10\t70\tsecond\n" +
	"5\t1\t2\t1\t1\t1\t0\t0\t10\t10\t60\tBlock\n" +
	"5\t1\t2\t1\t1\t2\t0\t0\t10\t10\t-1\t \n"

func TestParseTesseractTSV(t *testing.T) {
	text, conf := ParseTesseractTSV([]byte(sampleTSV))
	if want := "Hello world\nsecond\n\nBlock"; text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
	if fmt.Sprintf("%.3f", conf) != "0.750" {
		t.Errorf("conf = %v, want 0.75", conf)
	}

	text, conf = ParseTesseractTSV(nil)
	if text != "" || conf != 0 {
		t.Errorf("empty input = %q, %v", text, conf)
	}
}

// fakeRunner writes a rendered page for pdftoppm and answers tesseract with
// canned TSV.
type fakeRunner struct {
	calls    []string
	tsv      string
	render   bool
	ocrError error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, name+" "+strings.Join(args, " "))
	switch name {
	case "pdftoppm":
		if f.render {
			prefix := args[len(args)-1]
			if err := os.WriteFile(prefix+"-07.png", []byte("png"), 0o644); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		if f.ocrError != nil {
			return nil, []byte("Error opening data file"), f.ocrError
		}
		return []byte(f.tsv), nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func TestTesseractStrategy(t *testing.T) {
	runner := &fakeRunner{tsv: sampleTSV, render: true}
	s := NewTesseractStrategy(TesseractConfig{Language: "rus+eng", DPI: 200}, runner)
	doc := &Document{Path: "/books/scan.pdf", Name: "scan.pdf"}

	out := s.Extract(context.Background(), doc, 7)
	if out.Kind != KindText {
		t.Fatalf("kind = %s, err = %v", out.Kind, out.Err)
	}
	if out.Confidence == nil || *out.Confidence != 0.75 {
		t.Errorf("confidence = %v", out.Confidence)
	}
	if len(runner.calls) != 2 {
		t.Fatalf("calls = %v", runner.calls)
	}
	if !strings.HasPrefix(runner.calls[0], "pdftoppm -f 7 -l 7 -r 200 -png /books/scan.pdf ") {
		t.Errorf("pdftoppm call = %q", runner.calls[0])
	}
	if !strings.HasSuffix(runner.calls[1], "stdout -l rus+eng tsv") {
		t.Errorf("tesseract call = %q", runner.calls[1])
	}
	if !s.OCR() || s.Name() != "tesseract" {
		t.Error("strategy identity")
	}
}

func TestTesseractStrategyFailures(t *testing.T) {
	doc := &Document{Path: "/books/scan.pdf", Name: "scan.pdf"}

	out := NewTesseractStrategy(TesseractConfig{}, &fakeRunner{}).Extract(context.Background(), doc, 3)
	if out.Kind != KindFailed || !errors.Is(out.Err, ErrPageOutOfRange) {
		t.Errorf("no render: %+v", out)
	}

	runner := &fakeRunner{render: true, ocrError: errors.New("exit status 1")}
	out = NewTesseractStrategy(TesseractConfig{}, runner).Extract(context.Background(), doc, 3)
	if out.Kind != KindFailed || !strings.Contains(out.Err.Error(), "Error opening data file") {
		t.Errorf("tesseract failure: %+v", out)
	}

	runner = &fakeRunner{render: true, tsv: "level\tpage_num\n"}
	out = NewTesseractStrategy(TesseractConfig{}, runner).Extract(context.Background(), doc, 3)
	if out.Kind != KindEmpty {
		t.Errorf("blank scan kind = %s", out.Kind)
	}
}

func TestTesseractAvailable(t *testing.T) {
	err := TesseractAvailable(TesseractConfig{Tesseract: "definitely-not-installed-ocr-binary"})
	if !errors.Is(err, ErrToolMissing) {
		t.Fatalf("err = %v, want ErrToolMissing", err)
	}
}
