package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"archivist/internal/logger"
)

// Runner lets tests stub external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	log zerolog.Logger
}

// NewExecRunner runs commands with os/exec.
func NewExecRunner() Runner {
	return execRunner{log: logger.WithComponent("exec")}
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.log.Error().
			Str("cmd", name).
			Str("args", strings.Join(args, " ")).
			Int64("duration_ms", dur.Milliseconds()).
			Str("stderr", truncate(errb.String(), 8<<10)).
			Err(err).
			Msg("exec failed")
	} else {
		r.log.Debug().
			Str("cmd", name).
			Int64("duration_ms", dur.Milliseconds()).
			Int("stdout_bytes", out.Len()).
			Msg("exec ok")
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// TesseractConfig configures the local OCR strategy.
type TesseractConfig struct {
	Pdftoppm  string
	Tesseract string
	Language  string
	DPI       int
	Timeout   time.Duration
}

// TesseractStrategy renders a page with pdftoppm and recognises it with
// tesseract in TSV mode, which yields both the text and per-word confidence.
type TesseractStrategy struct {
	cfg    TesseractConfig
	runner Runner
}

// NewTesseractStrategy creates the "tesseract" strategy. A nil runner uses
// os/exec.
func NewTesseractStrategy(cfg TesseractConfig, runner Runner) *TesseractStrategy {
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	return &TesseractStrategy{cfg: cfg, runner: runner}
}

// TesseractAvailable reports whether both binaries are on PATH.
func TesseractAvailable(cfg TesseractConfig) error {
	for _, bin := range []string{cfg.Pdftoppm, cfg.Tesseract} {
		if bin == "" {
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			return NewExtractError("TesseractAvailable", ErrToolMissing, bin)
		}
	}
	return nil
}

func (s *TesseractStrategy) Name() string { return "tesseract" }
func (s *TesseractStrategy) OCR() bool    { return true }

func (s *TesseractStrategy) Extract(ctx context.Context, doc *Document, page int) Outcome {
	const op = "tesseract.Extract"

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	tmpDir, err := os.MkdirTemp("", "archivist-ocr-*")
	if err != nil {
		return Failed(WrapExtractError(op, err, "temp dir"))
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	p := strconv.Itoa(page)
	_, errb, err := s.runner.Run(ctx, s.cfg.Pdftoppm,
		"-f", p, "-l", p, "-r", strconv.Itoa(s.cfg.DPI), "-png", doc.Path, prefix)
	if err != nil {
		return Failed(NewExtractError(op, err, "pdftoppm: "+truncate(strings.TrimSpace(string(errb)), 512)))
	}

	images, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(images)
	if len(images) == 0 {
		return Failed(NewExtractError(op, ErrPageOutOfRange, fmt.Sprintf("pdftoppm rendered nothing for page %d", page)))
	}

	out, errb, err := s.runner.Run(ctx, s.cfg.Tesseract, images[0], "stdout", "-l", s.cfg.Language, "tsv")
	if err != nil {
		return Failed(NewExtractError(op, err, "tesseract: "+truncate(strings.TrimSpace(string(errb)), 512)))
	}

	text, conf := ParseTesseractTSV(out)
	return TextWithConfidence(text, conf)
}

// ParseTesseractTSV rebuilds the page text from tesseract TSV output and
// returns the mean word confidence in 0..1. Lines break on line changes and
// paragraphs or blocks are separated by a blank line.
func ParseTesseractTSV(tsv []byte) (string, float64) {
	var b strings.Builder
	var sum float64
	var words int
	var lastBlock, lastPar, lastLine = -1, -1, -1

	for i, row := range strings.Split(string(tsv), "\n") {
		if i == 0 || row == "" {
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}
		block, _ := strconv.Atoi(cols[2])
		par, _ := strconv.Atoi(cols[3])
		line, _ := strconv.Atoi(cols[4])

		switch {
		case b.Len() == 0:
		case block != lastBlock || par != lastPar:
			b.WriteString("\n\n")
		case line != lastLine:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(word)
		lastBlock, lastPar, lastLine = block, par, line

		if c, err := strconv.ParseFloat(cols[10], 64); err == nil && c >= 0 {
			sum += c
			words++
		}
	}

	if words == 0 {
		return b.String(), 0
	}
	return b.String(), sum / float64(words) / 100
}
