package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"archivist/internal/config"
	"archivist/internal/dataset"
	"archivist/internal/embedding"
	"archivist/internal/extract"
	"archivist/internal/index"
	"archivist/internal/logger"
)

func init() {
	logger.Discard()
}

const body = "The scheduler assigns work to idle nodes in the cluster. " +
	"Each node reports its load every few seconds to the coordinator. " +
	"When a node fails the coordinator moves its tasks elsewhere. " +
	"Operators can drain a node before maintenance without losing work."

type fakePages struct {
	pages map[int]*extract.PageResult
}

func (f *fakePages) ExtractPage(_ context.Context, _ *extract.Document, page int) (*extract.PageResult, error) {
	if r, ok := f.pages[page]; ok {
		cp := *r
		cp.Page = page
		return &cp, nil
	}
	return &extract.PageResult{Page: page, Method: extract.MethodNone, Error: true}, nil
}

type fakeTables struct {
	page int
}

func (f *fakeTables) ExtractTables(_ context.Context, _ *extract.Document, page int) ([]dataset.Table, error) {
	if page != f.page {
		return nil, nil
	}
	return []dataset.Table{{
		TableID:  "table_1",
		Rows:     2,
		Cols:     2,
		Data:     [][]string{{"a", "b"}, {"1", "2"}},
		Markdown: "| a | b |\n| --- | --- |\n| 1 | 2 |",
	}}, nil
}

func testEnv(t *testing.T) Env {
	t.Helper()
	return Env{
		Store:    dataset.NewStore(),
		Layout:   Layout{Root: t.TempDir()},
		Validate: true,
		Now:      func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Distributed Systems.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func bookPages() *fakePages {
	conf := 0.87
	return &fakePages{pages: map[int]*extract.PageResult{
		1: {Text: "Chapter 1: Scheduling\n" + body, Method: "pdftext"},
		2: {Text: body + " Capacity = load / nodes for every pool.", Method: "pdftext"},
		3: {Text: body + " Capacity = load / nodes for every pool.", Method: "pdftext"},
		4: {Text: "1.1 Failure handling\nScanned page text. " + body, Method: "tesseract", OCRUsed: true, Confidence: &conf},
	}}
}

func fixedMetadata(pages int) func(*extract.Document) (*extract.Metadata, error) {
	return func(*extract.Document) (*extract.Metadata, error) {
		return &extract.Metadata{Title: "Distributed Systems", Author: "A. Writer", PageCount: pages, SHA256: "abc123"}, nil
	}
}

func TestStructuralStage(t *testing.T) {
	env := testEnv(t)
	s := NewStructuralStage(env, bookPages(), &fakeTables{page: 2})
	s.ReadMetadata = fixedMetadata(5)

	out, err := s.Run(context.Background(), Request{Input: writePDF(t), Book: "distributed_systems"})
	if err != nil {
		t.Fatal(err)
	}
	if want := env.Layout.DatasetPath(dataset.StageStructural, "distributed_systems"); out.Path != want {
		t.Errorf("path = %s, want %s", out.Path, want)
	}

	ds, err := env.Store.Load(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Cards) != 5 {
		t.Fatalf("cards = %d, want 5", len(ds.Cards))
	}
	if ds.Stage() != dataset.StageStructural || ds.Header.String("pdf_sha256") != "abc123" {
		t.Errorf("header = %v", ds.Header)
	}

	if c := ds.Cards[0]; c.SegmentID != "00001" || c.PageNum != 1 || c.OCRConfidence != nil {
		t.Errorf("card 1 = %+v", c)
	}
	if c := ds.Cards[1]; !c.HasTable || c.TableCount != 1 || c.Tables[0].Rows != 2 {
		t.Errorf("card 2 tables = %+v", c.Tables)
	}
	if c := ds.Cards[3]; !c.OCRUsed || c.OCRConfidence == nil || *c.OCRConfidence != 0.87 {
		t.Errorf("card 4 = %+v", c)
	}
	if c := ds.Cards[4]; !c.Error || c.Segment != "" || c.ExtractionMethod != extract.MethodNone {
		t.Errorf("card 5 = %+v", c)
	}

	checks := map[string]int{"success_pages": 4, "failed_pages": 1, "ocr_used_count": 1, "tables_extracted": 1, "error_pages": 1}
	for k, want := range checks {
		if got, _ := ds.Audit.Int(k); got != want {
			t.Errorf("audit %s = %d, want %d", k, got, want)
		}
	}
	if out.Metrics["success_ratio"] != 0.8 {
		t.Errorf("success_ratio = %v", out.Metrics["success_ratio"])
	}
}

func TestStructuralErrorDataset(t *testing.T) {
	env := testEnv(t)
	s := NewStructuralStage(env, bookPages(), nil)
	s.ReadMetadata = fixedMetadata(0)

	_, err := s.Run(context.Background(), Request{Input: writePDF(t), Book: "broken"})
	if !errors.Is(err, ErrNoPages) {
		t.Fatalf("err = %v, want ErrNoPages", err)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Op != "structural.Run" {
		t.Errorf("err = %#v", err)
	}

	ds, err := env.Store.Load(env.Layout.ErrorDatasetPath("broken"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ds.Header.String("error"), "page count") || len(ds.Cards) != 0 {
		t.Errorf("error header = %v", ds.Header)
	}
	if ds.Header.String("source_file") != "Distributed Systems.pdf" {
		t.Errorf("source_file = %q", ds.Header.String("source_file"))
	}

	// the next stage refuses an error dataset
	_, err = NewStructureDetectStage(env, config.DefaultPipeline().StructureDetect).
		Run(context.Background(), Request{Input: env.Layout.ErrorDatasetPath("broken"), Book: "broken"})
	if !errors.Is(err, ErrErrorDataset) {
		t.Errorf("err = %v, want ErrErrorDataset", err)
	}
}

func TestStructuralMissingFile(t *testing.T) {
	env := testEnv(t)
	_, err := NewStructuralStage(env, bookPages(), nil).
		Run(context.Background(), Request{Input: filepath.Join(t.TempDir(), "nope.pdf"), Book: "nope"})
	if !errors.Is(err, extract.ErrDocumentNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(env.Layout.ErrorDatasetPath("nope")); err != nil {
		t.Errorf("error dataset not written: %v", err)
	}
}

func TestStructuralCancelled(t *testing.T) {
	env := testEnv(t)
	s := NewStructuralStage(env, bookPages(), nil)
	s.ReadMetadata = fixedMetadata(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Run(ctx, Request{Input: writePDF(t), Book: "b"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestStagesEndToEnd(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	cfg := config.DefaultPipeline()
	cfg.Chunk.ChunkSize = 40
	cfg.Chunk.ChunkOverlap = 10
	cfg.Chunk.MinChunkSize = 5

	structural := NewStructuralStage(env, bookPages(), &fakeTables{page: 2})
	structural.ReadMetadata = fixedMetadata(5)

	pipeline := []Stage{
		structural,
		NewStructureDetectStage(env, cfg.StructureDetect),
		NewSummarizeStage(env, cfg.Summarize),
		NewExtendedStage(env, cfg.Extended, nil),
		NewFinalizeStage(env, cfg.Finalize),
		NewChunkStage(env, cfg.Chunk),
		NewEmbedStage(env, func() (embedding.Embedder, error) { return embedding.NewTFIDF(), nil }),
	}

	input := writePDF(t)
	outputs := make(map[string]*Output)
	for _, st := range pipeline {
		out, err := st.Run(ctx, Request{Input: input, Book: "ds"})
		if err != nil {
			t.Fatalf("%s: %v", st.Name(), err)
		}
		outputs[st.Name()] = out
		input = out.Path
	}

	structured, err := env.Store.Load(outputs[StructureDetect].Path)
	if err != nil {
		t.Fatal(err)
	}
	if got := structured.Cards[0].String("chapter_title"); got != "Scheduling" {
		t.Errorf("chapter_title = %q", got)
	}
	if got := structured.Cards[3].String("section_num"); got != "1.1" {
		t.Errorf("section_num = %q", got)
	}
	if got := structured.Cards[2].String("chapter_num"); got != "1" {
		t.Errorf("page 3 chapter_num = %q", got)
	}

	summarized, err := env.Store.Load(outputs[Summarize].Path)
	if err != nil {
		t.Fatal(err)
	}
	if summarized.Cards[0].String("l1_summary") == "" {
		t.Error("page 1 has no l1_summary")
	}
	if summarized.Cards[4].String("l1_summary") != "" {
		t.Error("failed page should have an empty summary")
	}

	extended, err := env.Store.Load(outputs[Extended].Path)
	if err != nil {
		t.Fatal(err)
	}
	if !extended.Cards[2].IsDuplicate() {
		t.Error("page 3 should be a duplicate of page 2")
	}
	if dupOf, _ := extended.Cards[2].Int("duplicate_of"); dupOf != 2 {
		t.Errorf("duplicate_of = %d", dupOf)
	}
	if v, _ := extended.Cards[0].Get("prev_page"); v != nil {
		t.Errorf("first prev_page = %v", v)
	}
	if _, ok := extended.Cards[1].Get("extended_fields"); !ok {
		t.Error("page 2 has no extended_fields")
	}
	if _, ok := extended.Cards[2].Get("extended_fields"); ok {
		t.Error("duplicate page should not get extended_fields")
	}

	final, err := env.Store.Load(outputs[Finalize].Path)
	if err != nil {
		t.Fatal(err)
	}
	if final.Header["validation_passed"] != false {
		t.Errorf("validation_passed = %v, want false for the empty page", final.Header["validation_passed"])
	}
	if len(final.Cards) != 5 {
		t.Errorf("final cards = %d", len(final.Cards))
	}

	chunks, err := env.Store.Load(outputs[Chunk].Path)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks.Cards) == 0 {
		t.Fatal("no chunks")
	}
	first := chunks.Cards[0]
	if first.SegmentID != "00000000" || first.String("chunk_id") != first.SegmentID {
		t.Errorf("first chunk = %+v", first)
	}
	if ctxLine := first.String("context"); !strings.HasPrefix(ctxLine, "Source: Distributed Systems.pdf | Chapter 1: Scheduling") {
		t.Errorf("context = %q", ctxLine)
	}
	if n, _ := chunks.Header.Int("total_chunks"); n != len(chunks.Cards) {
		t.Errorf("total_chunks = %d", n)
	}

	ix, err := index.Open(outputs[Embed].Path)
	if err != nil {
		t.Fatal(err)
	}
	defer ix.Close()
	n, err := ix.Count(ctx)
	if err != nil || n != len(chunks.Cards) {
		t.Errorf("indexed = %d, %v; want %d", n, err, len(chunks.Cards))
	}
	meta, err := ix.Meta(ctx)
	if err != nil || meta["embedder"] != "tfidf" || meta["source_stage"] != dataset.StageChunks {
		t.Errorf("meta = %v, %v", meta, err)
	}
	if score := outputs[Embed].Metrics["smoke_top_score"]; score != 1.0 {
		t.Errorf("smoke_top_score = %v", score)
	}
}

// A failed structure_detect leaves later stages reading the structural
// dataset; they must still save without the structure fields.
func TestStagesAfterFailedStructureDetect(t *testing.T) {
	ctx := context.Background()
	env := testEnv(t)
	cfg := config.DefaultPipeline()

	structural := NewStructuralStage(env, bookPages(), &fakeTables{page: 2})
	structural.ReadMetadata = fixedMetadata(5)
	out, err := structural.Run(ctx, Request{Input: writePDF(t), Book: "ds"})
	if err != nil {
		t.Fatal(err)
	}

	input := out.Path
	for _, st := range []Stage{
		NewSummarizeStage(env, cfg.Summarize),
		NewExtendedStage(env, cfg.Extended, nil),
		NewFinalizeStage(env, cfg.Finalize),
	} {
		out, err := st.Run(ctx, Request{Input: input, Book: "ds"})
		if err != nil {
			t.Fatalf("%s: %v", st.Name(), err)
		}
		input = out.Path
	}

	final, err := env.Store.Load(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.Cards) != 5 || final.Cards[0].Has("chapter_title") {
		t.Errorf("final cards = %d, chapter_title present = %v", len(final.Cards), final.Cards[0].Has("chapter_title"))
	}
}

func TestFinalizeStrict(t *testing.T) {
	env := testEnv(t)
	ds := &dataset.Dataset{
		Header: dataset.Record{"book": "b", "title": "B"},
		Cards: []*dataset.Card{
			{SegmentID: "00001", PageNum: 1, Segment: "short", SourceFile: "b.pdf"},
		},
	}
	in := filepath.Join(t.TempDir(), "in.dataset.jsonl")
	if err := env.Store.Save(in, ds, dataset.SaveOptions{}); err != nil {
		t.Fatal(err)
	}

	cfg := config.DefaultPipeline().Finalize
	cfg.StrictMode = true
	_, err := NewFinalizeStage(env, cfg).Run(context.Background(), Request{Input: in, Book: "b"})
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("err = %v, want ErrValidationFailed", err)
	}
	if _, err := os.Stat(env.Layout.DatasetPath(dataset.StageFinal, "b")); !os.IsNotExist(err) {
		t.Error("strict failure must not write the final dataset")
	}

	cfg.StrictMode = false
	if _, err := NewFinalizeStage(env, cfg).Run(context.Background(), Request{Input: in, Book: "b"}); err != nil {
		t.Errorf("lenient finalize: %v", err)
	}
}

func TestEmbedNoText(t *testing.T) {
	env := testEnv(t)
	ds := &dataset.Dataset{
		Header: dataset.Record{"book": "b"},
		Cards:  []*dataset.Card{{SegmentID: "00001", PageNum: 1, Segment: "  "}},
	}
	in := filepath.Join(t.TempDir(), "in.dataset.jsonl")
	if err := env.Store.Save(in, ds, dataset.SaveOptions{}); err != nil {
		t.Fatal(err)
	}
	stage := NewEmbedStage(env, func() (embedding.Embedder, error) { return embedding.NewTFIDF(), nil })
	if _, err := stage.Run(context.Background(), Request{Input: in, Book: "b"}); !errors.Is(err, ErrEmbeddingFailed) {
		t.Errorf("err = %v, want ErrEmbeddingFailed", err)
	}
}

func TestBuildContext(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]any
		want string
	}{
		{"source only", map[string]any{"source_file": "a.pdf"}, "Source: a.pdf"},
		{"full", map[string]any{
			"source_file": "a.pdf", "chapter_num": "2", "chapter_title": "Storage",
			"section_num": "2.1", "section_title": "Logs",
		}, "Source: a.pdf | Chapter 2: Storage | Section 2.1: Logs"},
		{"no number", map[string]any{"chapter_title": "Preface"}, "Chapter: Preface"},
		{"empty", map[string]any{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildContext(tt.meta); got != tt.want {
				t.Errorf("BuildContext = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddNavigation(t *testing.T) {
	cards := []*dataset.Card{
		{SegmentID: "00001", PageNum: 1},
		{SegmentID: "00002", PageNum: 2},
		{SegmentID: "00003", PageNum: 3},
	}
	AddNavigation(cards)

	if v, _ := cards[0].Get("prev_page"); v.(*dataset.NavLink) != nil {
		t.Error("first card has prev_page")
	}
	next, _ := cards[0].Get("next_page")
	if link := next.(*dataset.NavLink); link == nil || link.SegmentID != "00002" {
		t.Errorf("next_page = %v", next)
	}
	if v, _ := cards[2].Get("next_page"); v.(*dataset.NavLink) != nil {
		t.Error("last card has next_page")
	}
}

func TestDatasetStage(t *testing.T) {
	for _, name := range Order {
		got := DatasetStage(name)
		if (got == "") != (name == Embed) {
			t.Errorf("DatasetStage(%s) = %q", name, got)
		}
	}
}
