package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadPipelineMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if cfg.Structural.Retry.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want 3", cfg.Structural.Retry.MaxRetries)
	}
	if cfg.Extended.Continuity.OverlapThreshold != 0.1 {
		t.Errorf("overlap_threshold = %v, want 0.1", cfg.Extended.Continuity.OverlapThreshold)
	}
}

func TestLoadPipelineOverridesKeepDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	body := `
structural:
  retry:
    initial_delay: 250ms
    max_delay: 2s
  text_extraction:
    ocr:
      engines: [vision]
finalize:
  strict_mode: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if cfg.Structural.Retry.InitialDelay != 250*time.Millisecond {
		t.Errorf("initial_delay = %v, want 250ms", cfg.Structural.Retry.InitialDelay)
	}
	if cfg.Structural.Retry.MaxRetries != 3 {
		t.Errorf("max_retries = %d, want default 3", cfg.Structural.Retry.MaxRetries)
	}
	if got := cfg.Structural.Text.OCR.Engines; len(got) != 1 || got[0] != "vision" {
		t.Errorf("engines = %v, want [vision]", got)
	}
	if !cfg.Finalize.StrictMode {
		t.Error("strict_mode not applied")
	}
	if cfg.Chunk.ChunkSize != 512 {
		t.Errorf("chunk_size = %d, want 512", cfg.Chunk.ChunkSize)
	}
}

func TestLoadPipelineRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"overlap":  "chunk:\n  chunk_size: 100\n  chunk_overlap: 100\n",
		"backend":  "embed:\n  backend: faiss\n",
		"retries":  "structural:\n  retry:\n    max_retries: 0\n",
		"bad yaml": "structural: [",
		"min rows": "structural:\n  table_extraction:\n    min_rows: 0\n",
		"negative": "extended:\n  continuity:\n    overlap_threshold: -0.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "pipeline.yaml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadPipeline(path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadPipelineZeroOverlapThreshold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	body := "extended:\n  continuity:\n    overlap_threshold: 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if cfg.Extended.Continuity.OverlapThreshold != 0 {
		t.Errorf("overlap_threshold = %v, want 0", cfg.Extended.Continuity.OverlapThreshold)
	}
}

func TestSavePipelineRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pipeline.yaml")
	want := DefaultPipeline()
	want.Batch.MaxRetries = 5

	if err := SavePipeline(path, want); err != nil {
		t.Fatalf("SavePipeline: %v", err)
	}
	got, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("LoadPipeline: %v", err)
	}
	if got.Batch.MaxRetries != 5 {
		t.Errorf("batch.max_retries = %d, want 5", got.Batch.MaxRetries)
	}
}
