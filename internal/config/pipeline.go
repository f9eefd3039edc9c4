package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig is the backoff policy applied to every extractor attempt.
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

// BlankConfig tunes the blank page classifier.
type BlankConfig struct {
	MinCharsOCR      int  `yaml:"min_chars_ocr"`
	SkipFrontMatter  bool `yaml:"skip_front_matter"`
	FrontMatterPages int  `yaml:"front_matter_pages"`
	FrontMatterChars int  `yaml:"front_matter_chars"`
}

// OCRConfig lists OCR engines in chain order. Cloud engines are skipped when
// credentials are missing.
type OCRConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Engines   []string      `yaml:"engines"`
	Language  string        `yaml:"language"`
	DPI       int           `yaml:"dpi"`
	Pdftoppm  string        `yaml:"pdftoppm"`
	Tesseract string        `yaml:"tesseract"`
	Timeout   time.Duration `yaml:"timeout"`
}

// TextExtractionConfig configures the text extraction chain.
type TextExtractionConfig struct {
	Native        []string    `yaml:"native"`
	MinValidChars int         `yaml:"min_valid_chars"`
	OCR           OCRConfig   `yaml:"ocr"`
	Blank         BlankConfig `yaml:"blank_detection"`
}

// TableExtractionConfig configures the table extraction chain.
type TableExtractionConfig struct {
	Enabled      bool    `yaml:"enabled"`
	MinRows      int     `yaml:"min_rows"`
	MinCols      int     `yaml:"min_cols"`
	RowTolerance float64 `yaml:"row_tolerance"`
	ColumnGap    float64 `yaml:"column_gap"`
}

type StructuralConfig struct {
	Text   TextExtractionConfig  `yaml:"text_extraction"`
	Tables TableExtractionConfig `yaml:"table_extraction"`
	Retry  RetryConfig           `yaml:"retry"`
}

type StructureDetectConfig struct {
	MinChapterGap  int `yaml:"min_chapter_gap"`
	MinTitleLength int `yaml:"min_title_length"`
	MaxTitleLength int `yaml:"max_title_length"`
	TOCScanPages   int `yaml:"toc_scan_pages"`
}

type SummarizeConfig struct {
	MinTextLength  int     `yaml:"min_text_length"`
	GenerateL2     bool    `yaml:"generate_l2"`
	L1MaxSentences int     `yaml:"l1_max_sentences"`
	L1MaxChars     int     `yaml:"l1_max_chars"`
	L2MaxSentences int     `yaml:"l2_max_sentences"`
	L2MaxChars     int     `yaml:"l2_max_chars"`
	PositionWeight float64 `yaml:"position_weight"`
	LengthWeight   float64 `yaml:"length_weight"`
	NumericBonus   float64 `yaml:"numeric_bonus"`
	ColonBonus     float64 `yaml:"colon_bonus"`
}

type DedupConfig struct {
	Enabled   bool `yaml:"enabled"`
	MinLength int  `yaml:"min_length"`
}

type ContinuityConfig struct {
	Enabled          bool    `yaml:"enabled"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
}

// FieldsConfig controls extended field extraction. UseLM enables the OpenAI
// chat backend when OPENAI_API_KEY is present.
type FieldsConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MinLength int           `yaml:"min_length"`
	UseLM     bool          `yaml:"use_lm"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ExtendedConfig struct {
	Dedup      DedupConfig      `yaml:"deduplication"`
	Continuity ContinuityConfig `yaml:"continuity"`
	Fields     FieldsConfig     `yaml:"extended_fields"`
}

type FinalizeConfig struct {
	StrictMode       bool `yaml:"strict_mode"`
	MinSegmentLength int  `yaml:"min_segment_length"`
	SchemaValidation bool `yaml:"schema_validation"`
}

type ChunkConfig struct {
	ChunkSize        int  `yaml:"chunk_size"`
	ChunkOverlap     int  `yaml:"chunk_overlap"`
	MinChunkSize     int  `yaml:"min_chunk_size"`
	IncludeContext   bool `yaml:"include_context"`
	ContextMaxTokens int  `yaml:"context_max_tokens"`
}

// EmbedConfig selects the embedding backend: "tfidf" or "openai".
type EmbedConfig struct {
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type BatchConfig struct {
	CheckpointFile  string        `yaml:"checkpoint_file"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	ContinueOnError bool          `yaml:"continue_on_error"`
	ExcludeFiles    []string      `yaml:"exclude_files"`
	ReportFile      string        `yaml:"report_file"`
	WorkbookFile    string        `yaml:"workbook_file"`
}

// Pipeline is the YAML pipeline configuration. Every key is optional.
type Pipeline struct {
	ValidateStages  bool                  `yaml:"validate_stages"`
	Structural      StructuralConfig      `yaml:"structural"`
	StructureDetect StructureDetectConfig `yaml:"structure_detect"`
	Summarize       SummarizeConfig       `yaml:"summarize"`
	Extended        ExtendedConfig        `yaml:"extended"`
	Finalize        FinalizeConfig        `yaml:"finalize"`
	Chunk           ChunkConfig           `yaml:"chunk"`
	Embed           EmbedConfig           `yaml:"embed"`
	Batch           BatchConfig           `yaml:"batch"`
}

// DefaultPipeline returns the built-in pipeline settings.
func DefaultPipeline() *Pipeline {
	return &Pipeline{
		ValidateStages: true,
		Structural: StructuralConfig{
			Text: TextExtractionConfig{
				Native:        []string{"pdftext", "pdfcpu"},
				MinValidChars: 10,
				OCR: OCRConfig{
					Enabled:   true,
					Engines:   []string{"tesseract", "vision", "docai"},
					Language:  "eng",
					DPI:       300,
					Pdftoppm:  "pdftoppm",
					Tesseract: "tesseract",
					Timeout:   2 * time.Minute,
				},
				Blank: BlankConfig{
					MinCharsOCR:      50,
					SkipFrontMatter:  true,
					FrontMatterPages: 5,
					FrontMatterChars: 20,
				},
			},
			Tables: TableExtractionConfig{
				Enabled:      true,
				MinRows:      2,
				MinCols:      2,
				RowTolerance: 3,
				ColumnGap:    15,
			},
			Retry: RetryConfig{
				MaxRetries:    3,
				InitialDelay:  time.Second,
				BackoffFactor: 2,
				MaxDelay:      10 * time.Second,
			},
		},
		StructureDetect: StructureDetectConfig{
			MinChapterGap:  3,
			MinTitleLength: 3,
			MaxTitleLength: 200,
			TOCScanPages:   20,
		},
		Summarize: SummarizeConfig{
			MinTextLength:  50,
			GenerateL2:     true,
			L1MaxSentences: 3,
			L1MaxChars:     300,
			L2MaxSentences: 6,
			L2MaxChars:     900,
			PositionWeight: 0.1,
			LengthWeight:   0.1,
			NumericBonus:   0.05,
			ColonBonus:     0.03,
		},
		Extended: ExtendedConfig{
			Dedup:      DedupConfig{Enabled: true, MinLength: 50},
			Continuity: ContinuityConfig{Enabled: true, OverlapThreshold: 0.1},
			Fields: FieldsConfig{
				Enabled:   true,
				MinLength: 100,
				Model:     "gpt-4o-mini",
				Timeout:   30 * time.Second,
			},
		},
		Finalize: FinalizeConfig{
			MinSegmentLength: 10,
			SchemaValidation: true,
		},
		Chunk: ChunkConfig{
			ChunkSize:        512,
			ChunkOverlap:     128,
			MinChunkSize:     100,
			IncludeContext:   true,
			ContextMaxTokens: 200,
		},
		Embed: EmbedConfig{
			Backend:   "tfidf",
			Model:     "text-embedding-3-small",
			BatchSize: 64,
		},
		Batch: BatchConfig{
			CheckpointFile:  "checkpoint.json",
			MaxRetries:      3,
			ContinueOnError: true,
			ReportFile:      "batch_report.json",
		},
	}
}

// LoadPipeline reads a YAML pipeline file on top of the defaults. An empty
// path or a missing file yields the defaults.
func LoadPipeline(path string) (*Pipeline, error) {
	cfg := DefaultPipeline()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read pipeline config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse pipeline config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pipeline config %s: %w", path, err)
	}
	return cfg, nil
}

// SavePipeline writes cfg as YAML, creating parent directories.
func SavePipeline(path string, cfg *Pipeline) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (p *Pipeline) validate() error {
	r := p.Structural.Retry
	if r.MaxRetries < 1 {
		return fmt.Errorf("structural.retry.max_retries must be >= 1")
	}
	if r.BackoffFactor < 1 {
		return fmt.Errorf("structural.retry.backoff_factor must be >= 1")
	}
	if r.MaxDelay < r.InitialDelay {
		return fmt.Errorf("structural.retry.max_delay must be >= initial_delay")
	}
	if len(p.Structural.Text.Native) == 0 && !p.Structural.Text.OCR.Enabled {
		return fmt.Errorf("structural.text_extraction needs at least one strategy")
	}
	if t := p.Structural.Tables; t.MinRows < 1 || t.MinCols < 1 {
		return fmt.Errorf("structural.table_extraction.min_rows and min_cols must be >= 1")
	}
	if p.Extended.Continuity.OverlapThreshold < 0 {
		return fmt.Errorf("extended.continuity.overlap_threshold must be >= 0")
	}
	if p.Chunk.ChunkOverlap >= p.Chunk.ChunkSize {
		return fmt.Errorf("chunk.chunk_overlap must be smaller than chunk.chunk_size")
	}
	switch p.Embed.Backend {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("embed.backend must be tfidf or openai, got %q", p.Embed.Backend)
	}
	if p.Batch.MaxRetries < 1 {
		return fmt.Errorf("batch.max_retries must be >= 1")
	}
	return nil
}
