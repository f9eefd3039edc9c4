// Package stages implements the pipeline stages. Each stage reads the output
// of the stage before it (the PDF for the first one) and writes one new
// dataset file; inputs are never modified.
package stages

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"archivist/internal/dataset"
)

// Stage names in pipeline order.
const (
	Structural      = "structural"
	StructureDetect = "structure_detect"
	Summarize       = "summarize"
	Extended        = "extended"
	Finalize        = "finalize"
	Chunk           = "chunk"
	Embed           = "embed"
)

// Order is the full stage list.
var Order = []string{Structural, StructureDetect, Summarize, Extended, Finalize, Chunk, Embed}

// DatasetStage maps a pipeline stage to the dataset stage it writes. Embed
// writes an index, not a dataset, and maps to "".
func DatasetStage(stage string) string {
	switch stage {
	case Structural:
		return dataset.StageStructural
	case StructureDetect:
		return dataset.StageStructured
	case Summarize:
		return dataset.StageSummarized
	case Extended:
		return dataset.StageExtended
	case Finalize:
		return dataset.StageFinal
	case Chunk:
		return dataset.StageChunks
	}
	return ""
}

// Request is the input of one stage run.
type Request struct {
	// Input is the PDF for the structural stage and the previous dataset
	// otherwise.
	Input string
	// Book is the safe book name used for output file names.
	Book string
}

// Output is what a stage produced.
type Output struct {
	Path    string
	Metrics map[string]any
}

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Run(ctx context.Context, req Request) (*Output, error)
}

// Layout resolves output locations under one root directory.
type Layout struct {
	Root string
}

// DatasetPath is <root>/datasets/<stage>/<book>.dataset.jsonl.
func (l Layout) DatasetPath(stage, book string) string {
	return filepath.Join(l.Root, "datasets", stage, book+".dataset.jsonl")
}

// ErrorDatasetPath is where a failed structural run leaves its error dataset.
func (l Layout) ErrorDatasetPath(book string) string {
	return filepath.Join(l.Root, "datasets", dataset.StageStructural, book+".error.dataset.jsonl")
}

// IndexPath is <root>/indexes/<book>.sqlite.
func (l Layout) IndexPath(book string) string {
	return filepath.Join(l.Root, "indexes", book+".sqlite")
}

// QualityDir holds tracker reports.
func (l Layout) QualityDir() string {
	return filepath.Join(l.Root, "quality")
}

// Ensure creates the directory tree.
func (l Layout) Ensure() error {
	dirs := []string{l.IndexPath("x"), filepath.Join(l.QualityDir(), "x")}
	for _, s := range []string{dataset.StageStructural, dataset.StageStructured, dataset.StageSummarized,
		dataset.StageExtended, dataset.StageFinal, dataset.StageChunks} {
		dirs = append(dirs, l.DatasetPath(s, "x"))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Dir(d), 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Env is shared by the dataset stages.
type Env struct {
	Store  *dataset.Store
	Layout Layout
	// Validate enables required-field validation on save.
	Validate bool
	Now      func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// load reads and checks the previous stage's dataset.
func (e Env) load(op, path string) (*dataset.Dataset, error) {
	ds, err := e.Store.Load(path)
	if err != nil {
		return nil, WrapStageError(op, err, path)
	}
	if ds.Header.String("error") != "" {
		return nil, NewStageError(op, ErrErrorDataset, ds.Header.String("error"))
	}
	return ds, nil
}

// save writes ds for the dataset stage and returns its path.
func (e Env) save(op, stage, book string, ds *dataset.Dataset) (string, error) {
	ds.Header["stage"] = stage
	ds.Header["total_cards"] = len(ds.Cards)
	ds.Header["segment_ids"] = ds.SegmentIDs()
	path := e.Layout.DatasetPath(stage, book)
	if err := e.Store.Save(path, ds, dataset.SaveOptions{Validate: e.Validate}); err != nil {
		return "", WrapStageError(op, err, path)
	}
	return path, nil
}
