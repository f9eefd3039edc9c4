// Package dataset implements the staged JSONL dataset format shared by every
// pipeline stage.
//
// A dataset file looks like:
//
//	===DATASET_BEGIN===
//	{"segment_id":"__header__", ...}
//	{"segment_id":"00001", ...}
//	...
//	{"segment_id":"__audit__", ...}
//	{"segment_id":"__footer__","manifest_sha256":"...", ...}
//	===DATASET_END===
//
// The footer hash covers every JSON line before it, each followed by a
// newline, in file order. Files are written atomically and never edited in
// place.
package dataset

import (
	"sort"
	"time"
)

const (
	BeginMarker = "===DATASET_BEGIN==="
	EndMarker   = "===DATASET_END==="

	HeaderID = "__header__"
	AuditID  = "__audit__"
	FooterID = "__footer__"

	Version     = "2.0.0"
	ProductName = "archivist magika"
)

// Stage names as stored in the header "stage" field.
const (
	StageStructural = "structural"
	StageStructured = "structured"
	StageSummarized = "summarized"
	StageExtended   = "extended"
	StageFinal      = "final"
	StageChunks     = "chunks"
)

// RequiredFields lists the card fields each stage must carry.
var RequiredFields = map[string][]string{
	StageStructural: {"segment_id", "segment", "page_num"},
	StageStructured: {"segment_id", "segment", "page_num", "chapter_title", "section_title"},
	StageSummarized: {"segment_id", "segment", "page_num", "chapter_title", "section_title", "l1_summary", "l2_summary"},
	StageExtended:   {"segment_id", "segment", "page_num", "chapter_title", "section_title", "l1_summary", "l2_summary", "prev_page", "next_page"},
	StageFinal:      {"segment_id", "segment", "page_num"},
	StageChunks:     {"chunk_id", "text", "tokens", "metadata"},
}

var defaultRequired = []string{"segment_id", "segment"}

// RequiredFor returns the required card fields for stage.
func RequiredFor(stage string) []string {
	if fields, ok := RequiredFields[stage]; ok {
		return fields
	}
	return defaultRequired
}

// IsReserved reports whether id is one of the sentinel segment ids.
func IsReserved(id string) bool {
	return id == HeaderID || id == AuditID || id == FooterID
}

// Record is a free-form header, audit or footer object.
type Record map[string]any

// String returns key as a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int returns key as an int.
func (r Record) Int(key string) (int, bool) {
	return toInt(r[key])
}

// Clone returns a shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Dataset is one loaded or about-to-be-saved dataset file.
type Dataset struct {
	Header Record
	Cards  []*Card
	Audit  Record
	Footer Record

	// Warnings collects non-fatal problems found while loading.
	Warnings []string
}

// Stage returns the header stage name.
func (d *Dataset) Stage() string {
	return d.Header.String("stage")
}

// Book returns the header book name.
func (d *Dataset) Book() string {
	return d.Header.String("book")
}

// SortCards orders cards by segment_id.
func (d *Dataset) SortCards() {
	sort.SliceStable(d.Cards, func(i, j int) bool {
		return d.Cards[i].SegmentID < d.Cards[j].SegmentID
	})
}

// SegmentIDs returns the card ids in their current order.
func (d *Dataset) SegmentIDs() []string {
	ids := make([]string, len(d.Cards))
	for i, c := range d.Cards {
		ids[i] = c.SegmentID
	}
	return ids
}

// CloneCards deep-copies the cards so a stage can extend them without
// touching its input.
func (d *Dataset) CloneCards() []*Card {
	out := make([]*Card, len(d.Cards))
	for i, c := range d.Cards {
		out[i] = c.Clone()
	}
	return out
}

// Timestamp formats t the way every dataset timestamp is written.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
