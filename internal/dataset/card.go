package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Table is one extracted table attached to a card.
type Table struct {
	TableID  string     `json:"table_id"`
	Rows     int        `json:"rows"`
	Cols     int        `json:"cols"`
	Data     [][]string `json:"data"`
	Markdown string     `json:"markdown"`
}

// NavLink points at a neighbouring card.
type NavLink struct {
	PageNum   int    `json:"page_num"`
	SegmentID string `json:"segment_id"`
}

// Card is one page record. Core fields are typed; anything a later stage adds
// goes into Extra and is serialised next to the core fields.
type Card struct {
	SegmentID        string
	PageNum          int
	Segment          string
	SourceFile       string
	ExtractionMethod string
	OCRUsed          bool
	OCRConfidence    *float64
	HasTable         bool
	TableCount       int
	Tables           []Table
	Error            bool

	Extra map[string]any
}

// cardCore fixes the serialised order of the core fields.
type cardCore struct {
	SegmentID        string   `json:"segment_id"`
	PageNum          int      `json:"page_num,omitempty"`
	Segment          string   `json:"segment"`
	SourceFile       string   `json:"source_file,omitempty"`
	ExtractionMethod string   `json:"extraction_method,omitempty"`
	OCRUsed          bool     `json:"ocr_used"`
	OCRConfidence    *float64 `json:"ocr_confidence,omitempty"`
	HasTable         bool     `json:"has_table"`
	TableCount       int      `json:"table_count,omitempty"`
	Tables           []Table  `json:"tables,omitempty"`
	Error            bool     `json:"error,omitempty"`
}

var coreKeys = map[string]bool{
	"segment_id":        true,
	"page_num":          true,
	"segment":           true,
	"source_file":       true,
	"extraction_method": true,
	"ocr_used":          true,
	"ocr_confidence":    true,
	"has_table":         true,
	"table_count":       true,
	"tables":            true,
	"error":             true,
}

// IsCoreField reports whether key is one of the typed card fields.
func IsCoreField(key string) bool {
	return coreKeys[key]
}

// SegmentIDForPage formats the segment id of a 1-based page number.
func SegmentIDForPage(page int) string {
	return fmt.Sprintf("%05d", page)
}

// SetConfidence stores an OCR confidence rounded to three decimals.
func (c *Card) SetConfidence(v float64) {
	r := Round3(v)
	c.OCRConfidence = &r
}

// Round3 rounds to three decimal places.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Set stores a stage-appended field. Core field names are rejected so that
// typed fields cannot be shadowed.
func (c *Card) Set(key string, value any) {
	if coreKeys[key] {
		panic(fmt.Sprintf("dataset: Set on core field %q", key))
	}
	if c.Extra == nil {
		c.Extra = make(map[string]any)
	}
	c.Extra[key] = value
}

// Get returns an extra field.
func (c *Card) Get(key string) (any, bool) {
	v, ok := c.Extra[key]
	return v, ok
}

// String returns an extra field as a string.
func (c *Card) String(key string) string {
	if s, ok := c.Extra[key].(string); ok {
		return s
	}
	return ""
}

// Bool returns an extra field as a bool.
func (c *Card) Bool(key string) bool {
	b, _ := c.Extra[key].(bool)
	return b
}

// Int returns an extra field as an int, accepting the float64 produced by
// decoding.
func (c *Card) Int(key string) (int, bool) {
	return toInt(c.Extra[key])
}

// SetFlag sets flags.<name> = true, creating the flags object when needed.
func (c *Card) SetFlag(name string) {
	flags, _ := c.Extra["flags"].(map[string]any)
	if flags == nil {
		flags = make(map[string]any)
	}
	flags[name] = true
	c.Set("flags", flags)
}

// Flag reports flags.<name>.
func (c *Card) Flag(name string) bool {
	flags, _ := c.Extra["flags"].(map[string]any)
	b, _ := flags[name].(bool)
	return b
}

// IsDuplicate reports the is_duplicate marker set by deduplication.
func (c *Card) IsDuplicate() bool {
	return c.Bool("is_duplicate")
}

// Has reports whether key would be present in the serialised card.
func (c *Card) Has(key string) bool {
	switch key {
	case "segment_id", "segment":
		return true
	case "page_num":
		return c.PageNum != 0
	case "source_file":
		return c.SourceFile != ""
	case "extraction_method":
		return c.ExtractionMethod != ""
	case "ocr_used":
		return c.OCRUsed
	case "ocr_confidence":
		return c.OCRConfidence != nil
	case "has_table":
		return c.HasTable
	case "table_count":
		return c.TableCount != 0
	case "tables":
		return len(c.Tables) > 0
	case "error":
		return c.Error
	}
	_, ok := c.Extra[key]
	return ok
}

// Keys returns every serialised field name, core fields first.
func (c *Card) Keys() []string {
	var keys []string
	for _, k := range []string{"segment_id", "page_num", "segment", "source_file",
		"extraction_method", "ocr_used", "ocr_confidence", "has_table",
		"table_count", "tables", "error"} {
		if c.Has(k) {
			keys = append(keys, k)
		}
	}
	return append(keys, c.extraKeys()...)
}

func (c *Card) extraKeys() []string {
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		if !coreKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy through JSON so stages never alias each other.
func (c *Card) Clone() *Card {
	data, err := c.MarshalJSON()
	if err != nil {
		panic(err)
	}
	var out Card
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	return &out
}

// MarshalJSON writes core fields in a fixed order followed by extras sorted by key.
func (c *Card) MarshalJSON() ([]byte, error) {
	core, err := encodeJSON(cardCore{
		SegmentID:        c.SegmentID,
		PageNum:          c.PageNum,
		Segment:          c.Segment,
		SourceFile:       c.SourceFile,
		ExtractionMethod: c.ExtractionMethod,
		OCRUsed:          c.OCRUsed,
		OCRConfidence:    c.OCRConfidence,
		HasTable:         c.HasTable,
		TableCount:       c.TableCount,
		Tables:           c.Tables,
		Error:            c.Error,
	})
	if err != nil {
		return nil, err
	}

	keys := c.extraKeys()
	if len(keys) == 0 {
		return core, nil
	}

	var buf bytes.Buffer
	buf.Write(core[:len(core)-1])
	for _, k := range keys {
		name, err := encodeJSON(k)
		if err != nil {
			return nil, err
		}
		value, err := encodeJSON(c.Extra[k])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON splits known core fields from extras.
func (c *Card) UnmarshalJSON(data []byte) error {
	var core cardCore
	if err := json.Unmarshal(data, &core); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*c = Card{
		SegmentID:        core.SegmentID,
		PageNum:          core.PageNum,
		Segment:          core.Segment,
		SourceFile:       core.SourceFile,
		ExtractionMethod: core.ExtractionMethod,
		OCRUsed:          core.OCRUsed,
		OCRConfidence:    core.OCRConfidence,
		HasTable:         core.HasTable,
		TableCount:       core.TableCount,
		Tables:           core.Tables,
		Error:            core.Error,
	}
	for k, v := range all {
		if coreKeys[k] {
			continue
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
	return nil
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
