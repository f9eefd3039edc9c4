package dataset

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"archivist/internal/logger"
)

const maxLineBytes = 64 * 1024 * 1024

// SaveOptions controls Save.
type SaveOptions struct {
	// Validate runs ValidateStructure before writing and refuses to save on
	// any problem.
	Validate bool

	// Stage selects the required-field set. Empty checks only segment_id
	// and segment.
	Stage string
}

// Store reads and writes dataset files.
type Store struct {
	log zerolog.Logger
	now func() time.Time
}

// NewStore creates a Store.
func NewStore() *Store {
	return &Store{
		log: logger.WithComponent("dataset"),
		now: time.Now,
	}
}

// Load reads path, verifies the manifest hash and returns the dataset with
// cards sorted by segment_id. Lines that fail to decode are skipped and
// reported in Dataset.Warnings.
func (s *Store) Load(path string) (*Dataset, error) {
	const op = "Load"

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, NewDatasetError(op, path, ErrNotFound, "")
		}
		return nil, NewDatasetError(op, path, err, "open")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineBytes)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, NewDatasetError(op, path, err, "read")
	}

	begin, end := -1, -1
	for i, line := range lines {
		if strings.TrimSpace(line) == BeginMarker {
			begin = i
			break
		}
	}
	for i := len(lines) - 1; i > begin; i-- {
		if strings.TrimSpace(lines[i]) == EndMarker {
			end = i
			break
		}
	}
	if begin < 0 || end < 0 {
		return nil, NewDatasetError(op, path, ErrFormat, "missing begin/end markers")
	}

	ds := &Dataset{}
	hash := sha256.New()
	footerSeen := false

	for i, raw := range lines[begin+1 : end] {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		lineNum := begin + 2 + i

		var peek struct {
			SegmentID string `json:"segment_id"`
		}
		if err := json.Unmarshal([]byte(raw), &peek); err != nil {
			if !footerSeen {
				hash.Write([]byte(raw + "\n"))
			}
			s.warn(ds, path, lineNum, err)
			continue
		}

		switch peek.SegmentID {
		case HeaderID, AuditID, FooterID:
			var rec Record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				s.warn(ds, path, lineNum, err)
				continue
			}
			switch peek.SegmentID {
			case HeaderID:
				ds.Header = rec
			case AuditID:
				ds.Audit = rec
			case FooterID:
				ds.Footer = rec
				footerSeen = true
				continue
			}
		default:
			var card Card
			if err := json.Unmarshal([]byte(raw), &card); err != nil {
				s.warn(ds, path, lineNum, err)
			} else if !footerSeen {
				ds.Cards = append(ds.Cards, &card)
			}
		}
		if !footerSeen {
			hash.Write([]byte(raw + "\n"))
		}
	}

	if ds.Footer == nil {
		return nil, NewDatasetError(op, path, ErrFormat, "missing footer")
	}
	want := ds.Footer.String("manifest_sha256")
	got := hex.EncodeToString(hash.Sum(nil))
	if want != got {
		return nil, NewDatasetError(op, path, ErrManifestMismatch,
			fmt.Sprintf("footer %s, body %s", short(want), short(got)))
	}
	if n, ok := ds.Footer.Int("card_count"); ok && n != len(ds.Cards) && len(ds.Warnings) == 0 {
		return nil, NewDatasetError(op, path, ErrManifestMismatch,
			fmt.Sprintf("footer card_count %d, body has %d", n, len(ds.Cards)))
	}

	ds.SortCards()
	s.log.Debug().
		Str("path", path).
		Int("cards", len(ds.Cards)).
		Int("warnings", len(ds.Warnings)).
		Msg("Dataset loaded")
	return ds, nil
}

func (s *Store) warn(ds *Dataset, path string, lineNum int, err error) {
	msg := fmt.Sprintf("line %d: %v", lineNum, err)
	ds.Warnings = append(ds.Warnings, msg)
	s.log.Warn().
		Str("path", path).
		Int("line", lineNum).
		Err(err).
		Msg("Skipping undecodable dataset line")
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// Save writes ds to path atomically. Header and audit receive their sentinel
// ids and defaults; a fresh footer carrying the manifest hash and card count
// replaces ds.Footer, keeping any extra footer keys. The header, audit and
// footer maps of ds are updated in place to what was written.
func (s *Store) Save(path string, ds *Dataset, opts SaveOptions) error {
	const op = "Save"

	stage := ds.Stage()
	if opts.Validate {
		if problems := ValidateStructure(ds.Header, ds.Cards, opts.Stage); len(problems) > 0 {
			return NewDatasetError(op, path, &ValidationError{Stage: stage, Problems: problems}, "")
		}
	}
	seen := make(map[string]bool, len(ds.Cards))
	for _, c := range ds.Cards {
		var problem string
		switch {
		case IsReserved(c.SegmentID):
			problem = fmt.Sprintf("card uses reserved segment_id %q", c.SegmentID)
		case seen[c.SegmentID]:
			problem = fmt.Sprintf("duplicate segment_id %q", c.SegmentID)
		}
		if problem != "" {
			return NewDatasetError(op, path, &ValidationError{Stage: stage, Problems: []string{problem}}, "")
		}
		seen[c.SegmentID] = true
	}
	cards := slices.Clone(ds.Cards)
	slices.SortStableFunc(cards, func(a, b *Card) int {
		return compareIDs(a.SegmentID, b.SegmentID)
	})

	now := Timestamp(s.now())
	var body bytes.Buffer

	header := ds.Header
	if header == nil {
		header = Record{}
	}
	header["segment_id"] = HeaderID
	if _, ok := header["segment_ids"]; ok {
		ids := make([]string, len(cards))
		for i, c := range cards {
			ids[i] = c.SegmentID
		}
		header["segment_ids"] = ids
	}
	setDefault(header, "version", Version)
	setDefault(header, "product", ProductName)
	setDefault(header, "created_at", now)
	if err := writeLine(&body, header); err != nil {
		return NewDatasetError(op, path, err, "encode header")
	}

	for _, c := range cards {
		if err := writeLine(&body, c); err != nil {
			return NewDatasetError(op, path, err, "encode card "+c.SegmentID)
		}
	}

	if ds.Audit != nil {
		ds.Audit["segment_id"] = AuditID
		setDefault(ds.Audit, "created_at", now)
		if err := writeLine(&body, ds.Audit); err != nil {
			return NewDatasetError(op, path, err, "encode audit")
		}
	}

	sum := sha256.Sum256(body.Bytes())
	footer := ds.Footer
	if footer == nil {
		footer = Record{}
	}
	footer["segment_id"] = FooterID
	footer["manifest_sha256"] = hex.EncodeToString(sum[:])
	footer["card_count"] = len(ds.Cards)
	footer["created_at"] = now
	footer["version"] = Version
	footer["product"] = ProductName

	var out bytes.Buffer
	out.Grow(body.Len() + 512)
	out.WriteString(BeginMarker + "\n")
	out.Write(body.Bytes())
	if err := writeLine(&out, footer); err != nil {
		return NewDatasetError(op, path, err, "encode footer")
	}
	out.WriteString(EndMarker + "\n")

	if err := WriteFileAtomic(path, out.Bytes()); err != nil {
		return NewDatasetError(op, path, err, "write")
	}

	ds.Header = header
	ds.Footer = footer
	s.log.Info().
		Str("path", path).
		Str("stage", stage).
		Int("cards", len(ds.Cards)).
		Int("bytes", out.Len()).
		Msg("Dataset saved")
	return nil
}

// compareIDs orders numeric ids by value and anything else lexically.
func compareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			return len(ta) - len(tb)
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Merge concatenates the cards of several datasets into one file. The first
// header is the base. Cards are re-keyed with sequential ids so the merged
// file never holds duplicates; the original id and book are kept in
// source_segment_id and source_book.
func (s *Store) Merge(datasets []*Dataset, outputPath string) (*Dataset, error) {
	const op = "Merge"

	if len(datasets) == 0 {
		return nil, NewDatasetError(op, outputPath, ErrFormat, "nothing to merge")
	}

	header := Record{}
	if datasets[0].Header != nil {
		header = datasets[0].Header.Clone()
	}
	delete(header, "segment_id")

	merged := &Dataset{Header: header}
	var sources []string
	for _, ds := range datasets {
		book := ds.Book()
		if book == "" {
			book = ds.Header.String("title")
		}
		sources = append(sources, book)
		for _, c := range ds.Cards {
			card := c.Clone()
			card.Set("source_segment_id", c.SegmentID)
			card.Set("source_book", book)
			card.SegmentID = fmt.Sprintf("%08d", len(merged.Cards)+1)
			merged.Cards = append(merged.Cards, card)
		}
	}

	header["merged_from"] = sources
	header["merged_at"] = Timestamp(s.now())
	header["total_cards"] = len(merged.Cards)
	delete(header, "created_at")
	delete(header, "segment_ids")

	if err := s.Save(outputPath, merged, SaveOptions{}); err != nil {
		return nil, err
	}
	s.log.Info().
		Int("datasets", len(datasets)).
		Int("cards", len(merged.Cards)).
		Str("path", outputPath).
		Msg("Datasets merged")
	return merged, nil
}

// WriteFileAtomic writes data to a temp file next to path and renames it into
// place, creating parent directories.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func writeLine(buf *bytes.Buffer, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}

func setDefault(r Record, key string, value any) {
	if _, ok := r[key]; !ok {
		r[key] = value
	}
}
