// Package index persists chunk vectors in a SQLite file and answers cosine
// similarity queries over them.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"archivist/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id    TEXT PRIMARY KEY,
	source_file TEXT NOT NULL DEFAULT '',
	page_num    INTEGER NOT NULL DEFAULT 0,
	text        TEXT NOT NULL,
	tokens      INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS vectors (
	chunk_id  TEXT PRIMARY KEY REFERENCES chunks(chunk_id) ON DELETE CASCADE,
	dimension INTEGER NOT NULL,
	norm      REAL NOT NULL,
	embedding BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_page ON chunks(page_num);
`

// ErrDimensionMismatch is returned when a vector does not match the index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Entry is one chunk with its vector.
type Entry struct {
	ChunkID    string
	SourceFile string
	PageNum    int
	Text       string
	Tokens     int
	Metadata   map[string]any
	Vector     []float32
}

// Hit is a search result.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	PageNum int     `json:"page_num"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Index is an open vector index file.
type Index struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Option customises Open.
type Option func(*options)

type options struct {
	busyTimeout int
	synchronous string
	mkdirAll    bool
}

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds.
func WithBusyTimeout(ms int) Option { return func(o *options) { o.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous.
func WithSynchronous(mode string) Option { return func(o *options) { o.synchronous = mode } }

// WithMkdirAll creates the parent directory before opening.
func WithMkdirAll() Option { return func(o *options) { o.mkdirAll = true } }

// Open opens or creates the index at path and applies the schema.
func Open(path string, opts ...Option) (*Index, error) {
	o := options{busyTimeout: 10_000, synchronous: "NORMAL"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mkdirAll {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("index: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("index: open %s: %w", path, err)
	}
	// a single connection keeps pragmas in effect for every statement
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout),
		"PRAGMA synchronous = " + o.synchronous,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("index: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: schema: %w", err)
	}

	return &Index{db: db, path: path, log: logger.WithComponent("index")}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

func (ix *Index) Path() string { return ix.path }

// SetMeta records the embedder name, model and dimension, and the source
// dataset.
func (ix *Index) SetMeta(ctx context.Context, meta map[string]string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return fmt.Errorf("index: set meta %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// Meta returns all metadata entries.
func (ix *Index) Meta(ctx context.Context) (map[string]string, error) {
	rows, err := ix.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Upsert writes entries in one transaction. Every vector must have the same
// dimension as those already stored.
func (ix *Index) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim, err := ix.dimension(ctx)
	if err != nil {
		return err
	}
	if dim == 0 {
		dim = len(entries[0].Vector)
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	chunkStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, source_file, page_num, text, tokens, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			source_file = excluded.source_file,
			page_num = excluded.page_num,
			text = excluded.text,
			tokens = excluded.tokens,
			metadata = excluded.metadata`)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	vecStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (chunk_id, dimension, norm, embedding)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chunk_id) DO UPDATE SET
			dimension = excluded.dimension,
			norm = excluded.norm,
			embedding = excluded.embedding`)
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for _, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, e.ChunkID, len(e.Vector), dim)
		}
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("index: metadata for %s: %w", e.ChunkID, err)
		}
		if _, err := chunkStmt.ExecContext(ctx, e.ChunkID, e.SourceFile, e.PageNum, e.Text, e.Tokens, string(metaJSON)); err != nil {
			return fmt.Errorf("index: insert chunk %s: %w", e.ChunkID, err)
		}
		if _, err := vecStmt.ExecContext(ctx, e.ChunkID, len(e.Vector), Norm(e.Vector), SerializeVector(e.Vector)); err != nil {
			return fmt.Errorf("index: insert vector %s: %w", e.ChunkID, err)
		}
	}

	start := time.Now()
	if err := tx.Commit(); err != nil {
		return err
	}
	ix.log.Debug().
		Int("entries", len(entries)).
		Int("dimension", dim).
		Dur("commit", time.Since(start)).
		Msg("Index upsert committed")
	return nil
}

// Count returns the number of stored vectors.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n)
	return n, err
}

func (ix *Index) dimension(ctx context.Context) (int, error) {
	var dim sql.NullInt64
	err := ix.db.QueryRowContext(ctx, `SELECT dimension FROM vectors LIMIT 1`).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(dim.Int64), nil
}

// Search returns the k entries most similar to query by cosine similarity,
// best first. Ties keep chunk id order.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	qNorm := Norm(query)

	rows, err := ix.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.page_num, c.text, v.norm, v.embedding
		FROM vectors v JOIN chunks c ON c.chunk_id = v.chunk_id
		ORDER BY c.chunk_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			norm float64
			blob []byte
		)
		if err := rows.Scan(&h.ChunkID, &h.PageNum, &h.Text, &norm, &blob); err != nil {
			return nil, err
		}
		vec := DeserializeVector(blob)
		if len(vec) != len(query) {
			return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(query), len(vec))
		}
		h.Score = CosineWithNorms(query, vec, qNorm, norm)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
