package index

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"archivist/internal/logger"
)

func init() {
	logger.Discard()
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0, 1.5, -2.25, math.MaxFloat32}
	got := DeserializeVector(SerializeVector(v))
	if len(got) != len(v) {
		t.Fatalf("len = %d", len(got))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("[%d] = %v, want %v", i, got[i], v[i])
		}
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 3}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero", []float32{0, 0}, []float32{1, 1}, 0},
		{"mismatch", []float32{1}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func openTemp(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "sub", "book.sqlite"), WithMkdirAll())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	ix := openTemp(t)

	entries := []Entry{
		{ChunkID: "00000000", PageNum: 1, Text: "east", Vector: []float32{1, 0}},
		{ChunkID: "00000001", PageNum: 2, Text: "north", Vector: []float32{0, 1}},
		{ChunkID: "00000002", PageNum: 3, Text: "north-east", Vector: []float32{1, 1}, Metadata: map[string]any{"has_table": true}},
	}
	if err := ix.Upsert(ctx, entries); err != nil {
		t.Fatal(err)
	}
	// upsert again must replace, not duplicate
	if err := ix.Upsert(ctx, entries[:1]); err != nil {
		t.Fatal(err)
	}
	if n, err := ix.Count(ctx); err != nil || n != 3 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	hits, err := ix.Search(ctx, []float32{1, 0.1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "00000000" || hits[1].ChunkID != "00000002" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Error("hits not ordered by score")
	}

	if _, err := ix.Search(ctx, []float32{1, 0, 0}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
	err = ix.Upsert(ctx, []Entry{{ChunkID: "x", Text: "bad", Vector: []float32{1}}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	ix := openTemp(t)
	if err := ix.SetMeta(ctx, map[string]string{"embedder": "tfidf", "dimension": "8"}); err != nil {
		t.Fatal(err)
	}
	if err := ix.SetMeta(ctx, map[string]string{"dimension": "9"}); err != nil {
		t.Fatal(err)
	}
	meta, err := ix.Meta(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if meta["embedder"] != "tfidf" || meta["dimension"] != "9" {
		t.Errorf("meta = %v", meta)
	}
}

func TestSearchEmpty(t *testing.T) {
	ix := openTemp(t)
	hits, err := ix.Search(context.Background(), []float32{1}, 5)
	if err != nil || len(hits) != 0 {
		t.Errorf("Search = %v, %v", hits, err)
	}
}
