package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/sashabaranov/go-openai"

	"archivist/internal/config"
	"archivist/internal/logger"
)

func init() {
	logger.Discard()
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestTFIDF(t *testing.T) {
	corpus := []string{
		"raft leader election",
		"paxos leader proposal",
		"gardening tomato soil",
	}
	e := NewTFIDF()
	if _, err := e.Embed(context.Background(), corpus); !errors.Is(err, ErrNotPrepared) {
		t.Fatalf("err = %v, want ErrNotPrepared", err)
	}
	if err := e.Prepare(corpus); err != nil {
		t.Fatal(err)
	}
	if e.Dimension() != 8 {
		t.Errorf("Dimension = %d, want 8", e.Dimension())
	}

	vecs, err := e.Embed(context.Background(), append(corpus, "unknown words only"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if n := norm(vecs[i]); math.Abs(n-1) > 1e-6 {
			t.Errorf("vector %d norm = %v", i, n)
		}
	}
	if norm(vecs[3]) != 0 {
		t.Error("unknown text should embed to zero")
	}
	if dot(vecs[0], vecs[1]) <= dot(vecs[0], vecs[2]) {
		t.Error("related texts should be closer than unrelated ones")
	}
}

func TestTFIDFEmptyCorpus(t *testing.T) {
	if err := NewTFIDF().Prepare(nil); err == nil {
		t.Error("expected error")
	}
}

type fakeEmbeddings struct {
	calls int
	err   error
}

func (f *fakeEmbeddings) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.EmbeddingResponse{}, f.err
	}
	req := conv.Convert()
	inputs := req.Input.([]string)
	var resp openai.EmbeddingResponse
	// reverse order to check that Index is honoured
	for i := len(inputs) - 1; i >= 0; i-- {
		resp.Data = append(resp.Data, openai.Embedding{
			Index:     i,
			Embedding: []float32{float32(len(inputs[i])), 1},
		})
	}
	return resp, nil
}

func TestOpenAIBatches(t *testing.T) {
	fake := &fakeEmbeddings{}
	e := NewOpenAIWithClient(fake, "", 2)
	if e.Model() != string(openai.SmallEmbedding3) {
		t.Errorf("model = %s", e.Model())
	}

	vecs, err := e.Embed(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2", fake.calls)
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vector %d = %v", i, vecs[i])
		}
	}
	if e.Dimension() != 2 {
		t.Errorf("Dimension = %d", e.Dimension())
	}
}

func TestOpenAIError(t *testing.T) {
	boom := errors.New("quota")
	_, err := NewOpenAIWithClient(&fakeEmbeddings{err: boom}, "m", 0).Embed(context.Background(), []string{"x"})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestNew(t *testing.T) {
	cfg := config.DefaultPipeline().Embed
	e, err := New(cfg, "")
	if err != nil || e.Name() != "tfidf" {
		t.Fatalf("New(tfidf) = %v, %v", e, err)
	}

	cfg.Backend = "openai"
	if _, err := New(cfg, ""); err == nil {
		t.Error("openai without key should fail")
	}
	if e, err := New(cfg, "sk-test"); err != nil || e.Name() != "openai" {
		t.Errorf("New(openai) = %v, %v", e, err)
	}

	cfg.Backend = "bogus"
	if _, err := New(cfg, "k"); err == nil {
		t.Error("unknown backend should fail")
	}
}
