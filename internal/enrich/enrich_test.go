package enrich

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"archivist/internal/logger"
)

func init() {
	logger.Discard()
}

func TestHeuristics(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		field string
		want  bool
	}{
		{"code", "Use `import os` then call it:\nimport os", "has_code", true},
		{"arrow", "items.map(x => x * 2)", "has_code", true},
		{"no code", "A quiet page about gardening.", "has_code", false},
		{"equals", "Let E = mc2 hold.", "has_formulas", true},
		{"square", "the area is r² times pi", "has_formulas", true},
		{"hyphen", "a well-known result", "has_formulas", false},
		{"figure", "See Figure 3 for details.", "has_diagram", true},
		{"bullets", "• one\n• two\n• three", "has_list", true},
		{"numbered", "1. one\n2. two\n3. three", "has_list", true},
		{"short list", "1. one\n2. two", "has_list", false},
		{"bracket citation", "as shown before [12].", "has_citations", true},
		{"author year", "as argued (Lamport 1978).", "has_citations", true},
		{"none", "plain prose", "has_citations", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Heuristics(tt.text)[tt.field]; got != tt.want {
				t.Errorf("%s = %v, want %v", tt.field, got, tt.want)
			}
		})
	}
}

func TestKeyTerms(t *testing.T) {
	text := "Replication keeps replicas in sync. Replication lag hurts replicas. " +
		"Leader election picks a leader. The log is the log."
	got := KeyTerms(text)
	want := []string{"replication", "replicas", "leader"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("KeyTerms = %v, want %v", got, want)
	}
	if got := KeyTerms("nothing repeats here"); got == nil || len(got) != 0 {
		t.Errorf("KeyTerms = %#v, want empty list", got)
	}
}

type fakeChat struct {
	content string
	err     error
	req     openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.content}}},
	}, nil
}

const answer = `{"content_type":"theory","domain":"architecture","complexity":"advanced",
"entities":{"companies":["Google"],"technologies":["Raft"]},
"technical_content":{"has_code":true,"programming_languages":["Go"]},
"topics":["consensus"],"problem_statement":null}`

func TestLMExtractorFlattens(t *testing.T) {
	chat := &fakeChat{content: "Here you go:\n" + answer}
	lm := NewLMExtractor(chat, CompletionConfig{MaxTextLength: 10})

	fields, err := lm.Extract(context.Background(), strings.Repeat("x", 50))
	if err != nil {
		t.Fatal(err)
	}
	if fields["domain"] != "architecture" || fields["has_code"] != true {
		t.Errorf("fields = %v", fields)
	}
	if !reflect.DeepEqual(fields["companies"], []any{"Google"}) {
		t.Errorf("companies = %v", fields["companies"])
	}
	if !reflect.DeepEqual(fields["people"], []any{}) {
		t.Errorf("people = %v", fields["people"])
	}
	if fields["has_metrics"] != false {
		t.Errorf("has_metrics = %v", fields["has_metrics"])
	}

	if chat.req.Model != openai.GPT4oMini {
		t.Errorf("model = %s", chat.req.Model)
	}
	if chat.req.ResponseFormat == nil || chat.req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONObject {
		t.Error("JSON response format not requested")
	}
	if !strings.Contains(chat.req.Messages[1].Content, strings.Repeat("x", 10)+"...") ||
		strings.Contains(chat.req.Messages[1].Content, strings.Repeat("x", 11)) {
		t.Error("page text not truncated")
	}
}

func TestLMExtractorErrors(t *testing.T) {
	boom := errors.New("rate limited")
	if _, err := NewLMExtractor(&fakeChat{err: boom}, CompletionConfig{}).Extract(context.Background(), "text"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if _, err := NewLMExtractor(&fakeChat{content: "no json"}, CompletionConfig{}).Extract(context.Background(), "text"); err == nil {
		t.Error("expected parse error")
	}
}

type fakeLM struct {
	fields map[string]any
	err    error
}

func (f fakeLM) Extract(context.Context, string) (map[string]any, error) {
	return f.fields, f.err
}

func TestExtractorMergesLM(t *testing.T) {
	text := "See Figure 1. Consensus and consensus again."

	fields := NewExtractor(nil).Extract(context.Background(), text)
	if fields["extraction_method"] != MethodHeuristic || fields["has_diagram"] != true {
		t.Errorf("heuristic fields = %v", fields)
	}

	lm := fakeLM{fields: map[string]any{"has_diagram": false, "domain": "other"}}
	fields = NewExtractor(lm).Extract(context.Background(), text)
	if fields["extraction_method"] != MethodLM || fields["has_diagram"] != false || fields["domain"] != "other" {
		t.Errorf("merged fields = %v", fields)
	}
	if _, ok := fields["key_terms"]; !ok {
		t.Error("heuristic key_terms dropped")
	}

	failing := fakeLM{err: errors.New("down")}
	fields = NewExtractor(failing).Extract(context.Background(), text)
	if fields["extraction_method"] != MethodHeuristic {
		t.Errorf("fallback method = %v", fields["extraction_method"])
	}
}
