package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"archivist/internal/logger"
)

// ErrNoChoices is returned when the chat model answers without a choice.
var ErrNoChoices = errors.New("no response choices from model")

// ChatCompleter is the part of the go-openai client used here.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// CompletionConfig configures LM field extraction.
type CompletionConfig struct {
	Model         string
	Temperature   float32
	Timeout       time.Duration
	MaxTextLength int
	MaxTokens     int
}

// LMExtractor asks a chat model for structured page metadata.
type LMExtractor struct {
	client ChatCompleter
	config CompletionConfig
	log    zerolog.Logger
}

// NewOpenAIExtractor creates an extractor backed by the OpenAI API.
func NewOpenAIExtractor(apiKey string, cfg CompletionConfig) *LMExtractor {
	return NewLMExtractor(openai.NewClient(apiKey), cfg)
}

// NewLMExtractor creates an extractor with an explicit client.
func NewLMExtractor(client ChatCompleter, cfg CompletionConfig) *LMExtractor {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 4000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.1
	}
	return &LMExtractor{
		client: client,
		config: cfg,
		log:    logger.WithComponent("lm-fields"),
	}
}

// Extract returns the flattened model answer for one page.
func (e *LMExtractor) Extract(ctx context.Context, text string) (map[string]any, error) {
	const op = "LMExtractor.Extract"

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	if r := []rune(text); len(r) > e.config.MaxTextLength {
		text = string(r[:e.config.MaxTextLength]) + "..."
	}

	e.log.Debug().
		Str("model", e.config.Model).
		Int("text_length", len(text)).
		Msg("Sending field extraction request")

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.config.Model,
		Temperature: e.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(userPrompt, text)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: e.config.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoChoices)
	}

	raw, err := parseJSONObject(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return Flatten(raw), nil
}

// parseJSONObject decodes the first JSON object in s, tolerating prose or
// code fences around it.
func parseJSONObject(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out, nil
	}
	start := strings.Index(s, "{")
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in model response")
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return out, nil
}

// Flatten lifts the nested answer into flat card fields. Missing lists
// become empty lists and missing flags false.
func Flatten(data map[string]any) map[string]any {
	entities := object(data["entities"])
	technical := object(data["technical_content"])
	actionable := object(data["actionable_content"])
	business := object(data["business_content"])

	return map[string]any{
		"content_type": data["content_type"],
		"domain":       data["domain"],
		"complexity":   data["complexity"],

		"companies":     list(entities["companies"]),
		"people":        list(entities["people"]),
		"products":      list(entities["products"]),
		"technologies":  list(entities["technologies"]),
		"frameworks":    list(entities["frameworks"]),
		"methodologies": list(entities["methodologies"]),

		"has_code":              flag(technical["has_code"]),
		"programming_languages": list(technical["programming_languages"]),
		"has_formulas":          flag(technical["has_formulas"]),
		"has_diagram":           flag(technical["has_diagram"]),

		"has_best_practices": flag(actionable["has_best_practices"]),
		"has_antipatterns":   flag(actionable["has_antipatterns"]),
		"has_instructions":   flag(actionable["has_instructions"]),

		"has_metrics":        flag(business["has_metrics"]),
		"metrics":            list(business["metrics"]),
		"has_case_study":     flag(business["has_case_study"]),
		"case_study_company": business["case_study_company"],

		"tools_mentioned":   list(data["tools_mentioned"]),
		"topics":            list(data["topics"]),
		"key_concepts":      list(data["key_concepts"]),
		"problem_statement": data["problem_statement"],
		"solution_approach": data["solution_approach"],
	}
}

func object(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func list(v any) []any {
	if l, ok := v.([]any); ok {
		return l
	}
	return []any{}
}

func flag(v any) bool {
	b, _ := v.(bool)
	return b
}

const systemPrompt = `You analyse pages of technical and business books and answer with a single JSON object. Never add explanations.`

const userPrompt = `Page text:
%s

Return a JSON object with this shape:
{
  "content_type": "theory|practice|case_study|reference|tutorial|review",
  "domain": "devops|architecture|management|security|data_science|programming|other",
  "complexity": "beginner|intermediate|advanced|expert",
  "entities": {
    "companies": [], "people": [], "products": [],
    "technologies": [], "frameworks": [], "methodologies": []
  },
  "technical_content": {
    "has_code": false, "programming_languages": [],
    "has_formulas": false, "has_diagram": false
  },
  "actionable_content": {
    "has_best_practices": false, "has_antipatterns": false, "has_instructions": false
  },
  "business_content": {
    "has_metrics": false, "metrics": [],
    "has_case_study": false, "case_study_company": null
  },
  "tools_mentioned": [],
  "topics": ["3-5 main topics"],
  "key_concepts": [],
  "problem_statement": null,
  "solution_approach": null
}`
