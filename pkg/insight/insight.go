// Package insight enriches new journal entries with a one-line summary,
// tags, an entry type and a priority produced by a Gemini text model.
package insight

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-journal/pkg/core"
	"github.com/vango-go/vai-journal/pkg/journal"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Entry types and priorities the model may choose from.
var (
	Types      = []string{"note", "task", "event", "idea"}
	Priorities = []string{"low", "medium", "high"}
)

// Insight is the structured enrichment for one entry.
type Insight struct {
	Summary  string   `json:"summary"`
	Tags     []string `json:"tags"`
	Type     string   `json:"type"`
	Priority string   `json:"priority"`
}

// Apply copies the insight onto e. Fields the entry already has are kept.
func (in Insight) Apply(e journal.Entry) journal.Entry {
	if e.Summary == "" {
		e.Summary = in.Summary
	}
	if e.Tags == "" && len(in.Tags) > 0 {
		e.Tags = strings.Join(in.Tags, ", ")
	}
	if e.Type == "" {
		e.Type = in.Type
	}
	if e.Priority == "" {
		e.Priority = in.Priority
	}
	return e
}

// generator is the slice of *genai.Models the summarizer uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Summarizer calls GenerateContent with a JSON response schema.
type Summarizer struct {
	models generator
	model  string
	logger *slog.Logger
}

// New creates a Summarizer backed by the Gemini API.
func New(ctx context.Context, apiKey, model string, logger *slog.Logger) (*Summarizer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, core.NewPreconditionError("a Gemini API key is required for entry insights")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, core.NewTransportError("create genai client", err)
	}
	return newSummarizer(client.Models, model, logger), nil
}

func newSummarizer(models generator, model string, logger *slog.Logger) *Summarizer {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{models: models, model: model, logger: logger}
}

const instruction = `You file entries in a personal journal. Given one entry, reply with:
- summary: at most 12 words
- tags: 1 to 4 short lowercase tags
- type: one of note, task, event, idea
- priority: one of low, medium, high (use low unless the entry is urgent or important)`

// Summarize returns the insight for text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (Insight, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Insight{}, core.NewInvalidRequestErrorWithParam("entry text is required", "text")
	}

	resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(),
	})
	if err != nil {
		return Insight{}, core.NewTransportError("generate entry insight", err)
	}
	if resp == nil {
		return Insight{}, core.NewTransportError("generate entry insight: empty response", nil)
	}
	raw := strings.TrimSpace(resp.Text())
	if raw == "" {
		return Insight{}, core.NewTransportError("generate entry insight: empty response", nil)
	}

	var in Insight
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		s.logger.Debug("insight: undecodable response", "model", s.model, "response", raw)
		return Insight{}, core.NewTransportError("decode entry insight", err)
	}
	return in.normalize(), nil
}

func (in Insight) normalize() Insight {
	in.Summary = strings.TrimSpace(in.Summary)
	tags := in.Tags[:0]
	seen := make(map[string]bool, len(in.Tags))
	for _, t := range in.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	in.Tags = tags
	in.Type = oneOf(in.Type, Types, "note")
	in.Priority = oneOf(in.Priority, Priorities, "low")
	return in
}

func oneOf(v string, allowed []string, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary":  {Type: genai.TypeString},
			"tags":     {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}},
			"type":     {Type: genai.TypeString, Enum: Types},
			"priority": {Type: genai.TypeString, Enum: Priorities},
		},
		Required:         []string{"summary", "tags", "type", "priority"},
		PropertyOrdering: []string{"summary", "tags", "type", "priority"},
	}
}
