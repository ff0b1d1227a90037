package flashcard

import (
	"context"
	"fmt"
	"strings"

	"knowte-api/internal/apperr"
	"knowte-api/internal/llm"
	"knowte-api/internal/metrics"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tidwall/gjson"
)

const (
	maxSourceChars = 12000
	maxQuestion    = 200
	maxAnswer      = 300

	systemPrompt = "You are Knowte AI. Create concise study flashcards from the source text. " +
		"Return JSON only with this exact structure: " +
		`{"flashcards":[{"question":"...","answer":"..."}]}. ` +
		"Do not include markdown or any extra keys."
)

// TextSource provides a document's extracted text.
type TextSource interface {
	ExtractedText(key string) (string, error)
}

type Request struct {
	DocumentID string `json:"document_id"`
	Prompt     string `json:"prompt"`
	Count      int    `json:"count"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DocumentID, validation.Required),
		validation.Field(&r.Prompt, validation.Required, validation.RuneLength(1, 4096)),
		validation.Field(&r.Count, validation.Min(3), validation.Max(30)),
	)
}

type Card struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type Deck struct {
	DocumentID string `json:"document_id"`
	Prompt     string `json:"prompt"`
	Flashcards []Card `json:"flashcards"`
	Model      string `json:"model"`
}

// Generator builds flashcard decks from uploaded documents with one
// non-streamed backend call.
type Generator struct {
	docs    TextSource
	backend llm.Backend
	model   string
}

func NewGenerator(docs TextSource, backend llm.Backend, model string) *Generator {
	return &Generator{docs: docs, backend: backend, model: model}
}

func (g *Generator) Generate(ctx context.Context, req Request) (Deck, error) {
	if req.Count == 0 {
		req.Count = 12
	}
	if err := req.Validate(); err != nil {
		return Deck{}, apperr.InvalidInput("%s", err.Error())
	}

	text, err := g.docs.ExtractedText(req.DocumentID)
	if err != nil {
		return Deck{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Deck{}, apperr.InvalidInput("Document has no extracted text to generate flashcards from.")
	}

	user := fmt.Sprintf("Instructions: %s\nCreate exactly %d flashcards.\n"+
		"Question should be clear and answer should be direct.\n\nSource text:\n%s",
		req.Prompt, req.Count, clip(text, maxSourceChars))

	raw, err := g.backend.ChatOnce(ctx, g.model, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: user},
	})
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("flashcards").Inc()
		return Deck{}, llm.Upstream(err)
	}

	cards, err := parseCards(raw, req.Count)
	if err != nil {
		return Deck{}, err
	}
	return Deck{DocumentID: req.DocumentID, Prompt: req.Prompt, Flashcards: cards, Model: g.model}, nil
}

// parseCards reads {"flashcards":[...]} from a model reply, tolerating text
// around the JSON object.
func parseCards(raw string, limit int) ([]Card, error) {
	doc := extractObject(raw)
	list := gjson.Get(doc, "flashcards")
	if !list.IsArray() {
		return nil, apperr.New(apperr.KindUpstream, "Model response did not contain a valid flashcards array.")
	}

	var cards []Card
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		q := strings.TrimSpace(item.Get("question").String())
		a := strings.TrimSpace(item.Get("answer").String())
		if q == "" || a == "" {
			return true
		}
		cards = append(cards, Card{Question: clip(q, maxQuestion), Answer: clip(a, maxAnswer)})
		return len(cards) < limit
	})
	if len(cards) == 0 {
		return nil, apperr.New(apperr.KindUpstream, "No valid flashcards were generated.")
	}
	return cards, nil
}

func extractObject(raw string) string {
	text := strings.TrimSpace(raw)
	if gjson.Valid(text) {
		return text
	}
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end <= start {
		return ""
	}
	if candidate := text[start : end+1]; gjson.Valid(candidate) {
		return candidate
	}
	return ""
}

func clip(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
