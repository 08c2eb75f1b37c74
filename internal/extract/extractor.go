// Package extract turns free-text model output into summaries, typed entities
// and key points. Malformed or missing output degrades to empty results.
package extract

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/mindgraph/internal/llm"
	"go.uber.org/zap"
)

const (
	SummaryInputChars  = 6000
	EntityInputChars   = 4000
	KeyPointInputChars = 4000

	MaxEntities  = 20
	MaxKeyPoints = 10
)

// EntityType classifies an extracted entity.
type EntityType string

const (
	EntityTypeConcept EntityType = "concept"
	EntityTypeEntity  EntityType = "entity"
	EntityTypeIdea    EntityType = "idea"
)

// ParseEntityType maps a model-supplied type to a known EntityType, defaulting
// to EntityTypeEntity.
func ParseEntityType(s string) EntityType {
	switch EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case EntityTypeConcept:
		return EntityTypeConcept
	case EntityTypeIdea:
		return EntityTypeIdea
	default:
		return EntityTypeEntity
	}
}

// TypedEntity is a named concept, entity or idea found in a document.
type TypedEntity struct {
	Name string     `json:"name"`
	Type EntityType `json:"type"`
}

// Completer is the subset of the completion gateway used by extractors.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

const (
	summaryPrompt = "You summarize documents. Write a concise summary of the user's text in 2-4 sentences. " +
		"Respond with the summary only."
	entityPrompt = "You extract key concepts, named entities and ideas from text. " +
		"Respond ONLY with a JSON array of objects shaped {\"name\": string, \"type\": \"concept\"|\"entity\"|\"idea\"}. " +
		"Return at most 20 items and no prose."
	keyPointPrompt = "You extract the key points of a text. " +
		"Respond ONLY with a JSON array of short strings, at most 10 items, and no prose."
)

// Extractor runs the structured extraction prompts against a Completer.
type Extractor struct {
	llm    Completer
	logger *zap.Logger
}

// New returns an Extractor. A nil logger disables logging.
func New(c Completer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{llm: c, logger: logger}
}

// Summarize returns a short summary of the first SummaryInputChars of text.
// Gateway failures are returned to the caller.
func (e *Extractor) Summarize(ctx context.Context, text string) (string, error) {
	out, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    prompt(summaryPrompt, Truncate(text, SummaryInputChars)),
		MaxTokens:   300,
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	return StripFences(out), nil
}

// ExtractTypedEntities returns up to MaxEntities entities from the first
// EntityInputChars of text. Any failure yields an empty list.
func (e *Extractor) ExtractTypedEntities(ctx context.Context, text string) []TypedEntity {
	out, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    prompt(entityPrompt, Truncate(text, EntityInputChars)),
		MaxTokens:   1000,
		Temperature: 0.1,
	})
	if err != nil {
		e.logger.Debug("entity extraction failed", zap.Error(err))
		return []TypedEntity{}
	}
	res := DecodeTypedEntities(out)
	if !res.OK() {
		e.logger.Debug("entity output rejected", zap.String("reason", res.Reason))
		return []TypedEntity{}
	}
	return res.Value
}

// ExtractKeyPoints returns up to MaxKeyPoints key points from the first
// KeyPointInputChars of text. Any failure yields an empty list.
func (e *Extractor) ExtractKeyPoints(ctx context.Context, text string) []string {
	out, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    prompt(keyPointPrompt, Truncate(text, KeyPointInputChars)),
		MaxTokens:   600,
		Temperature: 0.2,
	})
	if err != nil {
		e.logger.Debug("key point extraction failed", zap.Error(err))
		return []string{}
	}
	res := DecodeStringList(out, MaxKeyPoints)
	if !res.OK() {
		e.logger.Debug("key point output rejected", zap.String("reason", res.Reason))
		return []string{}
	}
	return res.Value
}

func prompt(system, user string) []llm.ChatMessage {
	return []llm.ChatMessage{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
