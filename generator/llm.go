package generator

import (
	"context"
	"errors"
	"fmt"
)

// LLMClient abstracts a chat model so it can be swapped or mocked.
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
}

// Embedder turns texts into vectors, one per input in the same order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Completion is a model answer plus its token cost.
type Completion struct {
	Text  string
	Usage Usage
}

type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// LLMSettings is the provider-agnostic configuration handed to concrete clients.
type LLMSettings struct {
	Provider       string
	Model          string
	EmbeddingModel string
	APIKey         string
	BaseURL        string
}

const (
	ModelLanguage = "language"
	ModelVision   = "vision"
)

// Models carries the model handles used by a generation run.
type Models struct {
	Language LLMClient
	Vision   LLMClient
	Embedder Embedder
}

// Resolve applies the startup fallbacks: a missing vision model is served by
// the language model.
func (m Models) Resolve() (Models, error) {
	if m.Language == nil {
		return Models{}, errors.New("language model is required")
	}
	if m.Vision == nil {
		m.Vision = m.Language
	}
	return m, nil
}

// For returns the client bound to a role's use_model value.
func (m Models) For(use string) (LLMClient, error) {
	switch use {
	case "", ModelLanguage:
		if m.Language == nil {
			return nil, errors.New("language model not configured")
		}
		return m.Language, nil
	case ModelVision:
		if m.Vision == nil {
			return nil, errors.New("vision model not configured")
		}
		return m.Vision, nil
	default:
		return nil, fmt.Errorf("unknown model kind %q", use)
	}
}
