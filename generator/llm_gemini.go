package generator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"google.golang.org/genai"
)

// GeminiLLM implements LLMClient and Embedder on top of the Gemini API.
type GeminiLLM struct {
	cli            *genai.Client
	model          string
	embeddingModel string
}

func NewGeminiLLMFromConfig(ctx context.Context, cfg *LLMSettings) (*GeminiLLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key missing; provide llm.api_key")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiLLM{cli: cli, model: cfg.Model, embeddingModel: cfg.EmbeddingModel}, nil
}

func (g *GeminiLLM) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	var contents []*genai.Content
	for _, h := range prompt.History {
		role := "user"
		if h.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{{Text: h.Content}}})
	}

	parts := []*genai.Part{{Text: prompt.User}}
	for _, img := range prompt.Images {
		data, err := os.ReadFile(img)
		if err != nil {
			return Completion{}, fmt.Errorf("read image %s: %w", img, err)
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: http.DetectContentType(data)}})
	}
	contents = append(contents, &genai.Content{Role: "user", Parts: parts})

	cfg := &genai.GenerateContentConfig{}
	if prompt.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: prompt.System}}}
	}
	if prompt.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return Completion{}, errors.New("gemini: empty response")
	}
	var out Completion
	for _, p := range resp.Candidates[0].Content.Parts {
		out.Text += p.Text
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int64(u.PromptTokenCount),
			CompletionTokens: int64(u.CandidatesTokenCount),
		}
	}
	return out, nil
}

func (g *GeminiLLM) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if g.embeddingModel == "" {
		return nil, errors.New("gemini: embedding model not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: t}}})
	}
	resp, err := g.cli.Models.EmbedContent(ctx, g.embeddingModel, contents, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}
	out := make([][]float64, len(texts))
	for i, e := range resp.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}
