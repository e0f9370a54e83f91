package generator

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAILLM implements LLMClient and Embedder using the official openai-go SDK
// (chat completions and embeddings). Any OpenAI-compatible endpoint works via BaseURL.
type OpenAILLM struct {
	Model          string
	EmbeddingModel string
	Opts           []option.RequestOption
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if cfg.Model == "" && cfg.EmbeddingModel == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{Model: cfg.Model, EmbeddingModel: cfg.EmbeddingModel, Opts: opts}, nil
}

func (o *OpenAILLM) Complete(ctx context.Context, prompt Prompt) (Completion, error) {
	client := openai.NewClient(o.Opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	for _, h := range prompt.History {
		switch h.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	if len(prompt.Images) == 0 {
		msgs = append(msgs, openai.UserMessage(prompt.User))
	} else {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(prompt.User)}
		for _, img := range prompt.Images {
			url, err := imageDataURL(img)
			if err != nil {
				return Completion{}, err
			}
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
		}
		msgs = append(msgs, openai.UserMessage(parts))
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.Model),
		Messages: msgs,
	})
	if err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("openai: empty choices")
	}
	return Completion{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (o *OpenAILLM) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if o.EmbeddingModel == "" {
		return nil, errors.New("openai: embedding model not configured")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	client := openai.NewClient(o.Opts...)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.EmbeddingModel),
	})
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
